package encoder

import (
	"encoding/binary"
	"testing"
)

func TestSoftwareCodecEncodeHeaderFields(t *testing.T) {
	c := NewSoftwareCodec()
	size := Size{Width: 4, Height: 4}
	if err := c.Reconfigure(size); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	frame := &CapturedFrame{Width: 4, Height: 4, Pix: make([]byte, 4*4*4)}
	packet, err := c.Encode(frame, 42)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(packet) < packetHeaderSize {
		t.Fatalf("packet too short: %d bytes", len(packet))
	}

	gotWidth := binary.BigEndian.Uint32(packet[0:4])
	gotHeight := binary.BigEndian.Uint32(packet[4:8])
	gotPTS := binary.BigEndian.Uint64(packet[8:16])
	if gotWidth != 4 || gotHeight != 4 {
		t.Fatalf("unexpected dimensions in header: %dx%d", gotWidth, gotHeight)
	}
	if gotPTS != 42 {
		t.Fatalf("PTS = %d, want 42", gotPTS)
	}

	wantYUVLen := 4*4 + 2*(2*2)
	if len(packet)-packetHeaderSize != wantYUVLen {
		t.Fatalf("YUV payload length = %d, want %d", len(packet)-packetHeaderSize, wantYUVLen)
	}
}

func TestSoftwareCodecBeforeReconfigureReturnsNeedMoreInput(t *testing.T) {
	c := NewSoftwareCodec()
	_, err := c.Encode(&CapturedFrame{Width: 4, Height: 4, Pix: make([]byte, 64)}, 1)
	if err != ErrNeedMoreInput {
		t.Fatalf("expected ErrNeedMoreInput before Reconfigure, got %v", err)
	}
}

func TestScaleNearestPreservesSolidColor(t *testing.T) {
	src := &CapturedFrame{Width: 2, Height: 2, Pix: []byte{
		10, 20, 30, 255, 10, 20, 30, 255,
		10, 20, 30, 255, 10, 20, 30, 255,
	}}
	dst := scaleNearest(src, Size{Width: 4, Height: 4})
	if dst.Width != 4 || dst.Height != 4 {
		t.Fatalf("unexpected scaled size: %dx%d", dst.Width, dst.Height)
	}
	for i := 0; i < len(dst.Pix); i += 4 {
		if dst.Pix[i] != 10 || dst.Pix[i+1] != 20 || dst.Pix[i+2] != 30 {
			t.Fatalf("pixel %d not preserved: %v", i/4, dst.Pix[i:i+4])
		}
	}
}
