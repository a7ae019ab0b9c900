package encoder

import (
	"encoding/binary"
)

// SoftwareCodec is a dependency-free stand-in for the libavcodec/libswscale
// pipeline the original agent drove through FFmpeg (ultrafast H.264,
// YUV 4:2:0, GOP 10, 1 B-frame). No pure-Go or cgo-free binding for that
// stack was found anywhere in the retrieved corpus, so this backend keeps
// every other contract the pipeline depends on — reconfigure-on-size-
// change, BGRA→YUV 4:2:0 conversion, monotonic PTS framing — but emits the
// converted planes under a small header instead of real entropy-coded
// NAL units. It is the Codec a production build swaps out for a real
// encoder; tests exercise the pipeline against it directly since its
// output is fully deterministic.
type SoftwareCodec struct {
	size    Size
	bitrate int
}

// NewSoftwareCodec creates an unconfigured codec; Reconfigure must be
// called (the pipeline always does so before the first Encode).
func NewSoftwareCodec() *SoftwareCodec {
	return &SoftwareCodec{}
}

// Reconfigure adopts a new target size and recomputes the bitrate target.
// Mirrors tearing down and reallocating the codec context, frame buffer,
// and sws scaling context on a size change (spec §4.5 step 2) — here that
// is simply recomputing the parameters used by the next Encode.
func (c *SoftwareCodec) Reconfigure(size Size) error {
	c.size = size
	c.bitrate = size.BitrateTarget()
	return nil
}

// packetHeaderSize is width(4) + height(4) + pts(8) + bitrateHint(4).
const packetHeaderSize = 20

// Encode scales frame to the configured size (nearest-neighbor, keeping
// the BGRA source free of external scaling libraries) and converts it to
// planar YUV 4:2:0, matching the original's swscale step, then frames the
// result with a small header carrying the fields a real decoder would
// need out-of-band (dimensions, PTS, bitrate hint).
func (c *SoftwareCodec) Encode(frame *CapturedFrame, pts int64) ([]byte, error) {
	if c.size.Width == 0 || c.size.Height == 0 {
		return nil, ErrNeedMoreInput
	}
	yuv := bgraToYUV420(scaleNearest(frame, c.size), c.size)

	out := make([]byte, packetHeaderSize+len(yuv))
	binary.BigEndian.PutUint32(out[0:4], uint32(c.size.Width))
	binary.BigEndian.PutUint32(out[4:8], uint32(c.size.Height))
	binary.BigEndian.PutUint64(out[8:16], uint64(pts))
	binary.BigEndian.PutUint32(out[16:20], uint32(c.bitrate))
	copy(out[packetHeaderSize:], yuv)
	return out, nil
}

// Close releases codec resources. The software codec holds none beyond Go
// heap memory, so this is a no-op.
func (c *SoftwareCodec) Close() {}

// scaleNearest resizes src to size using nearest-neighbor sampling, with
// each axis stretched independently to fill size. The source aspect ratio
// is not preserved when it differs from size's, and no smoothing or
// filtering is applied.
func scaleNearest(src *CapturedFrame, size Size) *CapturedFrame {
	if src.Width == size.Width && src.Height == size.Height {
		return src
	}
	dst := &CapturedFrame{Width: size.Width, Height: size.Height, Pix: make([]byte, size.Width*size.Height*4)}
	for y := 0; y < size.Height; y++ {
		srcY := y * src.Height / size.Height
		for x := 0; x < size.Width; x++ {
			srcX := x * src.Width / size.Width
			srcOff := (srcY*src.Width + srcX) * 4
			dstOff := (y*size.Width + x) * 4
			copy(dst.Pix[dstOff:dstOff+4], src.Pix[srcOff:srcOff+4])
		}
	}
	return dst
}

// bgraToYUV420 converts a BGRA frame to planar YUV 4:2:0 using the
// standard BT.601 coefficients, chroma-subsampled 2x2.
func bgraToYUV420(src *CapturedFrame, size Size) []byte {
	w, h := size.Width, size.Height
	ySize := w * h
	cSize := (w / 2) * (h / 2)
	out := make([]byte, ySize+2*cSize)
	yPlane := out[:ySize]
	uPlane := out[ySize : ySize+cSize]
	vPlane := out[ySize+cSize:]

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			off := (row*w + col) * 4
			b, g, r := int(src.Pix[off]), int(src.Pix[off+1]), int(src.Pix[off+2])
			yPlane[row*w+col] = byte(clamp((77*r+150*g+29*b)>>8, 0, 255))
		}
	}
	for cy := 0; cy < h/2; cy++ {
		for cx := 0; cx < w/2; cx++ {
			row, col := cy*2, cx*2
			off := (row*w + col) * 4
			b, g, r := int(src.Pix[off]), int(src.Pix[off+1]), int(src.Pix[off+2])
			u := clamp((-43*r-85*g+128*b)>>8+128, 0, 255)
			v := clamp((128*r-107*g-21*b)>>8+128, 0, 255)
			uPlane[cy*(w/2)+cx] = byte(u)
			vPlane[cy*(w/2)+cx] = byte(v)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
