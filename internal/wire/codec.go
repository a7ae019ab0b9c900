package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// tag identifies the Message variant on the wire. Values are stable across
// versions; never renumber an existing tag.
type tag byte

const (
	tagRegisterPeer tag = iota + 1
	tagRegisterPeerResponse
	tagPunchHole
	tagPunchHoleSent
	tagRequestRelay
	tagVideoFrame
	tagClipboardEvent
	tagInputControlEvent
	tagHeartbeat
)

// Encode serializes a Message to its wire representation. It does not
// length-prefix the result; callers frame it via WriteFrame.
func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	switch {
	case m.RegisterPeer != nil:
		buf.WriteByte(byte(tagRegisterPeer))
		writeString(&buf, m.RegisterPeer.UUID)
	case m.RegisterPeerResponse != nil:
		buf.WriteByte(byte(tagRegisterPeerResponse))
		writeInt32(&buf, int32(m.RegisterPeerResponse.Result))
	case m.PunchHole != nil:
		buf.WriteByte(byte(tagPunchHole))
		writeUint32(&buf, m.PunchHole.ID)
	case m.PunchHoleSent != nil:
		p := m.PunchHoleSent
		buf.WriteByte(byte(tagPunchHoleSent))
		writeUint32(&buf, p.ID)
		writeString(&buf, p.RelayServer)
		writeUint32(&buf, uint32(p.RelayPort))
		writeInt32(&buf, int32(p.Result))
	case m.RequestRelay != nil:
		r := m.RequestRelay
		buf.WriteByte(byte(tagRequestRelay))
		writeString(&buf, r.UUID)
		writeInt32(&buf, int32(r.Role))
	case m.VideoFrame != nil:
		buf.WriteByte(byte(tagVideoFrame))
		writeBytes(&buf, m.VideoFrame.Data)
	case m.ClipboardEvent != nil:
		c := m.ClipboardEvent
		buf.WriteByte(byte(tagClipboardEvent))
		if c.IsFile {
			buf.WriteByte(1)
			writeString(&buf, c.FileName)
			writeBytes(&buf, c.FileData)
		} else {
			buf.WriteByte(0)
			writeString(&buf, c.Text)
		}
	case m.InputControlEvent != nil:
		buf.WriteByte(byte(tagInputControlEvent))
		if err := encodeInputControlEvent(&buf, m.InputControlEvent); err != nil {
			return nil, err
		}
	case m.Heartbeat != nil:
		buf.WriteByte(byte(tagHeartbeat))
	}
	return buf.Bytes(), nil
}

func encodeInputControlEvent(buf *bytes.Buffer, e *InputControlEvent) error {
	switch {
	case e.Mouse != nil:
		buf.WriteByte(1)
		writeInt32(buf, e.Mouse.X)
		writeInt32(buf, e.Mouse.Y)
		writeUint32(buf, uint32(e.Mouse.Mask))
		writeInt32(buf, e.Mouse.Value)
	case e.Touch != nil:
		buf.WriteByte(2)
		writeInt64(buf, e.Touch.Timestamp)
		writeUint32(buf, uint32(len(e.Touch.Points)))
		for _, p := range e.Touch.Points {
			writeInt32(buf, p.ID)
			writeInt32(buf, p.X)
			writeInt32(buf, p.Y)
			writeInt32(buf, int32(p.Phase))
			writeInt32(buf, p.Pressure)
			writeInt32(buf, p.Size)
		}
	case e.Key != nil:
		buf.WriteByte(3)
		writeInt32(buf, e.Key.Key)
		if e.Key.Pressed {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	default:
		return fmt.Errorf("wire: InputControlEvent has no variant set")
	}
	return nil
}

// Decode parses a single frame payload (without its length prefix) into a
// Message. It returns a descriptive error on malformed input. ReadMessage
// passes that error through unchanged, so its callers cannot tell it apart
// from an I/O error: the relay session and rendezvous read loops treat a
// malformed frame as a lost connection rather than skipping it.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, fmt.Errorf("wire: empty frame")
	}
	r := bytes.NewReader(data[1:])
	switch tag(data[0]) {
	case tagRegisterPeer:
		uuid, err := readString(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: RegisterPeer: %w", err)
		}
		return Message{RegisterPeer: &RegisterPeer{UUID: uuid}}, nil

	case tagRegisterPeerResponse:
		result, err := readInt32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: RegisterPeerResponse: %w", err)
		}
		return Message{RegisterPeerResponse: &RegisterPeerResponse{Result: Result(result)}}, nil

	case tagPunchHole:
		id, err := readUint32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: PunchHole: %w", err)
		}
		return Message{PunchHole: &PunchHole{ID: id}}, nil

	case tagPunchHoleSent:
		id, err := readUint32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: PunchHoleSent: %w", err)
		}
		server, err := readString(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: PunchHoleSent: %w", err)
		}
		port, err := readUint32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: PunchHoleSent: %w", err)
		}
		result, err := readInt32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: PunchHoleSent: %w", err)
		}
		return Message{PunchHoleSent: &PunchHoleSent{
			ID: id, RelayServer: server, RelayPort: uint16(port), Result: Result(result),
		}}, nil

	case tagRequestRelay:
		uuid, err := readString(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: RequestRelay: %w", err)
		}
		role, err := readInt32(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: RequestRelay: %w", err)
		}
		return Message{RequestRelay: &RequestRelay{UUID: uuid, Role: DeskRole(role)}}, nil

	case tagVideoFrame:
		data, err := readBytes(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: VideoFrame: %w", err)
		}
		return Message{VideoFrame: &VideoFrame{Data: data}}, nil

	case tagClipboardEvent:
		isFile, err := r.ReadByte()
		if err != nil {
			return Message{}, fmt.Errorf("wire: ClipboardEvent: %w", err)
		}
		if isFile == 1 {
			name, err := readString(r)
			if err != nil {
				return Message{}, fmt.Errorf("wire: ClipboardEvent: %w", err)
			}
			data, err := readBytes(r)
			if err != nil {
				return Message{}, fmt.Errorf("wire: ClipboardEvent: %w", err)
			}
			return Message{ClipboardEvent: &ClipboardEvent{IsFile: true, FileName: name, FileData: data}}, nil
		}
		text, err := readString(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: ClipboardEvent: %w", err)
		}
		return Message{ClipboardEvent: &ClipboardEvent{Text: text}}, nil

	case tagInputControlEvent:
		event, err := decodeInputControlEvent(r)
		if err != nil {
			return Message{}, fmt.Errorf("wire: InputControlEvent: %w", err)
		}
		return Message{InputControlEvent: event}, nil

	case tagHeartbeat:
		return Message{Heartbeat: &Heartbeat{}}, nil

	default:
		return Message{}, fmt.Errorf("wire: unknown tag %d", data[0])
	}
}

func decodeInputControlEvent(r *bytes.Reader) (*InputControlEvent, error) {
	variant, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch variant {
	case 1:
		x, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		y, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		mask, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		value, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		return &InputControlEvent{Mouse: &MouseEvent{X: x, Y: y, Mask: MouseMask(mask), Value: value}}, nil
	case 2:
		ts, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		points := make([]TouchPoint, 0, n)
		for i := uint32(0); i < n; i++ {
			id, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			x, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			y, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			phase, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			pressure, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			size, err := readInt32(r)
			if err != nil {
				return nil, err
			}
			points = append(points, TouchPoint{ID: id, X: x, Y: y, Phase: TouchPhase(phase), Pressure: pressure, Size: size})
		}
		return &InputControlEvent{Touch: &TouchEvent{Timestamp: ts, Points: points}}, nil
	case 3:
		key, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		pressed, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return &InputControlEvent{Key: &KeyboardEvent{Key: key, Pressed: pressed == 1}}, nil
	default:
		return nil, fmt.Errorf("unknown InputControlEvent variant %d", variant)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt32(buf *bytes.Buffer, v int32) { writeUint32(buf, uint32(v)) }

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
