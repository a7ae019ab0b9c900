// Package wire implements the length-prefixed frame protocol shared by
// every TCP and UDP channel the agent speaks: rendezvous registration,
// relay media/input, and relay heartbeats.
package wire

import "fmt"

// Result mirrors the rendezvous/relay result codes carried on the wire.
type Result int32

const (
	ResultOK             Result = 0
	ResultInnerError     Result = 1
	ResultRelayOffline   Result = 2
)

// DeskRole distinguishes which side of a relay session a peer plays.
type DeskRole int32

const (
	RoleServer DeskRole = 0
	RoleClient DeskRole = 1
)

// MouseMask is a bitfield of pending button/wheel actions on a MouseEvent.
type MouseMask uint32

const (
	MouseMove MouseMask = 1 << iota
	MouseLeftDown
	MouseLeftUp
	MouseDoubleClick
	MouseRightClick
	MouseMiddleClick
	MouseWheel
)

// TouchPhase is the lifecycle state of one touch contact.
type TouchPhase int32

const (
	TouchBegin TouchPhase = iota
	TouchMove
	TouchEnd
	TouchCancel
)

type RegisterPeer struct {
	UUID string
}

type RegisterPeerResponse struct {
	Result Result
}

type PunchHole struct {
	ID uint32
}

type PunchHoleSent struct {
	ID          uint32
	RelayServer string
	RelayPort   uint16
	Result      Result
}

type RequestRelay struct {
	UUID string
	Role DeskRole
}

// VideoFrame carries one opaque encoded video packet. The agent never
// inspects or reorders the bytes; the encoder pipeline is the only
// producer.
type VideoFrame struct {
	Data []byte
}

// ClipboardEvent is a tagged union: exactly one of Text or File is set.
type ClipboardEvent struct {
	Text     string
	FileName string
	FileData []byte
	IsFile   bool
}

type MouseEvent struct {
	X, Y  int32
	Mask  MouseMask
	Value int32
}

type TouchPoint struct {
	ID       int32
	X, Y     int32
	Phase    TouchPhase
	Pressure int32
	Size     int32
}

type TouchEvent struct {
	Timestamp int64
	Points    []TouchPoint
}

type KeyboardEvent struct {
	Key     int32
	Pressed bool
}

// InputControlEvent is a tagged union over the three input variants.
type InputControlEvent struct {
	Mouse *MouseEvent
	Touch *TouchEvent
	Key   *KeyboardEvent
}

type Heartbeat struct{}

// Message is the top-level discriminated union carried by every frame.
// Exactly one field is non-nil; Kind reports which.
type Message struct {
	RegisterPeer         *RegisterPeer
	RegisterPeerResponse *RegisterPeerResponse
	PunchHole            *PunchHole
	PunchHoleSent        *PunchHoleSent
	RequestRelay         *RequestRelay
	VideoFrame           *VideoFrame
	ClipboardEvent       *ClipboardEvent
	InputControlEvent    *InputControlEvent
	Heartbeat            *Heartbeat
}

// Kind identifies which variant of Message is populated, for logging and
// dispatch switches.
func (m Message) Kind() string {
	switch {
	case m.RegisterPeer != nil:
		return "RegisterPeer"
	case m.RegisterPeerResponse != nil:
		return "RegisterPeerResponse"
	case m.PunchHole != nil:
		return "PunchHole"
	case m.PunchHoleSent != nil:
		return "PunchHoleSent"
	case m.RequestRelay != nil:
		return "RequestRelay"
	case m.VideoFrame != nil:
		return "VideoFrame"
	case m.ClipboardEvent != nil:
		return "ClipboardEvent"
	case m.InputControlEvent != nil:
		return "InputControlEvent"
	case m.Heartbeat != nil:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

func (m Message) validate() error {
	set := 0
	for _, ok := range []bool{
		m.RegisterPeer != nil,
		m.RegisterPeerResponse != nil,
		m.PunchHole != nil,
		m.PunchHoleSent != nil,
		m.RequestRelay != nil,
		m.VideoFrame != nil,
		m.ClipboardEvent != nil,
		m.InputControlEvent != nil,
		m.Heartbeat != nil,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("wire: message must set exactly one variant, got %d", set)
	}
	return nil
}
