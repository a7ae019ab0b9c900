//go:build windows

package inputsink

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modUser32 = windows.NewLazySystemDLL("user32.dll")

	procGetSystemMetrics  = modUser32.NewProc("GetSystemMetrics")
	procSendInput         = modUser32.NewProc("SendInput")
	procInjectTouchInput  = modUser32.NewProc("InjectTouchInput")
	procInitializeTouch   = modUser32.NewProc("InitializeTouchInjection")
)

const (
	smCXScreen = 0
	smCYScreen = 1

	inputMouse     = 0
	inputKeyboard  = 1
	mouseeventfAbsolute = 0x8000
	mouseeventfMove     = 0x0001
	mouseeventfLeftDown = 0x0002
	mouseeventfLeftUp   = 0x0004
	mouseeventfRightDown = 0x0008
	mouseeventfRightUp   = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfWheel      = 0x0800
	keyeventfKeyUp        = 0x0002

	touchFeedbackDefault = 0x1
	touchMaskContactArea = 0x0004
	touchMaskPressure    = 0x0008
)

// inputRecord mirrors the Win32 INPUT struct: a type tag followed by a
// union of MOUSEINPUT/KEYBDINPUT/HARDWAREINPUT. Go has no native union, so
// the union is modeled as a fixed byte span sized to its largest member
// (MOUSEINPUT, 32 bytes on amd64) and populated by putMouseInput/putKeybdInput.
type inputRecord struct {
	Type  uint32
	_     uint32 // alignment padding before the union on amd64
	union [32]byte
}

func putMouseInput(union *[32]byte, dx, dy int32, mouseData, dwFlags uint32) {
	le := binary.LittleEndian
	le.PutUint32(union[0:4], uint32(dx))
	le.PutUint32(union[4:8], uint32(dy))
	le.PutUint32(union[8:12], mouseData)
	le.PutUint32(union[12:16], dwFlags)
}

func putKeybdInput(union *[32]byte, vk uint16, dwFlags uint32) {
	le := binary.LittleEndian
	le.PutUint16(union[0:2], vk)
	le.PutUint16(union[2:4], 0) // wScan, unused for virtual-key injection
	le.PutUint32(union[4:8], dwFlags)
}

type pointerTouchInfo struct {
	PointerInfo     pointerInfo
	TouchFlags      uint32
	TouchMask       uint32
	ContactArea     rect
	ContactAreaRaw  rect
	Orientation     uint32
	Pressure        uint32
}

type pointerInfo struct {
	PointerType  uint32
	PointerID    uint32
	FrameID      uint32
	PointerFlags uint32
	SourceDevice uintptr
	Hwnd         uintptr
	PtPixelLocation point
	PtHimetricLocation point
	PtPixelLocationRaw point
	PtHimetricLocationRaw point
	Time uint32
	HistoryCount uint32
	InputData int32
	KeyStates uint32
	PerformanceCount uint64
}

type point struct{ X, Y int32 }
type rect struct{ Left, Top, Right, Bottom int32 }

const pointerTypeTouch = 0x00000002

const (
	pointerFlagNone   = 0x00000000
	pointerFlagNew    = 0x00000001
	pointerFlagInRange = 0x00000002
	pointerFlagInContact = 0x00000004
	pointerFlagDown   = 0x00010000
	pointerFlagUpdate = 0x00020000
	pointerFlagUp     = 0x00040000
)

// WinBackend drives mouse, touch, and keyboard injection through raw
// user32 syscalls, the same dependency-free approach GDICapture uses for
// screen capture: only golang.org/x/sys is needed, already part of the
// module's stack.
type WinBackend struct {
	touchReady bool
}

// NewWinBackend creates the production Backend for Windows builds.
func NewWinBackend() *WinBackend { return &WinBackend{} }

// NewPlatformBackend returns the platform's Backend.
func NewPlatformBackend() Backend { return NewWinBackend() }

func (b *WinBackend) ScreenSize() (int32, int32, error) {
	w, _, _ := procGetSystemMetrics.Call(uintptr(smCXScreen))
	h, _, _ := procGetSystemMetrics.Call(uintptr(smCYScreen))
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("inputsink: GetSystemMetrics returned zero size")
	}
	return int32(w), int32(h), nil
}

func (b *WinBackend) SendMouseBatch(actions []MouseAction) error {
	if len(actions) == 0 {
		return nil
	}
	records := make([]inputRecord, len(actions))
	for i, a := range actions {
		records[i].Type = inputMouse
		putMouseInput(&records[i].union, a.AbsX, a.AbsY, uint32(int32(a.WheelDelta)), mouseFlagsFor(a.Flags))
	}
	n, _, _ := procSendInput.Call(
		uintptr(len(records)),
		uintptr(unsafe.Pointer(&records[0])),
		unsafe.Sizeof(inputRecord{}),
	)
	if int(n) != len(records) {
		return fmt.Errorf("inputsink: SendInput injected %d/%d events", n, len(records))
	}
	return nil
}

func mouseFlagsFor(f MouseFlag) uint32 {
	var flags uint32 = mouseeventfAbsolute
	if f&MouseFlagMove != 0 {
		flags |= mouseeventfMove
	}
	if f&MouseFlagLeftDown != 0 {
		flags |= mouseeventfLeftDown
	}
	if f&MouseFlagLeftUp != 0 {
		flags |= mouseeventfLeftUp
	}
	if f&MouseFlagRightDown != 0 {
		flags |= mouseeventfRightDown
	}
	if f&MouseFlagRightUp != 0 {
		flags |= mouseeventfRightUp
	}
	if f&MouseFlagMiddleDown != 0 {
		flags |= mouseeventfMiddleDown
	}
	if f&MouseFlagMiddleUp != 0 {
		flags |= mouseeventfMiddleUp
	}
	if f&MouseFlagWheel != 0 {
		flags |= mouseeventfWheel
	}
	return flags
}

func (b *WinBackend) SendTouch(contacts []TouchContact) error {
	if len(contacts) == 0 {
		return nil
	}
	if !b.touchReady {
		if ok, _, _ := procInitializeTouch.Call(maxTouchContacts, touchFeedbackDefault); ok == 0 {
			return fmt.Errorf("inputsink: InitializeTouchInjection failed")
		}
		b.touchReady = true
	}

	infos := make([]pointerTouchInfo, len(contacts))
	for i, c := range contacts {
		infos[i] = pointerTouchInfo{
			PointerInfo: pointerInfo{
				PointerType:     pointerTypeTouch,
				PointerID:       uint32(c.ID),
				PointerFlags:    touchPointerFlags(c.Flags),
				PtPixelLocation: point{X: c.X, Y: c.Y},
			},
			TouchFlags:  0,
			TouchMask:   touchMaskContactArea | touchMaskPressure,
			ContactArea: rect{Left: c.Left, Top: c.Top, Right: c.Right, Bottom: c.Bottom},
			Pressure:    c.Pressure,
		}
	}
	ok, _, _ := procInjectTouchInput.Call(uintptr(len(infos)), uintptr(unsafe.Pointer(&infos[0])))
	if ok == 0 {
		return fmt.Errorf("inputsink: InjectTouchInput failed")
	}
	return nil
}

func touchPointerFlags(f TouchFlag) uint32 {
	base := uint32(pointerFlagInRange | pointerFlagInContact)
	switch {
	case f&TouchFlagDown != 0:
		return base | pointerFlagDown | pointerFlagNew
	case f&TouchFlagUp != 0:
		return pointerFlagUp
	default:
		return base | pointerFlagUpdate
	}
}

func (b *WinBackend) SendKey(vk uint16, pressed bool) error {
	var flags uint32
	if !pressed {
		flags = keyeventfKeyUp
	}
	record := inputRecord{Type: inputKeyboard}
	putKeybdInput(&record.union, vk, flags)
	n, _, _ := procSendInput.Call(1, uintptr(unsafe.Pointer(&record)), unsafe.Sizeof(record))
	if n != 1 {
		return fmt.Errorf("inputsink: SendInput key injection failed")
	}
	return nil
}
