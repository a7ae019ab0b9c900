//go:build windows

package clipboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/deskagent/deskagent/internal/wire"
)

var (
	modUser32   = windows.NewLazySystemDLL("user32.dll")
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modShell32  = windows.NewLazySystemDLL("shell32.dll")

	procSetWindowsHookEx   = modUser32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHook  = modUser32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx     = modUser32.NewProc("CallNextHookEx")
	procGetMessage         = modUser32.NewProc("GetMessageW")
	procGetAsyncKeyState   = modUser32.NewProc("GetAsyncKeyState")
	procPostThreadMessage  = modUser32.NewProc("PostThreadMessageW")
	procOpenClipboard      = modUser32.NewProc("OpenClipboard")
	procCloseClipboard     = modUser32.NewProc("CloseClipboard")
	procEmptyClipboard     = modUser32.NewProc("EmptyClipboard")
	procGetClipboardData   = modUser32.NewProc("GetClipboardData")
	procSetClipboardData   = modUser32.NewProc("SetClipboardData")
	procIsClipboardFormatAvailable = modUser32.NewProc("IsClipboardFormatAvailable")

	procGetCurrentThreadID = modKernel32.NewProc("GetCurrentThreadId")
	procGlobalAlloc        = modKernel32.NewProc("GlobalAlloc")
	procGlobalLock         = modKernel32.NewProc("GlobalLock")
	procGlobalUnlock       = modKernel32.NewProc("GlobalUnlock")

	procDragQueryFile = modShell32.NewProc("DragQueryFileW")
)

const (
	whKeyboardLL = 13
	hcAction     = 0
	wmKeyDown    = 0x0100
	wmSysKeyDown = 0x0104
	wmQuit       = 0x0012
	vkControl    = 0x11
	vkCKey       = 'C'

	cfUnicodeText = 13
	cfHDrop       = 15

	gmemMoveable = 0x0002
)

type kbdllhookstruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// dropFiles mirrors the Win32 DROPFILES header that precedes the
// double-null-terminated wide-char file list in a CF_HDROP payload.
type dropFiles struct {
	size      uint32
	ptX, ptY  int32
	fNC       int32
	fWide     int32
}

// WinBackend installs a low-level keyboard hook (mirroring the original's
// WH_KEYBOARD_LL) and drives the clipboard through raw user32/shell32
// syscalls, matching the dependency-free approach already used for screen
// capture and input injection.
type WinBackend struct {
	mu       sync.Mutex
	hook     uintptr
	threadID uint32
	quit     chan struct{}
	done     chan struct{}
	onCtrlC  func()
}

// NewWinBackend creates the production Backend for Windows builds.
func NewWinBackend() *WinBackend { return &WinBackend{} }

// NewPlatformBackend returns the platform's Backend.
func NewPlatformBackend() Backend { return NewWinBackend() }

var (
	globalMu       sync.Mutex
	globalInstance *WinBackend
)

func (b *WinBackend) InstallHook(onCtrlC func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hook != 0 {
		return nil
	}
	b.onCtrlC = onCtrlC
	b.quit = make(chan struct{})
	b.done = make(chan struct{})

	ready := make(chan error, 1)
	go b.runHookThread(ready)
	if err := <-ready; err != nil {
		return err
	}
	return nil
}

// runHookThread installs the hook and pumps its message queue on a
// dedicated OS thread; Windows requires the hook's message pump to run on
// the thread that installed it.
func (b *WinBackend) runHookThread(ready chan<- error) {
	defer close(b.done)

	globalMu.Lock()
	globalInstance = b
	globalMu.Unlock()

	tid, _, _ := procGetCurrentThreadID.Call()
	b.mu.Lock()
	b.threadID = uint32(tid)
	b.mu.Unlock()

	hook, _, _ := procSetWindowsHookEx.Call(
		uintptr(whKeyboardLL),
		windows.NewCallback(lowLevelKeyboardProc),
		0, 0,
	)
	if hook == 0 {
		ready <- fmt.Errorf("clipboard: SetWindowsHookEx failed")
		return
	}
	b.mu.Lock()
	b.hook = hook
	b.mu.Unlock()
	ready <- nil

	var m msg
	for {
		r, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if r == 0 || m.Message == wmQuit {
			break
		}
	}
}

func lowLevelKeyboardProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	globalMu.Lock()
	b := globalInstance
	globalMu.Unlock()

	var hook uintptr
	if b != nil {
		if nCode == hcAction && (wParam == wmKeyDown || wParam == wmSysKeyDown) {
			kb := (*kbdllhookstruct)(unsafe.Pointer(lParam))
			ctrlState, _, _ := procGetAsyncKeyState.Call(uintptr(vkControl))
			if ctrlState&0x8000 != 0 && kb.VkCode == vkCKey {
				go b.onCtrlC()
			}
		}
		b.mu.Lock()
		hook = b.hook
		b.mu.Unlock()
	}
	ret, _, _ := procCallNextHookEx.Call(hook, uintptr(nCode), wParam, lParam)
	return ret
}

func (b *WinBackend) RemoveHook() {
	b.mu.Lock()
	hook := b.hook
	tid := b.threadID
	b.hook = 0
	b.mu.Unlock()
	if hook == 0 {
		return
	}
	procUnhookWindowsHook.Call(hook)
	procPostThreadMessage.Call(uintptr(tid), wmQuit, 0, 0)
	<-b.done

	globalMu.Lock()
	if globalInstance == b {
		globalInstance = nil
	}
	globalMu.Unlock()
}

func (b *WinBackend) ReadClipboard() (wire.ClipboardEvent, error) {
	if ok, _, _ := procOpenClipboard.Call(0); ok == 0 {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: OpenClipboard failed")
	}
	defer procCloseClipboard.Call()

	if avail, _, _ := procIsClipboardFormatAvailable.Call(uintptr(cfHDrop)); avail != 0 {
		if event, err := readHDrop(); err == nil {
			return event, nil
		}
	}
	if avail, _, _ := procIsClipboardFormatAvailable.Call(uintptr(cfUnicodeText)); avail != 0 {
		return readUnicodeText()
	}
	return wire.ClipboardEvent{}, fmt.Errorf("clipboard: no supported clipboard format present")
}

func readUnicodeText() (wire.ClipboardEvent, error) {
	h, _, _ := procGetClipboardData.Call(uintptr(cfUnicodeText))
	if h == 0 {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: GetClipboardData(CF_UNICODETEXT) failed")
	}
	ptr, _, _ := procGlobalLock.Call(h)
	if ptr == 0 {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: GlobalLock failed")
	}
	defer procGlobalUnlock.Call(h)

	text := utf16PtrToString((*uint16)(unsafe.Pointer(ptr)))
	return wire.ClipboardEvent{Text: text}, nil
}

func readHDrop() (wire.ClipboardEvent, error) {
	h, _, _ := procGetClipboardData.Call(uintptr(cfHDrop))
	if h == 0 {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: GetClipboardData(CF_HDROP) failed")
	}
	n, _, _ := procDragQueryFile.Call(h, 0xFFFFFFFF, 0, 0)
	if n == 0 {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: no files in CF_HDROP")
	}
	buf := make([]uint16, 4096)
	procDragQueryFile.Call(h, 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	path := windows.UTF16ToString(buf)

	data, err := os.ReadFile(path)
	if err != nil {
		return wire.ClipboardEvent{}, fmt.Errorf("clipboard: reading dropped file %s: %w", path, err)
	}
	return wire.ClipboardEvent{IsFile: true, FileName: filepath.Base(path), FileData: data}, nil
}

func (b *WinBackend) WriteText(text string) error {
	if ok, _, _ := procOpenClipboard.Call(0); ok == 0 {
		return fmt.Errorf("clipboard: OpenClipboard failed")
	}
	defer procCloseClipboard.Call()
	procEmptyClipboard.Call()

	u16 := utf16.Encode([]rune(text))
	u16 = append(u16, 0)
	size := uintptr(len(u16) * 2)

	h, _, _ := procGlobalAlloc.Call(uintptr(gmemMoveable), size)
	if h == 0 {
		return fmt.Errorf("clipboard: GlobalAlloc failed")
	}
	ptr, _, _ := procGlobalLock.Call(h)
	if ptr == 0 {
		return fmt.Errorf("clipboard: GlobalLock failed")
	}
	dst := unsafe.Slice((*uint16)(unsafe.Pointer(ptr)), len(u16))
	copy(dst, u16)
	procGlobalUnlock.Call(h)

	if r, _, _ := procSetClipboardData.Call(uintptr(cfUnicodeText), h); r == 0 {
		return fmt.Errorf("clipboard: SetClipboardData(CF_UNICODETEXT) failed")
	}
	return nil
}

func (b *WinBackend) WriteFile(fileName string, data []byte) error {
	tempPath := filepath.Join(os.TempDir(), fileName)
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("clipboard: saving received file: %w", err)
	}

	if ok, _, _ := procOpenClipboard.Call(0); ok == 0 {
		return fmt.Errorf("clipboard: OpenClipboard failed")
	}
	defer procCloseClipboard.Call()
	procEmptyClipboard.Call()

	pathU16 := windows.StringToUTF16(tempPath)
	headerSize := unsafe.Sizeof(dropFiles{})
	listBytes := len(pathU16) * 2
	total := int(headerSize) + listBytes + 2 // extra double-null terminator

	h, _, _ := procGlobalAlloc.Call(uintptr(gmemMoveable), uintptr(total))
	if h == 0 {
		return fmt.Errorf("clipboard: GlobalAlloc failed")
	}
	ptr, _, _ := procGlobalLock.Call(h)
	if ptr == 0 {
		return fmt.Errorf("clipboard: GlobalLock failed")
	}

	hdr := (*dropFiles)(unsafe.Pointer(ptr))
	*hdr = dropFiles{size: uint32(headerSize), fWide: 1}
	listPtr := unsafe.Add(unsafe.Pointer(ptr), headerSize)
	dst := unsafe.Slice((*uint16)(listPtr), len(pathU16)+1)
	copy(dst, pathU16)
	dst[len(pathU16)] = 0
	procGlobalUnlock.Call(h)

	if r, _, _ := procSetClipboardData.Call(uintptr(cfHDrop), h); r == 0 {
		return fmt.Errorf("clipboard: SetClipboardData(CF_HDROP) failed")
	}
	return nil
}

func utf16PtrToString(p *uint16) string {
	if p == nil {
		return ""
	}
	n := 0
	for ptr := unsafe.Pointer(p); *(*uint16)(ptr) != 0; n++ {
		ptr = unsafe.Add(ptr, 2)
	}
	slice := unsafe.Slice(p, n)
	return string(utf16.Decode(slice))
}
