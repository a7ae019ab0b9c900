//go:build windows

package handoff

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modKernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procCreateFileMappingW = modKernel32.NewProc("CreateFileMappingW")
	procOpenFileMappingW   = modKernel32.NewProc("OpenFileMappingW")
	procMapViewOfFile      = modKernel32.NewProc("MapViewOfFile")
	procUnmapViewOfFile    = modKernel32.NewProc("UnmapViewOfFile")
	procCreateMutexW       = modKernel32.NewProc("CreateMutexW")
	procReleaseMutex       = modKernel32.NewProc("ReleaseMutex")
	procWaitForSingleObj   = modKernel32.NewProc("WaitForSingleObject")
	procCloseHandle        = modKernel32.NewProc("CloseHandle")
)

const (
	invalidHandleValue = ^uintptr(0)
	pageReadWrite       = 0x04
	fileMapAllAccess    = 0x000F001F
	errorAlreadyExists  = 183
	waitObject0         = 0
	waitInfinite        = 0xFFFFFFFF
)

// mappingRegion is backed by a named file mapping over the system paging
// file (hMappingFile = INVALID_HANDLE_VALUE), the same "anonymous but
// named" shared memory QSharedMemory uses on Windows, guarded by a named
// mutex for the lock()/unlock() bracket around each write.
type mappingRegion struct {
	mapping uintptr
	view    uintptr
	mutex   uintptr
}

// NewRegion creates or attaches the handoff segment.
func NewRegion() (Region, error) {
	namePtr, err := windows.UTF16PtrFromString(RegionName)
	if err != nil {
		return nil, err
	}
	mutexNamePtr, err := windows.UTF16PtrFromString(RegionName + "Mutex")
	if err != nil {
		return nil, err
	}

	mapping, _, _ := procCreateFileMappingW.Call(
		invalidHandleValue, 0, uintptr(pageReadWrite), 0, uintptr(RegionSize),
		uintptr(unsafe.Pointer(namePtr)),
	)
	if mapping == 0 {
		return nil, fmt.Errorf("handoff: CreateFileMappingW failed")
	}

	view, _, _ := procMapViewOfFile.Call(mapping, uintptr(fileMapAllAccess), 0, 0, uintptr(RegionSize))
	if view == 0 {
		procCloseHandle.Call(mapping)
		return nil, fmt.Errorf("handoff: MapViewOfFile failed")
	}

	mutex, _, _ := procCreateMutexW.Call(0, 0, uintptr(unsafe.Pointer(mutexNamePtr)))
	if mutex == 0 {
		procUnmapViewOfFile.Call(view)
		procCloseHandle.Call(mapping)
		return nil, fmt.Errorf("handoff: CreateMutexW failed")
	}

	return &mappingRegion{mapping: mapping, view: view, mutex: mutex}, nil
}

func (r *mappingRegion) Write(record string) error {
	procWaitForSingleObj.Call(r.mutex, uintptr(waitInfinite))
	defer procReleaseMutex.Call(r.mutex)

	dst := unsafe.Slice((*byte)(unsafe.Pointer(r.view)), RegionSize)
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, record)
	return nil
}

func (r *mappingRegion) Close() {
	procUnmapViewOfFile.Call(r.view)
	procCloseHandle.Call(r.mapping)
	procCloseHandle.Call(r.mutex)
}

// mutexGuard is a named mutex that only the first instance can create
// without it already existing — CreateMutexW still succeeds when the
// mutex already exists (it returns a handle to the existing one), but
// GetLastError reports ERROR_ALREADY_EXISTS, which is how the original's
// checkSingleInstance logic (via QSharedMemory::create returning
// AlreadyExists) detected a prior instance.
type mutexGuard struct {
	handle uintptr
}

// NewSingleInstanceGuard creates the guard for this process.
func NewSingleInstanceGuard() SingleInstanceGuard {
	return &mutexGuard{}
}

func (g *mutexGuard) Acquire() (bool, error) {
	namePtr, err := windows.UTF16PtrFromString(SingleInstanceName)
	if err != nil {
		return false, err
	}
	handle, _, lastErr := procCreateMutexW.Call(0, 0, uintptr(unsafe.Pointer(namePtr)))
	if handle == 0 {
		return false, fmt.Errorf("handoff: CreateMutexW failed: %v", lastErr)
	}
	g.handle = handle
	if errno, ok := lastErr.(syscall.Errno); ok && errno == errorAlreadyExists {
		procCloseHandle.Call(handle)
		g.handle = 0
		return false, nil
	}
	return true, nil
}

func (g *mutexGuard) Release() {
	if g.handle == 0 {
		return
	}
	procCloseHandle.Call(g.handle)
	g.handle = 0
}
