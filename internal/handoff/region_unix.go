//go:build !windows

package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// shmDir is the directory the segments are materialized under. /dev/shm
// is tmpfs-backed on Linux, matching the original's in-memory-only
// QSharedMemory semantics; falls back to os.TempDir on platforms without
// it (still a flock-guarded regular file, just backed by disk).
func shmDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// fileRegion is a fixed-size file standing in for the named shared-memory
// segment, serialized by an flock held only for the duration of each
// Write — matching the original's lock()/unlock() bracketing around the
// memcpy into the segment.
type fileRegion struct {
	f *os.File
}

// NewRegion creates or attaches the handoff segment.
func NewRegion() (Region, error) {
	path := filepath.Join(shmDir(), RegionName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("handoff: open segment %s: %w", path, err)
	}
	if err := f.Truncate(RegionSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("handoff: size segment %s: %w", path, err)
	}
	return &fileRegion{f: f}, nil
}

func (r *fileRegion) Write(record string) error {
	if err := syscall.Flock(int(r.f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("handoff: lock segment: %w", err)
	}
	defer syscall.Flock(int(r.f.Fd()), syscall.LOCK_UN)

	buf := make([]byte, RegionSize)
	n := copy(buf, record)
	_ = n
	if _, err := r.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("handoff: write segment: %w", err)
	}
	return nil
}

func (r *fileRegion) Close() {
	r.f.Close()
}

// flockGuard holds a non-blocking exclusive flock on a fixed path for as
// long as the process runs; a second instance's Acquire fails immediately
// because the lock is already held, standing in for QSharedMemory::create
// returning AlreadyExists in the original.
type flockGuard struct {
	f *os.File
}

// NewSingleInstanceGuard creates the guard for this process.
func NewSingleInstanceGuard() SingleInstanceGuard {
	return &flockGuard{}
}

func (g *flockGuard) Acquire() (bool, error) {
	path := filepath.Join(shmDir(), SingleInstanceName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("handoff: open guard %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return false, nil
	}
	g.f = f
	return true, nil
}

func (g *flockGuard) Release() {
	if g.f == nil {
		return
	}
	syscall.Flock(int(g.f.Fd()), syscall.LOCK_UN)
	g.f.Close()
	g.f = nil
}
