// Package handoff publishes the agent's rendezvous endpoint and identity
// to a sibling viewer process on the same host via a named OS
// shared-memory segment, and guards against two agent instances running
// at once via a second segment under a fixed key. Both are the Go
// counterpart of DeskServer.cpp's writeSharedMemory and
// checkSingleInstance, built on QSharedMemory there and on
// platform-native shared memory + locking here.
package handoff

import "fmt"

// RegionName is the shared-memory segment the agent publishes its
// identity and endpoint under, matching the original's "VVRemoteMemory".
const RegionName = "VVRemoteMemory"

// SingleInstanceName is the fixed key for the second segment used purely
// as a mutual-exclusion lock between agent instances.
const SingleInstanceName = "VVRemoteMemoryGuard"

// RegionSize is the fixed size of the handoff segment (spec §6).
const RegionSize = 1024

// FormatRecord builds the UTF-8 handoff record: "IP:<host>;;PORT:<port>;;UUID:<uuid>;;"
func FormatRecord(host string, port int, uuid string) string {
	return fmt.Sprintf("IP:%s;;PORT:%d;;UUID:%s;;", host, port, uuid)
}

// Region is a named shared-memory segment holding one handoff record.
// Write replaces the record under the segment's lock; Close releases the
// underlying OS resource.
type Region interface {
	Write(record string) error
	Close()
}

// SingleInstanceGuard reports whether this process is the only running
// instance. Acquire returns false (not an error) if another instance
// already holds the guard — the caller is expected to exit silently per
// spec §6/§7.
type SingleInstanceGuard interface {
	Acquire() (bool, error)
	Release()
}
