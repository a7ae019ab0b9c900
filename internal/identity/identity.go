// Package identity owns AgentIdentity: the 128-bit UUID that is stable
// for the lifetime of an installation and used to register with the
// rendezvous server and to open relay sessions.
package identity

import "github.com/google/uuid"

// New generates a fresh identity, formatted without braces (32 hex
// digits plus dashes) per the wire contract's uuid string convention.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a well-formed, non-empty UUID. An absent or
// malformed value in persisted config must be regenerated — identity is
// never left empty.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
