//go:build !windows

package clipboard

import (
	"fmt"

	"github.com/deskagent/deskagent/internal/wire"
)

// unsupportedBackend keeps the Backend seam available on platforms the
// original agent never targeted, mirroring unsupportedCapture/
// unsupportedBackend in the other platform-isolated packages.
type unsupportedBackend struct{}

// NewPlatformBackend returns the platform's Backend.
func NewPlatformBackend() Backend { return unsupportedBackend{} }

func (unsupportedBackend) InstallHook(func()) error {
	return fmt.Errorf("clipboard: global hotkey capture is not implemented on this platform")
}

func (unsupportedBackend) RemoveHook() {}

func (unsupportedBackend) ReadClipboard() (wire.ClipboardEvent, error) {
	return wire.ClipboardEvent{}, fmt.Errorf("clipboard: clipboard access is not implemented on this platform")
}

func (unsupportedBackend) WriteText(string) error {
	return fmt.Errorf("clipboard: clipboard access is not implemented on this platform")
}

func (unsupportedBackend) WriteFile(string, []byte) error {
	return fmt.Errorf("clipboard: clipboard access is not implemented on this platform")
}
