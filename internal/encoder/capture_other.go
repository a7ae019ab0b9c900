//go:build !windows

package encoder

import "fmt"

// unsupportedCapture reports a clear error on platforms the original
// DXGI-based agent never targeted. Keeping the interface satisfied (rather
// than omitting the type) lets the supervisor wire the same DesktopCapture
// seam on every platform and fall back to SoftwareCodec's fixed-size
// behavior for cross-platform builds and CI.
type unsupportedCapture struct{}

// NewPlatformCapture returns the platform's DesktopCapture. Non-Windows
// builds have no capture backend; callers should prefer a fake in tests
// and expect Capture to fail in production until one is added.
func NewPlatformCapture() DesktopCapture { return &unsupportedCapture{} }

func (unsupportedCapture) TargetSize() (Size, error) {
	return Size{Width: 1920, Height: 1080}, nil
}

func (unsupportedCapture) Capture() (*CapturedFrame, error) {
	return nil, fmt.Errorf("encoder: desktop capture is not implemented on this platform")
}
