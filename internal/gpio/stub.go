//go:build !linux

package gpio

import "errors"

// RealPort is not available on non-Linux platforms.
type RealPort struct{}

// NewRealPort returns an error on non-Linux platforms.
func NewRealPort(pins Pins) (*RealPort, error) {
	return nil, errors.New("gpio: character device not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealPort) Read(d Device) (bool, error) {
	return false, ErrIO
}

// Write is not implemented on non-Linux platforms.
func (r *RealPort) Write(d Device, on bool) error {
	return ErrIO
}

// Toggle is not implemented on non-Linux platforms.
func (r *RealPort) Toggle(d Device) error {
	return ErrIO
}

// Close is not implemented on non-Linux platforms.
func (r *RealPort) Close() error {
	return nil
}
