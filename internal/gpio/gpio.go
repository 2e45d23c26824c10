// Package gpio provides the digital I/O port used by the button sensor.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Device identifies one of the fixed logical devices behind a Port.
type Device int

const (
	ButtonInput    Device = iota // push-button, read-only; true = pressed
	DebugIndicator               // debug LED output; true = lit

	deviceCount
)

// Valid reports whether d is one of the known devices.
func (d Device) Valid() bool {
	return d >= 0 && d < deviceCount
}

func (d Device) String() string {
	switch d {
	case ButtonInput:
		return "BUTTON_INPUT"
	case DebugIndicator:
		return "DEBUG_INDICATOR"
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

var (
	// ErrInvalidDevice is returned for a Device outside the known set.
	ErrInvalidDevice = errors.New("gpio: invalid device")

	// ErrIO is returned when the underlying line cannot service a request.
	ErrIO = errors.New("gpio: i/o error")
)

// Port reads and drives the logical devices.
type Port interface {
	// Read returns the logical level of a device.
	Read(d Device) (bool, error)

	// Write sets the logical level of an output device.
	Write(d Device, on bool) error

	// Toggle inverts the logical level of an output device.
	Toggle(d Device) error

	// Close releases GPIO resources.
	Close() error
}

// Pins describes where the devices are wired (BCM numbering).
type Pins struct {
	Chip      string
	Button    int
	Indicator int
	// ActiveLow treats a low button line as pressed (switch to ground
	// with pull-up).
	ActiveLow bool
}

// Default wiring.
const (
	DefaultChip         = "gpiochip0"
	DefaultPinButton    = 17
	DefaultPinIndicator = 27
)

// DefaultPins returns the default wiring.
func DefaultPins() Pins {
	return Pins{
		Chip:      DefaultChip,
		Button:    DefaultPinButton,
		Indicator: DefaultPinIndicator,
		ActiveLow: true,
	}
}

func checkDevice(d Device) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidDevice, d)
	}
	return nil
}

func checkOutput(d Device) error {
	if err := checkDevice(d); err != nil {
		return err
	}
	if d != DebugIndicator {
		return fmt.Errorf("%w: %v is not an output", ErrIO, d)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Open returns a Port for the named backend. The Port is nil on error.
func Open(backend string, pins Pins) (Port, error) {
	switch backend {
	case BackendCdev, "":
		p, err := NewRealPort(pins)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendPeriph:
		p, err := NewPeriphPort(pins)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("gpio: unknown backend %q", backend)
}
