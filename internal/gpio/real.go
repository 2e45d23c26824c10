//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "button-sensor"

// RealPort drives actual hardware using the Linux GPIO character device.
type RealPort struct {
	mu        sync.Mutex
	chip      *gpiocdev.Chip
	button    *gpiocdev.Line
	indicator *gpiocdev.Line
	lit       bool
}

// NewRealPort requests the button and indicator lines on the given chip.
// The indicator starts off.
func NewRealPort(pins Pins) (*RealPort, error) {
	chip, err := gpiocdev.NewChip(pins.Chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", pins.Chip, err)
	}

	buttonOpts := []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullUp}
	if pins.ActiveLow {
		buttonOpts = append(buttonOpts, gpiocdev.AsActiveLow)
	} else {
		buttonOpts[1] = gpiocdev.WithPullDown
	}
	button, err := chip.RequestLine(pins.Button, buttonOpts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pin %d: %w", pins.Button, err)
	}

	indicator, err := chip.RequestLine(pins.Indicator, gpiocdev.AsOutput(0))
	if err != nil {
		button.Close()
		chip.Close()
		return nil, fmt.Errorf("request indicator pin %d: %w", pins.Indicator, err)
	}

	return &RealPort{
		chip:      chip,
		button:    button,
		indicator: indicator,
	}, nil
}

// Read returns the logical level of a device. Active-low inversion of the
// button is handled by the kernel.
func (r *RealPort) Read(d Device) (bool, error) {
	if err := checkDevice(d); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.button == nil || r.indicator == nil {
		return false, fmt.Errorf("%w: port closed", ErrIO)
	}
	if d == DebugIndicator {
		return r.lit, nil
	}
	v, err := r.button.Value()
	if err != nil {
		return false, fmt.Errorf("%w: read button: %v", ErrIO, err)
	}
	return v == 1, nil
}

// Write sets the indicator level.
func (r *RealPort) Write(d Device, on bool) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set(on)
}

// Toggle inverts the indicator level.
func (r *RealPort) Toggle(d Device) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set(!r.lit)
}

func (r *RealPort) set(on bool) error {
	if r.indicator == nil {
		return fmt.Errorf("%w: port closed", ErrIO)
	}
	v := 0
	if on {
		v = 1
	}
	if err := r.indicator.SetValue(v); err != nil {
		return fmt.Errorf("%w: write indicator: %v", ErrIO, err)
	}
	r.lit = on
	return nil
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults) before
// closing so the indicator is not left driven across a reboot.
func (r *RealPort) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	if r.indicator != nil {
		if err := r.indicator.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure indicator pin: %w", err))
		}
		if err := r.indicator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close indicator pin: %w", err))
		}
		r.indicator = nil
	}
	if r.button != nil {
		if err := r.button.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure button pin: %w", err))
		}
		if err := r.button.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pin: %w", err))
		}
		r.button = nil
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
