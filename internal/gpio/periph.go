package gpio

import (
	"fmt"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPort drives hardware through periph.io host drivers. It is used where
// the GPIO character device is not available (older kernels, bcm283x memory
// mapped access).
type PeriphPort struct {
	mu        sync.Mutex
	button    pgpio.PinIO
	indicator pgpio.PinIO
	activeLow bool
	lit       bool
	closed    bool
}

// NewPeriphPort initialises the periph host and configures the pins by their
// BCM names ("GPIO17").
func NewPeriphPort(pins Pins) (*PeriphPort, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}

	button := gpioreg.ByName(pinName(pins.Button))
	if button == nil {
		return nil, fmt.Errorf("button pin %d: not found", pins.Button)
	}
	indicator := gpioreg.ByName(pinName(pins.Indicator))
	if indicator == nil {
		return nil, fmt.Errorf("indicator pin %d: not found", pins.Indicator)
	}
	return newPeriphPort(button, indicator, pins.ActiveLow)
}

func newPeriphPort(button, indicator pgpio.PinIO, activeLow bool) (*PeriphPort, error) {
	pull := pgpio.PullDown
	if activeLow {
		pull = pgpio.PullUp
	}
	if err := button.In(pull, pgpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure button pin %s: %w", button.Name(), err)
	}
	if err := indicator.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("configure indicator pin %s: %w", indicator.Name(), err)
	}
	return &PeriphPort{
		button:    button,
		indicator: indicator,
		activeLow: activeLow,
	}, nil
}

func pinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}

// Read returns the logical level of a device.
func (p *PeriphPort) Read(d Device) (bool, error) {
	if err := checkDevice(d); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, fmt.Errorf("%w: port closed", ErrIO)
	}
	if d == DebugIndicator {
		return p.lit, nil
	}
	high := p.button.Read() == pgpio.High
	return high != p.activeLow, nil
}

// Write sets the indicator level.
func (p *PeriphPort) Write(d Device, on bool) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(on)
}

// Toggle inverts the indicator level.
func (p *PeriphPort) Toggle(d Device) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.set(!p.lit)
}

func (p *PeriphPort) set(on bool) error {
	if p.closed {
		return fmt.Errorf("%w: port closed", ErrIO)
	}
	if err := p.indicator.Out(pgpio.Level(on)); err != nil {
		return fmt.Errorf("%w: write indicator: %v", ErrIO, err)
	}
	p.lit = on
	return nil
}

// Close turns the indicator off and returns both pins to input with pull-down.
func (p *PeriphPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if err := p.indicator.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure indicator pin: %w", err))
	}
	if err := p.button.In(pgpio.PullDown, pgpio.NoEdge); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure button pin: %w", err))
	}
	if err := p.indicator.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt indicator pin: %w", err))
	}
	if err := p.button.Halt(); err != nil {
		errs = append(errs, fmt.Errorf("halt button pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
