package gpio

import "errors"

// FakePort is a test double that returns scripted button levels and records
// every write to the indicator.
type FakePort struct {
	// Samples contains scripted button levels (true = pressed).
	// Each button Read consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Reads counts button reads.
	Reads int

	// Writes records every indicator level set by Write or Toggle, in order.
	Writes []bool

	// Indicator is the current indicator level.
	Indicator bool

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by button reads.
	ReadError error

	// WriteError, if set, will be returned by Write and Toggle.
	WriteError error
}

// NewFakePort creates a FakePort with the given button samples.
func NewFakePort(samples ...bool) *FakePort {
	return &FakePort{Samples: samples}
}

// Read returns the next scripted sample for ButtonInput, or the current
// indicator level for DebugIndicator.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakePort) Read(d Device) (bool, error) {
	if err := checkDevice(d); err != nil {
		return false, err
	}
	if d == DebugIndicator {
		return f.Indicator, nil
	}

	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	f.Reads++
	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Write sets the indicator level and records it.
func (f *FakePort) Write(d Device, on bool) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Indicator = on
	f.Writes = append(f.Writes, on)
	return nil
}

// Toggle inverts the indicator level and records the new value.
func (f *FakePort) Toggle(d Device) error {
	if err := checkOutput(d); err != nil {
		return err
	}
	return f.Write(d, !f.Indicator)
}

// Close marks the port as closed.
func (f *FakePort) Close() error {
	f.Closed = true
	return nil
}

// Reset rewinds the samples and clears recorded writes.
func (f *FakePort) Reset() {
	f.index = 0
	f.Reads = 0
	f.Writes = nil
	f.Indicator = false
	f.Closed = false
}
