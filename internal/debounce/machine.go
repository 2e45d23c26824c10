// Package debounce turns the noisy button level read through a gpio.Port into
// confirmed press and release edges.
//
// The machine is polled: Update advances it by one step and must be called
// from a single goroutine together with PollPressEdge and PollReleaseEdge.
// A pending level is confirmed by re-sampling the button once, at the moment
// the debounce window expires. Flicker inside the window that has settled
// back by then is not seen.
package debounce

import (
	"fmt"
	"time"

	"github.com/sweeney/button-sensor/internal/delay"
	"github.com/sweeney/button-sensor/internal/gpio"
)

// DefaultWindow is the requested debounce window. Timers clamp it to
// delay.MinDuration.
const DefaultWindow = 40 * time.Millisecond

// State is the debounce state of the button.
type State int

const (
	Released State = iota
	FallPending
	Pressed
	RisePending
)

func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case FallPending:
		return "FALL_PENDING"
	case Pressed:
		return "PRESSED"
	case RisePending:
		return "RISE_PENDING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Timer is the debounce window. *delay.Delay satisfies it.
type Timer interface {
	// Read arms the window when stopped, otherwise reports expiry and stops
	// the window once it has expired.
	Read(now time.Time) bool

	// Reset stops the window and sets its length.
	Reset(d time.Duration)
}

// Machine is the debounce state machine for one button.
type Machine struct {
	port   gpio.Port
	timer  Timer
	now    func() time.Time
	window time.Duration

	state       State
	pressEdge   bool
	releaseEdge bool
	lit         bool // last level the port accepted
	err         error
}

// Option configures a Machine.
type Option func(*Machine)

// WithWindow sets the debounce window. It is clamped to
// [delay.MinDuration, delay.MaxDuration].
func WithWindow(d time.Duration) Option {
	return func(m *Machine) { m.window = d }
}

// WithTimer replaces the default delay.Delay.
func WithTimer(t Timer) Option {
	return func(m *Machine) { m.timer = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a machine reading the button and driving the indicator on port,
// and initialises it.
func New(port gpio.Port, opts ...Option) *Machine {
	m := &Machine{
		port:   port,
		now:    time.Now,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.window = delay.Clamp(m.window)
	if m.timer == nil {
		m.timer = delay.New(m.window)
	}
	m.Init()
	return m
}

// Init returns the machine to Released with no pending edges, re-initialises
// the timer and turns the indicator off.
func (m *Machine) Init() {
	m.timer.Reset(m.window)
	m.state = Released
	m.pressEdge = false
	m.releaseEdge = false
	m.err = nil
	m.writeIndicator(false)
}

// Update advances the machine by one step.
func (m *Machine) Update() {
	switch m.state {
	case Released:
		pressed, ok := m.readButton()
		if ok && pressed {
			m.timer.Read(m.now())
			m.state = FallPending
		}

	case FallPending:
		if !m.timer.Read(m.now()) {
			return
		}
		pressed, ok := m.readButton()
		if !ok {
			return
		}
		if pressed {
			m.pressEdge = true
			m.writeIndicator(true)
			m.state = Pressed
		} else {
			m.state = Released
		}

	case Pressed:
		pressed, ok := m.readButton()
		if ok && !pressed {
			m.timer.Read(m.now())
			m.state = RisePending
		}

	case RisePending:
		if !m.timer.Read(m.now()) {
			return
		}
		pressed, ok := m.readButton()
		if !ok {
			return
		}
		if pressed {
			m.state = Pressed
		} else {
			m.releaseEdge = true
			m.writeIndicator(false)
			m.state = Released
		}

	default:
		m.state = Released
	}
}

// PollPressEdge reports whether a press was confirmed since the last call.
func (m *Machine) PollPressEdge() bool {
	if m.pressEdge {
		m.pressEdge = false
		return true
	}
	return false
}

// PollReleaseEdge reports whether a release was confirmed since the last call.
func (m *Machine) PollReleaseEdge() bool {
	if m.releaseEdge {
		m.releaseEdge = false
		return true
	}
	return false
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Window returns the effective debounce window.
func (m *Machine) Window() time.Duration {
	return m.window
}

// Indicator returns the indicator level last written successfully. After a
// failed write it lags the state: PRESSED with the LED still off.
func (m *Machine) Indicator() bool {
	return m.lit
}

// Err returns the last port error seen by Update or Init and clears it.
// Port errors never change the transition rules: a failed read leaves the
// state as it was for that step, a failed indicator write is dropped.
func (m *Machine) Err() error {
	err := m.err
	m.err = nil
	return err
}

func (m *Machine) readButton() (pressed bool, ok bool) {
	v, err := m.port.Read(gpio.ButtonInput)
	if err != nil {
		m.err = fmt.Errorf("read button: %w", err)
		return false, false
	}
	return v, true
}

func (m *Machine) writeIndicator(on bool) {
	if err := m.port.Write(gpio.DebugIndicator, on); err != nil {
		m.err = fmt.Errorf("write indicator: %w", err)
		return
	}
	m.lit = on
}
