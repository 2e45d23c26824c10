// Package config loads the button-sensor configuration.
//
// The YAML file is the primary configuration surface; command-line flags
// override individual values on top of it. Defaults and validation live here
// so the rest of the daemon can assume a well-formed Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/button-sensor/internal/debounce"
	"github.com/sweeney/button-sensor/internal/delay"
	"github.com/sweeney/button-sensor/internal/gpio"
)

// Config is the top-level YAML configuration.
type Config struct {
	GPIO        GPIOConfig     `yaml:"gpio"`
	Debounce    DebounceConfig `yaml:"debounce"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	HTTP        HTTPConfig     `yaml:"http"`
	HeartbeatMS int            `yaml:"heartbeat_ms"` // 0 disables
}

type GPIOConfig struct {
	Backend   string `yaml:"backend"` // "cdev" or "periph"
	Chip      string `yaml:"chip"`
	Button    int    `yaml:"button"`
	Indicator int    `yaml:"indicator"`
	ActiveLow bool   `yaml:"active_low"`
}

type DebounceConfig struct {
	PollMS   int `yaml:"poll_ms"`
	WindowMS int `yaml:"window_ms"` // clamped to [50, 2000]
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the status server
}

// Default returns a fully-populated Config.
func Default() Config {
	pins := gpio.DefaultPins()
	return Config{
		GPIO: GPIOConfig{
			Backend:   gpio.BackendCdev,
			Chip:      pins.Chip,
			Button:    pins.Button,
			Indicator: pins.Indicator,
			ActiveLow: pins.ActiveLow,
		},
		Debounce: DebounceConfig{
			PollMS:   10,
			WindowMS: int(debounce.DefaultWindow / time.Millisecond),
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "button-sensor",
			TopicPrefix: "home/button/sensor",
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		HeartbeatMS: int((15 * time.Minute) / time.Millisecond),
	}
}

// Load reads and parses a YAML config file on top of Default.
// Unknown fields are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of Default.
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil // empty file
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// Validate checks the config for values the daemon cannot run with.
func (c Config) Validate() error {
	switch c.GPIO.Backend {
	case gpio.BackendCdev, gpio.BackendPeriph:
	default:
		return fmt.Errorf("gpio.backend: unknown backend %q", c.GPIO.Backend)
	}
	if c.GPIO.Backend == gpio.BackendCdev && c.GPIO.Chip == "" {
		return errors.New("gpio.chip: required for cdev backend")
	}
	if c.GPIO.Button < 0 || c.GPIO.Indicator < 0 {
		return errors.New("gpio: pin numbers must be >= 0")
	}
	if c.GPIO.Button == c.GPIO.Indicator {
		return fmt.Errorf("gpio: button and indicator share pin %d", c.GPIO.Button)
	}
	if c.Debounce.PollMS <= 0 {
		return fmt.Errorf("debounce.poll_ms: must be > 0, got %d", c.Debounce.PollMS)
	}
	if c.HeartbeatMS < 0 {
		return fmt.Errorf("heartbeat_ms: must be >= 0, got %d", c.HeartbeatMS)
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker: required")
	}
	u, err := url.Parse(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("mqtt.broker: unsupported scheme %q", u.Scheme)
	}
	if c.MQTT.ClientID == "" {
		return errors.New("mqtt.client_id: required")
	}
	if c.MQTT.TopicPrefix == "" {
		return errors.New("mqtt.topic_prefix: required")
	}
	return nil
}

// Pins returns the GPIO wiring.
func (c Config) Pins() gpio.Pins {
	return gpio.Pins{
		Chip:      c.GPIO.Chip,
		Button:    c.GPIO.Button,
		Indicator: c.GPIO.Indicator,
		ActiveLow: c.GPIO.ActiveLow,
	}
}

// Poll returns the update interval.
func (c Config) Poll() time.Duration {
	return time.Duration(c.Debounce.PollMS) * time.Millisecond
}

// Window returns the effective debounce window after clamping.
func (c Config) Window() time.Duration {
	return delay.Clamp(time.Duration(c.Debounce.WindowMS) * time.Millisecond)
}

// Heartbeat returns the heartbeat interval; zero disables it.
func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatMS) * time.Millisecond
}

// Overrides holds flag values that replace config file values.
// A nil pointer leaves the file value alone.
type Overrides struct {
	Backend   *string
	Poll      *time.Duration
	Window    *time.Duration
	Broker    *string
	Heartbeat *time.Duration
	HTTPAddr  *string
}

// Apply merges the overrides into cfg.
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Backend != nil {
		cfg.GPIO.Backend = *o.Backend
	}
	if o.Poll != nil {
		cfg.Debounce.PollMS = int(o.Poll.Milliseconds())
	}
	if o.Window != nil {
		cfg.Debounce.WindowMS = int(o.Window.Milliseconds())
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.Heartbeat != nil {
		cfg.HeartbeatMS = int(o.Heartbeat.Milliseconds())
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
}
