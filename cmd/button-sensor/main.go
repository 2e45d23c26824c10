// Command button-sensor debounces a push-button on GPIO, drives a debug
// indicator LED and publishes press/release edges to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/debounce"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (defaults are used if empty)")
	poll := flag.Duration("poll", 10*time.Millisecond, "Machine update interval")
	window := flag.Duration("window", debounce.DefaultWindow, "Debounce window (clamped to 50ms..2s)")
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	httpAddr := flag.String("http", ":80", "HTTP status address (empty to disable)")
	backend := flag.String("backend", gpio.BackendCdev, `GPIO backend ("cdev" or "periph")`)
	printState := flag.Bool("print-state", false, "Print current button level and exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath, overridesFromFlags(flag.Visit, config.Overrides{
		Backend:   backend,
		Poll:      poll,
		Window:    window,
		Broker:    broker,
		Heartbeat: heartbeat,
		HTTPAddr:  httpAddr,
	}))
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// overridesFromFlags keeps only the overrides whose flags were set on the
// command line, so unset flags do not clobber config file values.
func overridesFromFlags(visit func(func(*flag.Flag)), all config.Overrides) config.Overrides {
	var o config.Overrides
	visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			o.Backend = all.Backend
		case "poll":
			o.Poll = all.Poll
		case "window":
			o.Window = all.Window
		case "broker":
			o.Broker = all.Broker
		case "heartbeat":
			o.Heartbeat = all.Heartbeat
		case "http":
			o.HTTPAddr = all.HTTPAddr
		}
	})
	return o
}

func loadConfig(path string, o config.Overrides) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(cfg config.Config, printState bool) error {
	// Initialize GPIO
	port, err := gpio.Open(cfg.GPIO.Backend, cfg.Pins())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer port.Close()

	// Print state mode
	if printState {
		pressed, err := port.Read(gpio.ButtonInput)
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("button: %s\n", levelString(pressed))
		return nil
	}

	machine := debounce.New(port, debounce.WithWindow(cfg.Window()))

	// Initialize MQTT
	publisher := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	})
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Backend:     cfg.GPIO.Backend,
		PollMs:      cfg.Poll().Milliseconds(),
		WindowMs:    machine.Window().Milliseconds(),
		HeartbeatMs: cfg.Heartbeat().Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})
	tracker.Update(machine.State(), machine.Indicator())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP status server and live edge hub
	var hub *web.Hub
	if cfg.HTTP.Addr != "" {
		hub = web.NewHub(web.HubConfig{})
		go hub.Run(ctx)

		srv := web.New(cfg.HTTP.Addr, tracker, hub)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: backend=%s poll=%v window=%v broker=%s heartbeat=%v",
		cfg.GPIO.Backend, cfg.Poll(), machine.Window(), cfg.MQTT.Broker, cfg.Heartbeat())

	ticker := time.NewTicker(cfg.Poll())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(machine, publisher, publisher, tracker, hub, cfg.Heartbeat(), time.Now, ticker.C, sigCh)
}

func runLoop(machine *debounce.Machine, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, hub *web.Hub, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			machine.Update()
			if err := machine.Err(); err != nil {
				log.Printf("gpio error: %v", err)
			}

			for _, edge := range machine.PollEdges(t) {
				log.Printf("event: %s (state=%s)", edge.Type, edge.State)
				if err := publisher.Publish(edge); err != nil {
					log.Printf("publish error: %v", err)
					// Don't crash on publish failure
				}
				if hub != nil {
					hub.BroadcastEdge(edge)
				}
				if tracker != nil {
					tracker.RecordEdge(edge)
				}
			}

			if tracker == nil {
				continue
			}

			tracker.Update(machine.State(), machine.Indicator())
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

			// Check for heartbeat
			if hbData := tracker.CheckHeartbeat(t, heartbeat); hbData != nil {
				log.Printf("heartbeat: uptime=%v pressed=%d released=%d",
					hbData.Uptime, hbData.Counts.Pressed, hbData.Counts.Released)

				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				snap := tracker.Snapshot()
				hbEvent := mqtt.SystemEvent{
					Timestamp:  hbData.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func levelString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}
