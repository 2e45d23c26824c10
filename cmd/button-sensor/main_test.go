package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/button-sensor/internal/config"
	"github.com/sweeney/button-sensor/internal/debounce"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
	"github.com/sweeney/button-sensor/internal/status"
	"github.com/sweeney/button-sensor/internal/web"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}

	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	info := readNetworkInfo()
	if info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" {
		t.Errorf("Type: got %q, want empty", info.Type)
	}
	if info.IP != "" {
		t.Errorf("IP: got %q, want empty", info.IP)
	}
}

// --- config tests ---

func TestOverridesFromFlagsOnlySetFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	poll := fs.Duration("poll", 10*time.Millisecond, "")
	broker := fs.String("broker", "tcp://default:1883", "")
	httpAddr := fs.String("http", ":80", "")
	if err := fs.Parse([]string{"-poll", "25ms"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	o := overridesFromFlags(fs.Visit, config.Overrides{Poll: poll, Broker: broker, HTTPAddr: httpAddr})
	if o.Poll == nil || *o.Poll != 25*time.Millisecond {
		t.Errorf("Poll override: got %v, want 25ms", o.Poll)
	}
	if o.Broker != nil {
		t.Errorf("Broker override should be nil for unset flag, got %q", *o.Broker)
	}
	if o.HTTPAddr != nil {
		t.Errorf("HTTPAddr override should be nil for unset flag, got %q", *o.HTTPAddr)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", config.Overrides{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Window() != 50*time.Millisecond {
		t.Errorf("Window: got %v, want 50ms (default 40ms clamped)", cfg.Window())
	}
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "button.yaml")
	yml := "debounce:\n  poll_ms: 20\n  window_ms: 100\nmqtt:\n  broker: tcp://file:1883\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	broker := "tcp://flag:1883"
	cfg, err := loadConfig(path, config.Overrides{Broker: &broker})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Poll() != 20*time.Millisecond {
		t.Errorf("Poll: got %v, want 20ms from file", cfg.Poll())
	}
	if cfg.Window() != 100*time.Millisecond {
		t.Errorf("Window: got %v, want 100ms from file", cfg.Window())
	}
	if cfg.MQTT.Broker != broker {
		t.Errorf("Broker: got %q, want flag value %q", cfg.MQTT.Broker, broker)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	backend := "sysfs"
	if _, err := loadConfig("", config.Overrides{Backend: &backend}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), config.Overrides{}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// expiredTimer reports every window as elapsed, so each tick consumes
// exactly one button sample.
type expiredTimer struct{}

func (expiredTimer) Read(time.Time) bool { return true }
func (expiredTimer) Reset(time.Duration) {}

// repeat returns n copies of level.
func repeat(level bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func newMachine(samples ...bool) (*debounce.Machine, *gpio.FakePort) {
	port := gpio.NewFakePort(samples...)
	return debounce.New(port, debounce.WithTimer(expiredTimer{})), port
}

// runRunLoop drives runLoop for nTicks then delivers signal, returning the
// error from runLoop.
func runRunLoop(t *testing.T, machine *debounce.Machine, pub *mqtt.FakePublisher, tracker *status.Tracker, hub *web.Hub, heartbeat time.Duration, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(machine, pub, pub, tracker, hub, heartbeat, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRunLoopNoEventsWhileReleased(t *testing.T) {
	m, _ := newMachine(repeat(false, 4)...)
	pub := mqtt.NewFakePublisher()

	err := runRunLoop(t, m, pub, nil, nil, 0, fakeClock(t0, 10*time.Millisecond), 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 0 {
		t.Errorf("expected 0 edges, got %d", len(pub.Edges))
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	if pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", pub.SystemEvents[0].Event)
	}
}

func TestRunLoopPressAndRelease(t *testing.T) {
	// released, press confirmed, held, release confirmed
	samples := []bool{false, true, true, true, false, false}
	m, port := newMachine(samples...)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(t0, status.Config{})

	err := runRunLoop(t, m, pub, tracker, nil, 0, fakeClock(t0, 10*time.Millisecond), len(samples), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(pub.Edges))
	}
	if pub.Edges[0].Type != debounce.EdgePressed || !pub.Edges[0].Indicator {
		t.Errorf("edge 0: got %+v, want PRESSED with indicator on", pub.Edges[0])
	}
	if pub.Edges[1].Type != debounce.EdgeReleased || pub.Edges[1].Indicator {
		t.Errorf("edge 1: got %+v, want RELEASED with indicator off", pub.Edges[1])
	}
	if !pub.Edges[1].Timestamp.After(pub.Edges[0].Timestamp) {
		t.Error("expected release stamped after press")
	}

	wantWrites := []bool{false, true, false}
	if len(port.Writes) != len(wantWrites) {
		t.Fatalf("indicator writes: got %v, want %v", port.Writes, wantWrites)
	}
	for i := range wantWrites {
		if port.Writes[i] != wantWrites[i] {
			t.Errorf("write %d: got %v, want %v", i, port.Writes[i], wantWrites[i])
		}
	}

	snap := tracker.Snapshot()
	if snap.Counts.Pressed != 1 || snap.Counts.Released != 1 {
		t.Errorf("counts: got %+v, want 1/1", snap.Counts)
	}
	if snap.State != debounce.Released {
		t.Errorf("tracker state: got %s, want RELEASED", snap.State)
	}
	if snap.LastEdge == nil || snap.LastEdge.Type != debounce.EdgeReleased {
		t.Errorf("last edge: got %+v, want RELEASED", snap.LastEdge)
	}
}

func TestRunLoopReportsIndicatorAfterFailedWrite(t *testing.T) {
	m, port := newMachine(false, true, true)
	port.WriteError = errors.New("led fault")
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(t0, status.Config{})

	err := runRunLoop(t, m, pub, tracker, nil, 0, fakeClock(t0, 10*time.Millisecond), 3, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 1 || pub.Edges[0].Indicator {
		t.Errorf("published edge should report the LED off, got %+v", pub.Edges)
	}
	snap := tracker.Snapshot()
	if snap.State != debounce.Pressed {
		t.Errorf("tracker state: got %s, want PRESSED", snap.State)
	}
	if snap.Indicator {
		t.Error("tracker should report the LED off after the failed write")
	}
}

func TestRunLoopBounceRejection(t *testing.T) {
	// press seen, gone at expiry
	samples := []bool{false, true, false, false}
	m, _ := newMachine(samples...)
	pub := mqtt.NewFakePublisher()

	err := runRunLoop(t, m, pub, nil, nil, 0, fakeClock(t0, 10*time.Millisecond), len(samples), syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 0 {
		t.Errorf("expected 0 edges (bounce rejected), got %d", len(pub.Edges))
	}
}

func TestRunLoopRealWindow(t *testing.T) {
	// 20ms ticks with a 50ms window: the press is confirmed three ticks after
	// it is first seen.
	port := gpio.NewFakePort(false, true, true)
	m := debounce.New(port,
		debounce.WithWindow(50*time.Millisecond),
		debounce.WithClock(fakeClock(t0, 20*time.Millisecond)))
	pub := mqtt.NewFakePublisher()

	err := runRunLoop(t, m, pub, nil, nil, 0, fakeClock(t0, 20*time.Millisecond), 5, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 1 || pub.Edges[0].Type != debounce.EdgePressed {
		t.Fatalf("expected 1 PRESSED edge, got %+v", pub.Edges)
	}
	if port.Reads != 3 {
		t.Errorf("button reads: got %d, want 3 (sampled only at expiry)", port.Reads)
	}
}

func TestRunLoopGPIOReadError(t *testing.T) {
	m, port := newMachine(false, true, true)
	port.ReadError = errors.New("gpio fault")
	pub := mqtt.NewFakePublisher()

	err := runRunLoop(t, m, pub, nil, nil, 0, fakeClock(t0, 10*time.Millisecond), 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if m.State() != debounce.Released {
		t.Errorf("state after read errors: got %s, want RELEASED", m.State())
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event after GPIO errors")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls per tick: one. t0 is the tracker start; ticks at +5m..+20m.
	// The 15-minute heartbeat fires once at +15m.
	step := 5 * time.Minute
	clock := fakeClock(t0.Add(step), step)
	m, _ := newMachine(repeat(false, 4)...)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(t0, status.Config{HeartbeatMs: (15 * time.Minute).Milliseconds()})

	err := runRunLoop(t, m, pub, tracker, nil, 15*time.Minute, clock, 4, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats, shutdowns int
	for i, se := range pub.SystemEvents {
		switch se.Event {
		case "HEARTBEAT":
			heartbeats++
			if !se.Timestamp.Equal(t0.Add(15 * time.Minute)) {
				t.Errorf("heartbeat timestamp: got %v", se.Timestamp)
			}
			if !strings.Contains(string(pub.SystemPayloads[i]), `"event":"HEARTBEAT"`) {
				t.Errorf("heartbeat payload: %s", pub.SystemPayloads[i])
			}
		case "SHUTDOWN":
			shutdowns++
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT event, got %d", heartbeats)
	}
	if shutdowns != 1 {
		t.Errorf("expected 1 SHUTDOWN event, got %d", shutdowns)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	m, _ := newMachine(false, true, true)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker unavailable")
	tracker := status.NewTracker(t0, status.Config{})

	err := runRunLoop(t, m, pub, tracker, nil, 0, fakeClock(t0, 10*time.Millisecond), 3, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.Edges) != 0 {
		t.Errorf("expected 0 recorded edges (publish failed), got %d", len(pub.Edges))
	}
	// The edge still counts locally.
	if got := tracker.Snapshot().Counts.Pressed; got != 1 {
		t.Errorf("pressed count: got %d, want 1", got)
	}

	found := false
	for _, se := range pub.SystemEvents {
		if se.Event == "SHUTDOWN" {
			found = true
		}
	}
	if !found {
		t.Error("expected SHUTDOWN system event despite publish errors")
	}
}

func TestRunLoopBroadcastsToHub(t *testing.T) {
	m, _ := newMachine(false, true, true)
	pub := mqtt.NewFakePublisher()
	hub := web.NewHub(web.HubConfig{BroadcastBuf: 4})

	// Hub is not running, so the frame stays queued and never blocks the loop.
	err := runRunLoop(t, m, pub, nil, hub, 0, fakeClock(t0, 10*time.Millisecond), 3, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(pub.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(pub.Edges))
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	m, _ := newMachine(false)
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(t0, status.Config{})

	err := runRunLoop(t, m, pub, tracker, nil, 0, fakeClock(t0, 10*time.Millisecond), 1, syscall.SIGINT)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	se := pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGINT" || !se.Retained {
		t.Errorf("shutdown event: got %+v", se)
	}
	payload := string(pub.SystemPayloads[0])
	if !strings.Contains(payload, `"reason":"SIGINT"`) {
		t.Errorf("payload missing reason: %s", payload)
	}
	if !strings.Contains(payload, `"connected":true`) {
		t.Errorf("payload missing mqtt connected: %s", payload)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	m, _ := newMachine(false)
	pub := mqtt.NewFakePublisher()

	err := runRunLoop(t, m, pub, nil, nil, 0, fakeClock(t0, 10*time.Millisecond), 0, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("expected SHUTDOWN with reason SIGTERM, got %+v", pub.SystemEvents)
	}
}

func TestLevelString(t *testing.T) {
	if levelString(true) != "PRESSED" || levelString(false) != "RELEASED" {
		t.Error("unexpected level strings")
	}
}
