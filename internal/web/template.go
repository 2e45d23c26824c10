package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/button-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"utc": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Button Sensor{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>State</h2>
<table>
<tr><th>Button</th><td id="button" class="{{if .Pressed}}on{{else}}off{{end}}">{{if .Pressed}}PRESSED{{else}}RELEASED{{end}}</td></tr>
<tr><th>Machine</th><td id="state">{{.State}}</td></tr>
<tr><th>Indicator</th><td id="indicator" class="{{if .Indicator}}on{{else}}off{{end}}">{{if .Indicator}}on{{else}}off{{end}}</td></tr>
<tr><th>Last edge</th><td id="last-edge">{{if .LastEdge}}{{.LastEdge.Type}} at {{utc .LastEdge.Timestamp}}{{else}}none{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Edge Counts</h2>
<table>
<tr><th>Pressed</th><td id="count-pressed">{{.Counts.Pressed}}</td></tr>
<tr><th>Released</th><td id="count-released">{{.Counts.Released}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{utc .StartTime}}</td></tr>
<tr><th>Backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Window</th><td>{{.Config.WindowMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var buttonEl = document.getElementById("button");
  var stateEl = document.getElementById("state");
  var indEl = document.getElementById("indicator");
  var lastEl = document.getElementById("last-edge");
  var pressedEl = document.getElementById("count-pressed");
  var releasedEl = document.getElementById("count-released");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function bump(el) {
    el.textContent = String(parseInt(el.textContent, 10) + 1);
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onerror = function() { setDot("err", "error"); };
    ws.onclose = function() {
      setDot("pending", "reconnecting");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "edge") return;
        var pressed = msg.data.event === "PRESSED";
        buttonEl.textContent = msg.data.event;
        buttonEl.className = pressed ? "on" : "off";
        stateEl.textContent = msg.data.state;
        indEl.textContent = msg.data.indicator ? "on" : "off";
        indEl.className = msg.data.indicator ? "on" : "off";
        lastEl.textContent = msg.data.event + " at " + msg.ts;
        bump(pressed ? pressedEl : releasedEl);
      } catch (e) {}
    };
  }

  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	// Template methods cannot take Snapshot receivers through the embedding, so
	// computed values are flattened into fields.
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Pressed bool
		Live    bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Pressed:  snap.Pressed(),
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}
