package sampler

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthHandler struct {
	sched    *Scheduler
	mqtt     mqtt.Client // nil when the telemetry sink is off
	clock    Clock
	interval time.Duration
}

// NewHealthHandler reports "ok" while cycles keep completing within two
// intervals, "degraded" when they complete but MQTT is down, and "down"
// (503) otherwise.
func NewHealthHandler(sched *Scheduler, m mqtt.Client, clock Clock, interval time.Duration) http.Handler {
	if clock == nil {
		clock = SystemClock()
	}
	return &healthHandler{sched: sched, mqtt: m, clock: clock, interval: interval}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status        string  `json:"status"`
		LastCycleAgeS float64 `json:"last_cycle_age_sec"`
		LastOKAgeS    float64 `json:"last_ok_age_sec"`
		MQTTConnected *bool   `json:"mqtt_connected,omitempty"`
	}
	now := h.clock.Now()
	lastStart, lastOK := h.sched.LastStart(), h.sched.LastOK()

	st := status{Status: "down", LastCycleAgeS: -1, LastOKAgeS: -1}
	if !lastStart.IsZero() {
		st.LastCycleAgeS = now.Sub(lastStart).Seconds()
	}
	fresh := false
	if !lastOK.IsZero() {
		st.LastOKAgeS = now.Sub(lastOK).Seconds()
		fresh = now.Sub(lastOK) <= 2*h.interval
	}
	if h.mqtt != nil {
		connected := h.mqtt.IsConnectionOpen()
		st.MQTTConnected = &connected
	}

	switch {
	case fresh && (st.MQTTConnected == nil || *st.MQTTConnected):
		st.Status = "ok"
	case fresh:
		st.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if st.Status == "down" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// NewServer exposes /healthz and /metrics on addr.
func NewServer(addr string, reg *prometheus.Registry, health http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
