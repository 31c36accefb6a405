package sampler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
)

const namespace = "clever_harvest"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	cycles      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    prometheus.Histogram
	temperature prometheus.Gauge
	humidity    prometheus.Gauge
	moisture    prometheus.Gauge
	hostCPU     prometheus.Gauge
	hostMemory  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Measurement cycles by outcome.",
		}, []string{"outcome"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Failures inside cycles by kind.",
		}, []string{"kind"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one measurement cycle.",
			Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 30, 60, 120},
		}),
		temperature: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_fahrenheit",
			Help:      "Last recorded temperature.",
		}),
		humidity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last recorded relative humidity.",
		}),
		moisture: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "soil_wet",
			Help:      "1 when the last moisture read was wet.",
		}),
		hostCPU: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation since the previous cycle.",
		}),
		hostMemory: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Host memory in use.",
		}),
	}
}

func (m *Metrics) observeCycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) observeFailure(kind Kind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) observeRecord(rec model.Measurement) {
	if m == nil {
		return
	}
	if rec.Temperature != nil {
		m.temperature.Set(*rec.Temperature)
	}
	if rec.Humidity != nil {
		m.humidity.Set(*rec.Humidity)
	}
	if rec.Moisture != nil {
		v := 0.0
		if *rec.Moisture {
			v = 1
		}
		m.moisture.Set(v)
	}
}

// sampleHost refreshes the host gauges.
func (m *Metrics) sampleHost(ctx context.Context) error {
	if m == nil {
		return nil
	}
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	if len(pct) > 0 {
		m.hostCPU.Set(pct[0])
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	m.hostMemory.Set(vm.UsedPercent)
	return nil
}
