// Package sampler takes one measurement per interval and appends it to the
// spreadsheet and any extra sinks.
package sampler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
	"github.com/LeonardoBeccarini/clever_harvest/internal/sensor"
	"github.com/LeonardoBeccarini/clever_harvest/internal/storage"
)

// Capturer returns an annotated JPEG.
type Capturer interface {
	Capture(ctx context.Context, annotation string) ([]byte, error)
}

// Uploader stores an object and returns a download URL for it.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) (string, error)
}

// Sink receives every completed record.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec model.Measurement) error
}

// Deps are the collaborators of a cycle. Each is used only when the
// configuration enables it; a nil collaborator disables its step too.
type Deps struct {
	Clock       Clock
	Thermometer sensor.Thermometer
	Moisture    sensor.DigitalInput
	Camera      Capturer
	Uploader    Uploader
	Sheet       Sink
	Sinks       []Sink
	Metrics     *Metrics
	Logger      *slog.Logger
}

type Cycle struct {
	cfg    config.Config
	deps   Deps
	policy Policy
}

func NewCycle(cfg config.Config, deps Deps) *Cycle {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Cycle{cfg: cfg, deps: deps, policy: PolicyFor(cfg.Sampler.SensorFailure)}
}

// Run performs one cycle. The returned error is non-nil only when a failure
// maps to AbortCycle; every other failure is logged and absorbed.
func (c *Cycle) Run(ctx context.Context) (model.Measurement, error) {
	start := c.deps.Clock.Now().UTC()
	log := c.deps.Logger.With("cycle", uuid.NewString())
	log.Debug("cycle started", "ts", start)

	humidity, temperature, err := c.readClimate()
	if err != nil && c.fail(log, err) == AbortCycle {
		c.deps.Metrics.observeCycle("aborted", c.deps.Clock.Now().Sub(start))
		return model.Measurement{}, err
	}

	moisture, err := c.readMoisture()
	if err != nil && c.fail(log, err) == AbortCycle {
		c.deps.Metrics.observeCycle("aborted", c.deps.Clock.Now().Sub(start))
		return model.Measurement{}, err
	}

	draft := model.Measurement{Timestamp: start, Humidity: humidity, Temperature: temperature, Moisture: moisture}
	imageURL, err := c.photograph(ctx, draft)
	if err != nil && c.fail(log, err) == AbortCycle {
		c.deps.Metrics.observeCycle("aborted", c.deps.Clock.Now().Sub(start))
		return model.Measurement{}, err
	}

	rec := model.Measurement{
		Timestamp:   start,
		Humidity:    humidity,
		Temperature: temperature,
		Moisture:    moisture,
		ImageURL:    imageURL,
	}
	log.Info("measurement", "record", rec)
	c.deps.Metrics.observeRecord(rec)

	for _, s := range c.sinks() {
		if err := s.Write(ctx, rec); err != nil {
			perr := &PersistError{Sink: s.Name(), Err: err}
			if c.fail(log, perr) == AbortCycle {
				c.deps.Metrics.observeCycle("aborted", c.deps.Clock.Now().Sub(start))
				return model.Measurement{}, perr
			}
			continue
		}
		log.Debug("record persisted", "sink", s.Name())
	}

	if err := c.deps.Metrics.sampleHost(ctx); err != nil {
		log.Debug("host metrics unavailable", "error", err)
	}
	c.deps.Metrics.observeCycle("ok", c.deps.Clock.Now().Sub(start))
	return rec, nil
}

func (c *Cycle) readClimate() (*float64, *float64, error) {
	if c.cfg.Sensors.DHT22Pin == nil || c.deps.Thermometer == nil {
		return nil, nil, nil
	}
	h, celsius, err := c.deps.Thermometer.ReadRetry()
	if err != nil {
		return nil, nil, &SensorError{Sensor: "dht22", Err: err}
	}
	humidity := sensor.Round2(h)
	temperature := sensor.Fahrenheit(celsius)
	return &humidity, &temperature, nil
}

func (c *Cycle) readMoisture() (*bool, error) {
	if c.cfg.Sensors.MoisturePin == nil || c.deps.Moisture == nil {
		return nil, nil
	}
	level, err := c.deps.Moisture.Read()
	if err != nil {
		return nil, &SensorError{Sensor: "moisture", Err: err}
	}
	wet := sensor.IsWet(level)
	return &wet, nil
}

func (c *Cycle) photograph(ctx context.Context, draft model.Measurement) (*string, error) {
	if !c.cfg.Storage.Enabled() || c.deps.Camera == nil || c.deps.Uploader == nil {
		return nil, nil
	}
	jpg, err := c.deps.Camera.Capture(ctx, draft.Annotation())
	if err != nil {
		return nil, &UploadError{Stage: "capture", Err: err}
	}
	url, err := c.deps.Uploader.Upload(ctx, storage.ObjectKey(c.cfg.Title, draft.Timestamp), jpg)
	if err != nil {
		return nil, &UploadError{Stage: "upload", Err: err}
	}
	return &url, nil
}

func (c *Cycle) sinks() []Sink {
	out := make([]Sink, 0, len(c.deps.Sinks)+1)
	if c.cfg.Sheets.Enabled() && c.deps.Sheet != nil {
		out = append(out, c.deps.Sheet)
	}
	for _, s := range c.deps.Sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// fail logs err under its kind and returns the policy decision.
func (c *Cycle) fail(log *slog.Logger, err error) Action {
	action := c.policy.ActionFor(err)
	kind, _ := KindOf(err)
	c.deps.Metrics.observeFailure(kind)
	log.Error("cycle step failed", "kind", string(kind), "action", action.String(), "error", err)
	return action
}
