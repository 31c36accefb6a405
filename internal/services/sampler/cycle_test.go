package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
	"github.com/LeonardoBeccarini/clever_harvest/internal/sensor"
	"github.com/LeonardoBeccarini/clever_harvest/internal/storage"
)

var t0 = time.Date(2024, 5, 1, 13, 45, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }
func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

type fakeThermometer struct {
	humidity, celsius float64
	err               error
	calls             int
}

func (f *fakeThermometer) ReadRetry() (float64, float64, error) {
	f.calls++
	return f.humidity, f.celsius, f.err
}

type fakePin struct {
	level sensor.Level
	err   error
	calls int
}

func (f *fakePin) Read() (sensor.Level, error) {
	f.calls++
	return f.level, f.err
}

type fakeCamera struct {
	err        error
	calls      int
	annotation string
}

func (f *fakeCamera) Capture(_ context.Context, annotation string) ([]byte, error) {
	f.calls++
	f.annotation = annotation
	if f.err != nil {
		return nil, f.err
	}
	return []byte{0xff, 0xd8, 0xff}, nil
}

type fakeUploader struct {
	err   error
	calls int
	key   string
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte) (string, error) {
	f.calls++
	f.key = key
	if f.err != nil {
		return "", f.err
	}
	return "https://bucket.example/" + key + "?sig=1", nil
}

type fakeSink struct {
	name string
	err  error
	got  []model.Measurement
}

func (f *fakeSink) Name() string { return f.name }
func (f *fakeSink) Write(_ context.Context, rec model.Measurement) error {
	f.got = append(f.got, rec)
	return f.err
}

type rig struct {
	cfg      config.Config
	thermo   *fakeThermometer
	pin      *fakePin
	camera   *fakeCamera
	uploader *fakeUploader
	sheet    *fakeSink
	mqtt     *fakeSink
	metrics  *Metrics
}

func newRig() *rig {
	return &rig{
		cfg:      config.Defaults(),
		thermo:   &fakeThermometer{humidity: 55, celsius: 22},
		pin:      &fakePin{level: sensor.High},
		camera:   &fakeCamera{},
		uploader: &fakeUploader{},
		sheet:    &fakeSink{name: "sheet"},
		mqtt:     &fakeSink{name: "mqtt"},
	}
}

func (r *rig) withDHT() *rig {
	pin := 4
	r.cfg.Sensors.DHT22Pin = &pin
	return r
}

func (r *rig) withMoisture() *rig {
	pin := 17
	r.cfg.Sensors.MoisturePin = &pin
	return r
}

func (r *rig) withStorage() *rig {
	r.cfg.Storage.Bucket = "photos"
	r.cfg.Storage.AccessKeyID = "AKIA"
	r.cfg.Storage.SecretAccessKey = "secret"
	return r
}

func (r *rig) withSheet() *rig {
	r.cfg.Sheets.CredentialsJSON = `{"type":"service_account"}`
	return r
}

func (r *rig) cycle() *Cycle {
	return NewCycle(r.cfg, Deps{
		Clock:       fixedClock{t0},
		Thermometer: r.thermo,
		Moisture:    r.pin,
		Camera:      r.camera,
		Uploader:    r.uploader,
		Sheet:       r.sheet,
		Metrics:     r.metrics,
		Logger:      discardLogger(),
	})
}

func TestCycleWithNothingConfigured(t *testing.T) {
	r := newRig()
	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.Measurement{Timestamp: t0}, rec)
	assert.Zero(t, r.thermo.calls)
	assert.Zero(t, r.pin.calls)
	assert.Zero(t, r.camera.calls)
	assert.Zero(t, r.uploader.calls)
	assert.Empty(t, r.sheet.got)
}

func TestCycleConvertsDHTReading(t *testing.T) {
	r := newRig().withDHT()
	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)

	require.NotNil(t, rec.Temperature)
	require.NotNil(t, rec.Humidity)
	assert.InDelta(t, 71.6, *rec.Temperature, 1e-9)
	assert.InDelta(t, 55.0, *rec.Humidity, 1e-9)
	assert.Nil(t, rec.Moisture)
	assert.Equal(t, 1, r.thermo.calls)
}

func TestCycleMoisturePolarity(t *testing.T) {
	r := newRig().withMoisture()
	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.Moisture)
	assert.False(t, *rec.Moisture, "HIGH is dry")

	r.pin.level = sensor.Low
	rec, err = r.cycle().Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.Moisture)
	assert.True(t, *rec.Moisture, "LOW is wet")
}

func TestCycleUploadsAnnotatedPhoto(t *testing.T) {
	r := newRig().withDHT().withMoisture().withStorage().withSheet()
	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, storage.ObjectKey("clever-harvest", t0), r.uploader.key)
	assert.Equal(t, "2024-05-01 13:45:00 T: 71.6 H: 55% S: Dry", r.camera.annotation)
	require.NotNil(t, rec.ImageURL)
	assert.Contains(t, *rec.ImageURL, "clever-harvest/2024-05-01T13:45:00Z.jpg")

	require.Len(t, r.sheet.got, 1)
	assert.Equal(t, rec, r.sheet.got[0])
}

func TestCycleWithoutStorageTripleNeverUploads(t *testing.T) {
	r := newRig().withSheet()
	r.cfg.Storage.Bucket = "photos"
	r.cfg.Storage.AccessKeyID = "AKIA"

	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.ImageURL)
	assert.Zero(t, r.camera.calls)
	assert.Zero(t, r.uploader.calls)
}

func TestCycleUploadFailureStillAppends(t *testing.T) {
	r := newRig().withStorage().withSheet()
	r.uploader.err = errors.New("403 forbidden")

	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.ImageURL)
	require.Len(t, r.sheet.got, 1)
	assert.Nil(t, r.sheet.got[0].ImageURL)
}

func TestCycleCaptureFailureSkipsUpload(t *testing.T) {
	r := newRig().withStorage().withSheet()
	r.camera.err = errors.New("no camera")

	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.ImageURL)
	assert.Zero(t, r.uploader.calls)
	assert.Len(t, r.sheet.got, 1)
}

func TestCycleAppendFailureIsAbsorbed(t *testing.T) {
	r := newRig().withSheet()
	r.sheet.err = errors.New("quota exceeded")
	c := NewCycle(r.cfg, Deps{
		Clock:  fixedClock{t0},
		Sheet:  r.sheet,
		Sinks:  []Sink{r.mqtt},
		Logger: discardLogger(),
	})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.sheet.got, 1)
	assert.Len(t, r.mqtt.got, 1, "later sinks still receive the record")
}

func TestCycleSheetNeedsCredentials(t *testing.T) {
	r := newRig()
	c := NewCycle(r.cfg, Deps{
		Clock:  fixedClock{t0},
		Sheet:  r.sheet,
		Sinks:  []Sink{r.mqtt},
		Logger: discardLogger(),
	})

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.sheet.got)
	assert.Len(t, r.mqtt.got, 1)
}

func TestCycleSensorFailureAbortsByDefault(t *testing.T) {
	r := newRig().withDHT().withStorage().withSheet()
	r.thermo.err = errors.New("checksum error")

	_, err := r.cycle().Run(context.Background())
	require.Error(t, err)

	var serr *SensorError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "dht22", serr.Sensor)
	assert.Zero(t, r.camera.calls)
	assert.Empty(t, r.sheet.got)
}

func TestCycleSensorFailureDegrades(t *testing.T) {
	r := newRig().withDHT().withMoisture().withSheet()
	r.cfg.Sampler.SensorFailure = config.PolicyDegrade
	r.thermo.err = errors.New("timeout")

	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.Temperature)
	assert.Nil(t, rec.Humidity)
	require.NotNil(t, rec.Moisture)
	assert.Len(t, r.sheet.got, 1)
}

func TestCycleRowOrderIsStable(t *testing.T) {
	r := newRig().withMoisture().withSheet()
	rec, err := r.cycle().Run(context.Background())
	require.NoError(t, err)

	row := r.sheet.got[0].Row()
	require.Len(t, row, 5)
	assert.Equal(t, rec.Timestamp.Format(model.TimestampLayout), row[0])
	assert.Equal(t, "", row[1])
	assert.Equal(t, "", row[2])
	assert.Equal(t, false, row[3])
	assert.Equal(t, "", row[4])
}

func TestCycleMetrics(t *testing.T) {
	r := newRig().withDHT().withSheet()
	r.metrics = NewMetrics(prometheus.NewRegistry())
	r.sheet.err = errors.New("boom")

	_, err := r.cycle().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.failures.WithLabelValues("persist")))
	assert.InDelta(t, 71.6, testutil.ToFloat64(r.metrics.temperature), 1e-9)

	r.thermo.err = errors.New("timeout")
	_, err = r.cycle().Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cycles.WithLabelValues("aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.failures.WithLabelValues("sensor")))
}
