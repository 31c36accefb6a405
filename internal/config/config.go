// Package config builds the immutable process configuration shared by the
// sampler and the dashboard.
//
// Sources are applied in order, later wins: defaults, an optional YAML file,
// an optional .env file plus the process environment (CLEVER_HARVEST_*).
// Command-line flags are applied on top by the cmd packages.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // dashboard labels need zone data on minimal images

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CLEVER_HARVEST_"

const (
	DriverGPIO = "gpio"
	DriverSim  = "sim"

	PolicyAbort   = "abort"
	PolicyDegrade = "degrade"
)

type Config struct {
	Title     string          `yaml:"title"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Sensors   SensorConfig    `yaml:"sensors"`
	Camera    CameraConfig    `yaml:"camera"`
	Storage   StorageConfig   `yaml:"storage"`
	Sheets    SheetsConfig    `yaml:"sheets"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Influx    InfluxConfig    `yaml:"influx"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type SensorConfig struct {
	DHT22Pin    *int   `yaml:"dht22_pin"`
	MoisturePin *int   `yaml:"moisture_pin"`
	Driver      string `yaml:"driver"`
	DHTRetries  int    `yaml:"dht_retries"`
}

type CameraConfig struct {
	Command  string        `yaml:"command"`
	Rotation int           `yaml:"rotation"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	WarmUp   time.Duration `yaml:"warm_up"`
}

type StorageConfig struct {
	Bucket          string        `yaml:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	URLExpiry       time.Duration `yaml:"url_expiry"`
}

// Enabled reports whether image capture and upload should run:
// bucket, access key id and secret must all be present.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

type SheetsConfig struct {
	CredentialsJSON string `yaml:"credentials_json"`
}

func (s SheetsConfig) Enabled() bool { return strings.TrimSpace(s.CredentialsJSON) != "" }

type SamplerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	SensorFailure string        `yaml:"sensor_failure_policy"`
	MetricsAddr   string        `yaml:"metrics_addr"`
}

type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	LogTopic string `yaml:"log_topic"`
}

func (m MQTTConfig) Enabled() bool { return m.Host != "" }

type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

func (i InfluxConfig) Enabled() bool { return i.URL != "" && i.Org != "" && i.Bucket != "" }

type DashboardConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Timezone  string `yaml:"timezone"`
	TrendSize int    `yaml:"trend_size"`
}

// Defaults are the values used when nothing else is set.
func Defaults() Config {
	return Config{
		Title:     "clever-harvest",
		LogLevel:  "info",
		LogFormat: "json",
		Sensors: SensorConfig{
			Driver:     DriverGPIO,
			DHTRetries: 11,
		},
		Camera: CameraConfig{
			Command: "libcamera-still",
			Width:   1640,
			Height:  1232,
			WarmUp:  5 * time.Second,
		},
		Storage: StorageConfig{
			Region:    "us-east-1",
			URLExpiry: 24 * time.Hour,
		},
		Sampler: SamplerConfig{
			Interval:      5 * time.Minute,
			SensorFailure: PolicyAbort,
		},
		MQTT: MQTTConfig{
			Port:     1883,
			ClientID: "clever-harvest-sampler",
		},
		Influx: InfluxConfig{
			Measurement: "environment",
		},
		Dashboard: DashboardConfig{
			Addr:      ":8080",
			Timezone:  "US/Pacific",
			TrendSize: 12,
		},
	}
}

// LookupFunc matches os.LookupEnv; tests inject a map-backed one.
type LookupFunc func(key string) (string, bool)

// Load reads the optional YAML file at path and the environment.
// A missing .env file is not an error; an unreadable one is.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return LoadFrom(path, os.LookupEnv)
}

func loadDotEnv(filename string) error {
	err := godotenv.Load(filename)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", filename, err)
	}
	return nil
}

// LoadFrom is Load with an explicit environment lookup.
func LoadFrom(path string, lookup LookupFunc) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	e := envReader{lookup: lookup}

	e.str("TITLE", &cfg.Title)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("LOG_FORMAT", &cfg.LogFormat)

	e.pin("DHT22_PIN", &cfg.Sensors.DHT22Pin)
	e.pin("MOISTURE_PIN", &cfg.Sensors.MoisturePin)
	e.str("SENSOR_DRIVER", &cfg.Sensors.Driver)
	e.int("DHT_RETRIES", &cfg.Sensors.DHTRetries)

	e.str("CAMERA_COMMAND", &cfg.Camera.Command)
	e.int("IMAGE_ROTATION", &cfg.Camera.Rotation)
	e.duration("CAMERA_WARM_UP", &cfg.Camera.WarmUp)

	e.str("S3_BUCKET_NAME", &cfg.Storage.Bucket)
	e.str("S3_ACCESS_KEY_ID", &cfg.Storage.AccessKeyID)
	e.str("S3_SECRET_ACCESS_KEY", &cfg.Storage.SecretAccessKey)
	e.str("S3_REGION", &cfg.Storage.Region)
	e.str("S3_ENDPOINT", &cfg.Storage.Endpoint)
	e.duration("S3_URL_EXPIRY", &cfg.Storage.URLExpiry)

	e.str("GOOGLE_API_CLIENT_SECRET_JSON", &cfg.Sheets.CredentialsJSON)

	e.duration("INTERVAL", &cfg.Sampler.Interval)
	e.str("SENSOR_FAILURE_POLICY", &cfg.Sampler.SensorFailure)
	e.str("METRICS_ADDR", &cfg.Sampler.MetricsAddr)

	e.str("MQTT_HOST", &cfg.MQTT.Host)
	e.int("MQTT_PORT", &cfg.MQTT.Port)
	e.str("MQTT_USER", &cfg.MQTT.User)
	e.str("MQTT_PASSWORD", &cfg.MQTT.Password)
	e.str("MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	e.str("MQTT_TOPIC", &cfg.MQTT.Topic)
	e.str("MQTT_LOG_TOPIC", &cfg.MQTT.LogTopic)

	e.str("INFLUX_URL", &cfg.Influx.URL)
	e.str("INFLUX_TOKEN", &cfg.Influx.Token)
	e.str("INFLUX_ORG", &cfg.Influx.Org)
	e.str("INFLUX_BUCKET", &cfg.Influx.Bucket)
	e.str("INFLUX_MEASUREMENT", &cfg.Influx.Measurement)

	e.str("WEB_ADDR", &cfg.Dashboard.Addr)
	e.str("WEB_USERNAME", &cfg.Dashboard.Username)
	e.str("WEB_PASSWORD", &cfg.Dashboard.Password)
	e.str("TIMEZONE", &cfg.Dashboard.Timezone)
	e.int("TREND_SIZE", &cfg.Dashboard.TrendSize)

	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MeasurementTopic is the MQTT topic for telemetry, derived from the title
// unless set explicitly.
func (c Config) MeasurementTopic() string {
	if c.MQTT.Topic != "" {
		return c.MQTT.Topic
	}
	return "harvest/" + c.Title + "/measurement"
}

// Validate checks the settings every binary depends on.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Title) == "" {
		errs = append(errs, errors.New("title must not be empty"))
	}
	if c.Sensors.DHT22Pin != nil && *c.Sensors.DHT22Pin < 0 {
		errs = append(errs, fmt.Errorf("dht22 pin %d is negative", *c.Sensors.DHT22Pin))
	}
	if c.Sensors.MoisturePin != nil && *c.Sensors.MoisturePin < 0 {
		errs = append(errs, fmt.Errorf("moisture pin %d is negative", *c.Sensors.MoisturePin))
	}
	switch c.Sensors.Driver {
	case DriverGPIO, DriverSim:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor driver %q", c.Sensors.Driver))
	}
	if c.Sampler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Sampler.Interval))
	}
	switch c.Sampler.SensorFailure {
	case PolicyAbort, PolicyDegrade:
	default:
		errs = append(errs, fmt.Errorf("unknown sensor failure policy %q", c.Sampler.SensorFailure))
	}
	return errors.Join(errs...)
}

// ValidateDashboard adds the checks only the web service needs.
func (c Config) ValidateDashboard() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Dashboard.Password == "" {
		errs = append(errs, errors.New(EnvPrefix+"WEB_PASSWORD is required"))
	}
	if !c.Sheets.Enabled() {
		errs = append(errs, errors.New(EnvPrefix+"GOOGLE_API_CLIENT_SECRET_JSON is required"))
	}
	if _, err := time.LoadLocation(c.Dashboard.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Dashboard.Timezone, err))
	}
	if c.Dashboard.TrendSize <= 0 {
		errs = append(errs, fmt.Errorf("trend size must be positive, got %d", c.Dashboard.TrendSize))
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) pin(key string, dst **int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = &n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
}
