package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/clever_harvest/internal/camera"
	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
	"github.com/LeonardoBeccarini/clever_harvest/internal/logging"
	"github.com/LeonardoBeccarini/clever_harvest/internal/sensor"
	"github.com/LeonardoBeccarini/clever_harvest/internal/services/sampler"
	"github.com/LeonardoBeccarini/clever_harvest/internal/storage"
	"github.com/LeonardoBeccarini/clever_harvest/pkg/mqttbus"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	logLevel   string
	once       bool

	dht22Pin        int
	moisturePin     int
	imageRotation   int
	bucket          string
	accessKeyID     string
	secretAccessKey string
	title           string
	credentialsJSON string
	image           bool
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sampler",
		Short: "Record greenhouse readings every interval",
		Long: `Reads the DHT22 and soil moisture sensor, photographs the bed and
appends one row per cycle to the Google spreadsheet named after --title.

Every setting can also come from a YAML file (--config) or from
CLEVER_HARVEST_* environment variables; flags win.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlags(cmd, f, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, f.once)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "config file path (YAML)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&f.once, "once", false, "take a single measurement and exit")
	fs.IntVar(&f.dht22Pin, "dht22-pin", 0, "take a reading from the DHT22 sensor on this BCM pin")
	fs.IntVar(&f.moisturePin, "moisture-pin", 0, "take a reading from the moisture sensor on this BCM pin")
	fs.IntVar(&f.imageRotation, "image-rotation", 0, "rotate the captured image clockwise by this many degrees")
	fs.StringVar(&f.bucket, "s3-bucket-name", "", "the name of the s3 bucket")
	fs.StringVar(&f.accessKeyID, "s3-access-key-id", "", "the s3 access key id")
	fs.StringVar(&f.secretAccessKey, "s3-secret-access-key", "", "the s3 secret access key")
	fs.StringVar(&f.title, "title", "", "title of the project (spreadsheet name and image prefix)")
	fs.StringVar(&f.credentialsJSON, "google-api-client-secret-json", "", "google service account credentials as JSON")
	// accepted for compatibility; capture is enabled by the s3 settings
	fs.BoolVar(&f.image, "image", false, "capture an image with the connected camera module")
	_ = fs.MarkHidden("image")
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line only, so
// an unset flag never clobbers the file or environment.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("dht22-pin") {
		pin := f.dht22Pin
		cfg.Sensors.DHT22Pin = &pin
	}
	if changed("moisture-pin") {
		pin := f.moisturePin
		cfg.Sensors.MoisturePin = &pin
	}
	if changed("image-rotation") {
		cfg.Camera.Rotation = f.imageRotation
	}
	if changed("s3-bucket-name") {
		cfg.Storage.Bucket = f.bucket
	}
	if changed("s3-access-key-id") {
		cfg.Storage.AccessKeyID = f.accessKeyID
	}
	if changed("s3-secret-access-key") {
		cfg.Storage.SecretAccessKey = f.secretAccessKey
	}
	if changed("title") {
		cfg.Title = f.title
	}
	if changed("google-api-client-secret-json") {
		cfg.Sheets.CredentialsJSON = f.credentialsJSON
	}
}

func run(parent context.Context, cfg config.Config, once bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	// === MQTT (optional) ===
	var mqttClient mqtt.Client
	if cfg.MQTT.Enabled() {
		mqttClient, err = mqttbus.Connect(ctx, mqttbus.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
		}, logger)
		if err != nil {
			return err
		}
		defer mqttbus.Close(mqttClient)
		if cfg.MQTT.LogTopic != "" {
			w := io.MultiWriter(os.Stdout, mqttbus.NewLogWriter(mqttClient, cfg.MQTT.LogTopic))
			if logger, err = logging.New(w, cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
		}
	}
	slog.SetDefault(logger)

	deps := sampler.Deps{Logger: logger}

	// === Sensors ===
	if err := openSensors(cfg, &deps, logger); err != nil {
		return err
	}

	// === Camera + object storage ===
	if cfg.Storage.Enabled() {
		deps.Camera = camera.New(camera.Options{
			Command:  cfg.Camera.Command,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			Rotation: cfg.Camera.Rotation,
			WarmUpMS: cfg.Camera.WarmUp.Milliseconds(),
		})
		uploader, err := storage.NewS3Uploader(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		deps.Uploader = uploader
	} else {
		logger.Info("image capture disabled: s3 bucket, access key id and secret are all required")
	}

	// === Sinks ===
	if cfg.Sheets.Enabled() {
		deps.Sheet = sampler.NewSheetSink(sampler.GoogleSheetOpener([]byte(cfg.Sheets.CredentialsJSON), cfg.Title))
	} else {
		logger.Warn("spreadsheet disabled: no service account credentials")
	}
	if mqttClient != nil {
		deps.Sinks = append(deps.Sinks, sampler.NewMQTTSink(mqttbus.NewPublisher(mqttClient, cfg.MeasurementTopic())))
	}
	if cfg.Influx.Enabled() {
		influx := influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		defer influx.Close()
		deps.Sinks = append(deps.Sinks, sampler.NewInfluxSink(
			influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket),
			cfg.Influx.Measurement,
			cfg.Title,
		))
	}

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = sampler.NewMetrics(reg)

	cycle := sampler.NewCycle(cfg, deps)
	sched := sampler.NewScheduler(cycle, sampler.SystemClock(), cfg.Sampler.Interval, logger)

	if once {
		return sched.Tick(ctx)
	}

	if cfg.Sampler.MetricsAddr != "" {
		hs := sampler.NewServer(cfg.Sampler.MetricsAddr, reg,
			sampler.NewHealthHandler(sched, mqttClient, sampler.SystemClock(), cfg.Sampler.Interval))
		go func() {
			logger.Info("metrics listening", "addr", cfg.Sampler.MetricsAddr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("sampler ready",
		"title", cfg.Title,
		"interval", cfg.Sampler.Interval,
		"sensor_failure_policy", cfg.Sampler.SensorFailure)
	sched.Run(ctx)
	return nil
}

func openSensors(cfg config.Config, deps *sampler.Deps, logger *slog.Logger) error {
	if cfg.Sensors.DHT22Pin == nil && cfg.Sensors.MoisturePin == nil {
		logger.Info("no sensor pins configured")
		return nil
	}
	if cfg.Sensors.Driver == config.DriverSim {
		sim := sensor.NewSimulator(time.Now().UnixNano())
		deps.Thermometer = sim
		deps.Moisture = sim
		logger.Warn("using simulated sensors")
		return nil
	}

	if err := sensor.HostInit(); err != nil {
		return fmt.Errorf("gpio host init: %w", err)
	}
	if pin := cfg.Sensors.DHT22Pin; pin != nil {
		dht, err := sensor.NewDHT22(*pin, cfg.Sensors.DHTRetries)
		if err != nil {
			return err
		}
		deps.Thermometer = dht
	}
	if pin := cfg.Sensors.MoisturePin; pin != nil {
		in, err := sensor.NewInputPin(*pin)
		if err != nil {
			return err
		}
		deps.Moisture = in
	}
	return nil
}
