package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/clever_harvest/internal/config"
	"github.com/LeonardoBeccarini/clever_harvest/internal/logging"
	"github.com/LeonardoBeccarini/clever_harvest/internal/services/dashboard"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath      string
		logLevel        string
		addr            string
		title           string
		credentialsJSON string
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the latest greenhouse readings behind basic auth",
		Long: `Serves GET / with the latest photo and a trend of the last rows of the
spreadsheet written by the sampler. The password comes from
CLEVER_HARVEST_WEB_PASSWORD (or the config file).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			changed := cmd.Flags().Changed
			if changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if changed("addr") {
				cfg.Dashboard.Addr = addr
			}
			if changed("title") {
				cfg.Title = title
			}
			if changed("google-api-client-secret-json") {
				cfg.Sheets.CredentialsJSON = credentialsJSON
			}
			if err := cfg.ValidateDashboard(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&configPath, "config", "c", "", "config file path (YAML)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&addr, "addr", "", "listen address (default :8080)")
	fs.StringVar(&title, "title", "", "title of the project (spreadsheet name)")
	fs.StringVar(&credentialsJSON, "google-api-client-secret-json", "", "google service account credentials as JSON")
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Dashboard.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	h, err := dashboard.NewHandler(
		dashboard.GoogleOpener([]byte(cfg.Sheets.CredentialsJSON), cfg.Title),
		dashboard.Options{
			Title:     cfg.Title,
			Location:  loc,
			TrendSize: cfg.Dashboard.TrendSize,
		},
		logger,
	)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              cfg.Dashboard.Addr,
		Handler:           h.Routes(cfg.Dashboard.Username, cfg.Dashboard.Password),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", "addr", cfg.Dashboard.Addr, "title", cfg.Title)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("dashboard shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
