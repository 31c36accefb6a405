// Package dashboard serves the password-protected page with the latest
// reading, a short trend and the latest photo, read from the spreadsheet on
// every request.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/clever_harvest/internal/sheets"
)

//go:embed templates/*.html
var templateFS embed.FS

// RowSource is the read side of a worksheet.
type RowSource interface {
	AllValues(ctx context.Context) ([][]string, error)
}

// Opener authenticates and opens the worksheet; it runs on every request.
type Opener func(ctx context.Context) (RowSource, error)

// GoogleOpener opens the spreadsheet named title with a service account.
func GoogleOpener(credentialsJSON []byte, title string) Opener {
	return func(ctx context.Context) (RowSource, error) {
		client, err := sheets.New(ctx, credentialsJSON)
		if err != nil {
			return nil, err
		}
		ws, err := client.Open(ctx, title)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

type Options struct {
	Title     string
	Location  *time.Location
	TrendSize int
	Timeout   time.Duration
	// consecutive sheet failures before the breaker opens, and for how long
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

type Handler struct {
	open    Opener
	opts    Options
	breaker *gobreaker.CircuitBreaker
	tmpl    *template.Template
	logger  *slog.Logger
}

func NewHandler(open Opener, opts Options, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TrendSize <= 0 {
		opts.TrendSize = 12
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerOpen <= 0 {
		opts.BreakerOpen = 30 * time.Second
	}

	tmpl, err := template.New("base").Funcs(template.FuncMap{
		"to_json": func(v interface{}) template.JS {
			b, err := json.Marshal(v)
			if err != nil {
				return template.JS("null")
			}
			return template.JS(b)
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "spreadsheet",
		Timeout: opts.BreakerOpen,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// a client that hangs up is not a sheet failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return &Handler{open: open, opts: opts, breaker: breaker, tmpl: tmpl, logger: logger}, nil
}

// Routes mounts the page at exactly "/"; every other path is a 404.
func (h *Handler) Routes(username, password string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", BasicAuth(h.opts.Title, username, password, h))
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rows, err := h.fetch(r.Context())
	if err != nil {
		h.logger.Error("read spreadsheet", "error", err)
		http.Error(w, "spreadsheet unavailable", http.StatusBadGateway)
		return
	}

	view := BuildView(h.opts.Title, rows, h.opts.Location, h.opts.TrendSize)
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, "dashboard.html", view); err != nil {
		h.logger.Error("render dashboard", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (h *Handler) fetch(ctx context.Context) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	res, err := h.breaker.Execute(func() (any, error) {
		ws, err := h.open(ctx)
		if err != nil {
			return nil, fmt.Errorf("open worksheet: %w", err)
		}
		return ws.AllValues(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([][]string), nil
}
