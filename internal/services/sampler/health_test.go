package sampler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
)

func okRunner() CycleRunner {
	return runnerFunc(func(context.Context) (model.Measurement, error) {
		return model.Measurement{Timestamp: t0}, nil
	})
}

func healthStatus(t *testing.T, h http.Handler) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthBeforeFirstCycle(t *testing.T) {
	clock := &manualClock{now: t0}
	s := NewScheduler(okRunner(), clock, 5*time.Minute, discardLogger())

	code, body := healthStatus(t, NewHealthHandler(s, nil, clock, 5*time.Minute))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "down", body["status"])
}

func TestHealthTracksLastCycle(t *testing.T) {
	clock := &manualClock{now: t0}
	s := NewScheduler(okRunner(), clock, 5*time.Minute, discardLogger())
	require.NoError(t, s.Tick(context.Background()))
	h := NewHealthHandler(s, nil, clock, 5*time.Minute)

	clock.advance(time.Minute)
	code, body := healthStatus(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 60.0, body["last_ok_age_sec"], 1e-9)
	assert.NotContains(t, body, "mqtt_connected")

	clock.advance(10 * time.Minute)
	code, body = healthStatus(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "down", body["status"])
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.observeCycle("ok", time.Second)

	clock := &manualClock{now: t0}
	s := NewScheduler(okRunner(), clock, 5*time.Minute, discardLogger())
	srv := NewServer(":0", reg, NewHealthHandler(s, nil, clock, 5*time.Minute))

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `clever_harvest_cycles_total{outcome="ok"} 1`))

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
