package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthzReturnsOK(t *testing.T) {
	r := NewRouter(Config{Logger: zap.NewNop(), Registry: prometheus.NewRegistry()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthzPingsStoreWhenSupported(t *testing.T) {
	r := NewRouter(Config{Logger: zap.NewNop(), Registry: prometheus.NewRegistry(), Store: fakePinger{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzReportsUnavailableWhenPingFails(t *testing.T) {
	r := NewRouter(Config{Logger: zap.NewNop(), Registry: prometheus.NewRegistry(), Store: fakePinger{err: errors.New("down")}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsServesPrometheusExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "campsd_test_gauge"})
	gauge.Set(42)
	reg.MustRegister(gauge)

	r := NewRouter(Config{Logger: zap.NewNop(), Registry: reg})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "campsd_test_gauge 42")
}
