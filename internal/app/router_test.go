package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridetrack/internal/channel"
	"ridetrack/internal/dispatch"
	"ridetrack/internal/geo"
	"ridetrack/internal/handler"
	"ridetrack/internal/metrics"
	"ridetrack/internal/tracking"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := prometheus.NewRegistry()
	manager := tracking.NewManager(tracking.Dependencies{
		Hub: channel.NewHub(nil, nil, channel.Config{}, nil, nil),
	}, tracking.Config{})
	t.Cleanup(manager.StopAll)

	return NewRouter(RouterDeps{
		TrackingHandler: handler.NewTrackingHandler(manager),
		DispatchHandler: handler.NewDispatchHandler(dispatch.NewService(geo.NewIndex(), nil, nil, dispatch.Config{}, nil, nil), nil),
		Metrics:         metrics.NewPrometheus(registry, "ridetrack-test"),
		Gatherer:        registry,
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_MetricsExposeRequests(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tracking/booking-9", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/v1/tracking/:bookingId")
}
