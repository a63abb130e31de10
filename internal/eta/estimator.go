// Package eta produces arrival-time estimates. A routing provider is used when
// available; every failure degrades to a deterministic geometric estimate.
package eta

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ridetrack/internal/domain"
	"ridetrack/internal/geo"
	"ridetrack/internal/metrics"
)

// fallbackSecondsPerKm is a flat 30 km/h urban average.
const fallbackSecondsPerKm = 120.0

// DefaultProviderTimeout bounds a routing provider call.
const DefaultProviderTimeout = 3 * time.Second

// ErrNoRoute is returned by providers that found no route between the points.
var ErrNoRoute = errors.New("no route found")

// Route is a routing provider answer.
type Route struct {
	DurationSeconds float64
	DistanceMeters  float64
}

// RoutingProvider computes the best route between two points.
type RoutingProvider interface {
	GetRoute(ctx context.Context, origin, destination domain.Point, trafficAware bool) (Route, error)
}

// Fallback returns the geometric estimate for origin to destination.
func Fallback(origin, destination domain.Point) domain.EtaEstimate {
	distance := geo.DistanceMeters(origin, destination)
	return domain.EtaEstimate{
		DurationSeconds: distance / 1000 * fallbackSecondsPerKm,
		DistanceMeters:  distance,
		Source:          domain.EtaSourceGeometricFallback,
	}
}

// Estimator wraps a RoutingProvider with a bounded timeout and geometric fallback.
type Estimator struct {
	provider RoutingProvider
	timeout  time.Duration
	logger   *zap.Logger
	metrics  metrics.Recorder
}

// NewEstimator creates an Estimator. A nil provider always falls back.
func NewEstimator(provider RoutingProvider, timeout time.Duration, logger *zap.Logger, m metrics.Recorder) *Estimator {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Estimator{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Estimate never fails: provider errors, timeouts and invalid answers
// all yield the geometric fallback.
func (e *Estimator) Estimate(ctx context.Context, origin, destination domain.Point, trafficAware bool) domain.EtaEstimate {
	if e.provider == nil {
		return e.fallback(origin, destination)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	route, err := e.provider.GetRoute(callCtx, origin, destination, trafficAware)
	if err == nil && (route.DurationSeconds < 0 || route.DistanceMeters < 0) {
		err = ErrNoRoute
	}
	if err != nil {
		e.logger.Warn("routing provider unavailable, using geometric fallback",
			zap.Error(err),
			zap.Bool("traffic_aware", trafficAware),
		)
		return e.fallback(origin, destination)
	}

	e.metrics.RecordETA(string(domain.EtaSourceRoutingProvider))
	return domain.EtaEstimate{
		DurationSeconds: route.DurationSeconds,
		DistanceMeters:  route.DistanceMeters,
		Source:          domain.EtaSourceRoutingProvider,
	}
}

func (e *Estimator) fallback(origin, destination domain.Point) domain.EtaEstimate {
	e.metrics.RecordETA(string(domain.EtaSourceGeometricFallback))
	return Fallback(origin, destination)
}
