package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridetrack/internal/handler"
	"ridetrack/internal/metrics"
	"ridetrack/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TrackingHandler *handler.TrackingHandler
	DispatchHandler *handler.DispatchHandler
	// SampleLimiter throttles sample and driver location pushes per key. Optional.
	SampleLimiter *middleware.RateLimiter
	// Idempotency replays POST responses carrying an Idempotency-Key. Optional.
	Idempotency middleware.IdempotencyStore
	Metrics     metrics.Recorder
	// Gatherer serves /metrics when set.
	Gatherer    prometheus.Gatherer
	NewRelicApp *newrelic.Application
	Logger      *zap.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}

	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.Metrics(deps.Metrics))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.TrackingAttributes())
	}

	idempotent := middleware.Idempotency(deps.Idempotency)
	limited := func(param string) gin.HandlerFunc {
		if deps.SampleLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return deps.SampleLimiter.Handler(middleware.ParamKey(param), deps.Logger)
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Tracking routes.
		tracking := v1.Group("/tracking/:bookingId")
		{
			tracking.POST("/start", idempotent, deps.TrackingHandler.Start)
			tracking.POST("/stop", idempotent, deps.TrackingHandler.Stop)
			tracking.GET("", deps.TrackingHandler.Get)
			tracking.POST("/samples", limited("bookingId"), deps.TrackingHandler.IngestSample)
			tracking.GET("/history", deps.TrackingHandler.History)
			tracking.GET("/stream", deps.TrackingHandler.Stream)
			tracking.POST("/status", idempotent, deps.TrackingHandler.UpdateStatus)
			tracking.GET("/eta", deps.TrackingHandler.ETA)
		}

		// Dispatch routes.
		dispatch := v1.Group("/dispatch")
		{
			dispatch.GET("/nearby", deps.DispatchHandler.Nearby)
			dispatch.POST("/optimal", idempotent, deps.DispatchHandler.Optimal)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/location", limited("id"), deps.DispatchHandler.UpdateLocation)
			drivers.DELETE("/:id/location", deps.DispatchHandler.RemoveLocation)
		}
	}

	return router
}
