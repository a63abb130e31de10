package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ridetrack/internal/app"
	"ridetrack/internal/channel"
	"ridetrack/internal/config"
	"ridetrack/internal/dispatch"
	"ridetrack/internal/domain"
	"ridetrack/internal/eta"
	"ridetrack/internal/geo"
	"ridetrack/internal/geofence"
	"ridetrack/internal/handler"
	"ridetrack/internal/logger"
	"ridetrack/internal/metrics"
	"ridetrack/internal/middleware"
	internalRedis "ridetrack/internal/redis"
	"ridetrack/internal/repository"
	"ridetrack/internal/repository/postgres"
	"ridetrack/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.IsProd())
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("failed to initialize New Relic", zap.Error(err))
			nrApp = nil
		} else {
			log.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	db, err := app.NewDatabase(connectCtx, cfg.Database, nrApp)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := postgres.EnsureSchema(connectCtx, db); err != nil {
			return err
		}
	}

	redisClient, err := app.NewRedisClient(connectCtx, cfg.Redis, nrApp)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry, cfg.App.Name)

	wired := wire(ctx, cfg, db, redisClient, nrApp, registry, recorder, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      wired.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Ending sessions closes open streams so Shutdown does not wait on them.
		wired.manager.StopAll()
		wired.hub.CloseAll()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type components struct {
	router  http.Handler
	manager *tracking.Manager
	hub     *channel.Hub
}

// wire builds stores, services and handlers from configuration.
func wire(
	ctx context.Context,
	cfg *config.Config,
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	registry *prometheus.Registry,
	recorder metrics.Recorder,
	log *zap.Logger,
) components {
	bookingRepo := postgres.NewBookingRepository(db)
	driverRepo := postgres.NewDriverRepository(db)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	var index dispatch.DriverIndex
	switch cfg.Dispatch.IndexBackend {
	case "memory":
		index = geo.NewIndex()
	default:
		index = internalRedis.NewLocationStore(redisClient)
	}

	var samples repository.SampleStore
	switch cfg.Tracking.SampleStore {
	case "redis":
		samples = internalRedis.NewSampleStreamStore(redisClient)
	default:
		samples = postgres.NewSampleStore(db)
	}

	var transport channel.Transport
	if cfg.Tracking.Transport {
		transport = internalRedis.NewPubSubTransport(redisClient, logger.Component(log, "transport"))
	}

	hub := channel.NewHub(samples, transport, channel.Config{
		SubscriberBuffer:  cfg.Tracking.SubscriberBuffer,
		PersistenceBuffer: cfg.Tracking.PersistenceBuffer,
		StoreTimeout:      cfg.Tracking.StoreTimeout,
		StoreRetryBackoff: cfg.Tracking.StoreRetryBackoff,
		ReconnectBackoff:  cfg.Tracking.ReconnectBackoff,
		ReconnectMaxWait:  cfg.Tracking.ReconnectMaxWait,
	}, logger.Component(log, "channel"), recorder)

	var provider eta.RoutingProvider
	if cfg.ETA.ProviderURL != "" {
		provider = eta.NewHTTPRoutingProvider(eta.HTTPProviderConfig{
			BaseURL:         cfg.ETA.ProviderURL,
			APIKey:          cfg.ETA.ProviderAPIKey,
			Timeout:         cfg.ETA.ProviderTimeout,
			BreakerFailures: cfg.ETA.BreakerFailures,
			BreakerCooldown: cfg.ETA.BreakerCooldown,
		})
	}
	estimator := eta.NewEstimator(provider, cfg.ETA.ProviderTimeout, logger.Component(log, "eta"), recorder)

	zones := geofence.ZoneConfig{
		PickupRadiusMeters:      cfg.Geofence.PickupRadiusMeters,
		DestinationRadiusMeters: cfg.Geofence.DestinationRadiusMeters,
	}
	if cfg.Geofence.AirportEnabled {
		zones.Airport = &domain.GeofenceZone{
			Kind:         domain.ZoneKindAirport,
			Center:       domain.Point{Lat: cfg.Geofence.AirportLat, Lng: cfg.Geofence.AirportLng},
			RadiusMeters: cfg.Geofence.AirportRadiusMeters,
		}
	}

	feed := tracking.NewDriverFeed(cfg.Tracking.SubscriberBuffer)
	manager := tracking.NewManager(tracking.Dependencies{
		Bookings:  bookingRepo,
		Hub:       hub,
		Estimator: estimator,
		Positions: feed,
		Logger:    logger.Component(log, "tracking"),
		Metrics:   recorder,
	}, tracking.Config{
		Zones:            zones,
		Cooldown:         cfg.Geofence.Cooldown,
		SubscriberBuffer: cfg.Tracking.SubscriberBuffer,
	})

	dispatchService := dispatch.NewService(index, cacheStore, driverRepo, dispatch.Config{
		DefaultRadiusKm:   cfg.Dispatch.DefaultRadiusKm,
		QueryTimeout:      cfg.Dispatch.QueryTimeout,
		QueryRetryBackoff: cfg.Dispatch.QueryRetryBackoff,
	}, logger.Component(log, "dispatch"), recorder)

	limiter := middleware.NewRateLimiter(ctx, middleware.RateLimiterConfig{
		RequestsPerSecond: float64(cfg.Server.SamplesPerSecond),
		Burst:             cfg.Server.SampleBurst,
	})

	router := app.NewRouter(app.RouterDeps{
		TrackingHandler: handler.NewTrackingHandler(manager),
		DispatchHandler: handler.NewDispatchHandler(dispatchService, feed),
		SampleLimiter:   limiter,
		Idempotency:     internalRedis.NewIdempotencyStore(redisClient),
		Metrics:         recorder,
		Gatherer:        registry,
		NewRelicApp:     nrApp,
		Logger:          logger.Component(log, "http"),
	})

	return components{router: router, manager: manager, hub: hub}
}
