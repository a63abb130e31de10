// Package dispatch finds drivers near a pickup point and selects the best
// available one with a weighted score.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"ridetrack/internal/domain"
	"ridetrack/internal/eta"
	"ridetrack/internal/geo"
	"ridetrack/internal/metrics"
	"ridetrack/internal/redis"
	"ridetrack/internal/repository"
	"ridetrack/internal/resilience"
)

const defaultSearchRadiusKm = 5.0

// Dispatch outcomes recorded in metrics.
const (
	outcomeMatched  = "matched"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
)

// DriverIndex is the geospatial driver position store.
type DriverIndex interface {
	WithinRadius(ctx context.Context, p domain.Point, radiusKm float64) ([]geo.DriverLocation, error)
	UpdateLocation(ctx context.Context, driverID string, p domain.Point) error
	RemoveLocation(ctx context.Context, driverID string) error
}

// DriverCache is the read-through cache in front of the driver repository.
type DriverCache interface {
	GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedDriver, []string, error)
	SetDriversBatch(ctx context.Context, drivers []*redis.CachedDriver) error
}

var (
	_ DriverIndex = (*redis.LocationStore)(nil)
	_ DriverIndex = (*geo.Index)(nil)
	_ DriverCache = (*redis.CacheStore)(nil)
)

// Config tunes index queries.
type Config struct {
	DefaultRadiusKm   float64
	QueryTimeout      time.Duration
	QueryRetryBackoff time.Duration
}

// Service handles driver discovery and matching.
type Service struct {
	index      DriverIndex
	cache      DriverCache
	driverRepo repository.DriverRepository
	cfg        Config
	logger     *zap.Logger
	metrics    metrics.Recorder
}

// NewService creates a new Service. cache may be nil.
func NewService(
	index DriverIndex,
	cache DriverCache,
	driverRepo repository.DriverRepository,
	cfg Config,
	logger *zap.Logger,
	m metrics.Recorder,
) *Service {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = defaultSearchRadiusKm
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 2 * time.Second
	}
	if cfg.QueryRetryBackoff <= 0 {
		cfg.QueryRetryBackoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		index:      index,
		cache:      cache,
		driverRepo: driverRepo,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// OptimalDriverRequest describes a pickup request.
type OptimalDriverRequest struct {
	Pickup            domain.Point
	VehicleType       domain.VehicleType // Optional: empty means any type
	PassengerCapacity int                // Optional: 0 means any capacity
	RadiusKm          float64            // Optional: 0 uses default
}

// NearbyDrivers lists every indexed driver within radiusKm of p, nearest first.
// ETAs use the geometric estimate so listing never waits on a routing provider.
func (s *Service) NearbyDrivers(ctx context.Context, p domain.Point, radiusKm float64) ([]domain.DriverCandidate, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.DefaultRadiusKm
	}

	locations, err := s.queryIndex(ctx, p, radiusKm)
	if err != nil {
		return nil, err
	}
	if len(locations) == 0 {
		return []domain.DriverCandidate{}, nil
	}

	driverIDs := make([]string, len(locations))
	for i, loc := range locations {
		driverIDs[i] = loc.DriverID
	}

	drivers, err := s.loadDrivers(ctx, driverIDs)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.DriverCandidate, 0, len(locations))
	for _, loc := range locations {
		driver, ok := drivers[loc.DriverID]
		if !ok {
			// Indexed but unknown to the driver store.
			continue
		}
		estimate := eta.Fallback(loc.Point, p)
		candidates = append(candidates, domain.DriverCandidate{
			Driver:     *driver,
			DistanceKm: geo.DistanceKm(loc.Point, p),
			EtaMinutes: estimate.DurationSeconds / 60,
			Available:  driver.Available(),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].Driver.ID < candidates[j].Driver.ID
	})
	return candidates, nil
}

// FindOptimalDriver returns the best scoring available driver matching the
// request. ok is false when no driver qualifies.
func (s *Service) FindOptimalDriver(ctx context.Context, req OptimalDriverRequest) (candidate domain.DriverCandidate, ok bool, err error) {
	start := time.Now()
	defer func() {
		outcome := outcomeMatched
		switch {
		case err != nil:
			outcome = outcomeError
		case !ok:
			outcome = outcomeNotFound
		}
		s.metrics.RecordDispatch(outcome, time.Since(start))
	}()

	if req.PassengerCapacity < 0 {
		return domain.DriverCandidate{}, false, ErrInvalidCapacity
	}

	nearby, err := s.NearbyDrivers(ctx, req.Pickup, req.RadiusKm)
	if err != nil {
		return domain.DriverCandidate{}, false, err
	}

	eligible := make([]domain.DriverCandidate, 0, len(nearby))
	for _, c := range nearby {
		if !c.Available {
			continue
		}
		if req.VehicleType != "" && c.Driver.Vehicle.Type != req.VehicleType {
			continue
		}
		if c.Driver.Vehicle.Capacity < req.PassengerCapacity {
			continue
		}
		c.Score = Score(c.DistanceKm, c.Driver.Rating, c.EtaMinutes)
		eligible = append(eligible, c)
	}

	candidate, ok = selectBest(eligible)
	if ok {
		s.logger.Debug("optimal driver selected",
			zap.String("driver_id", candidate.Driver.ID),
			zap.Float64("score", candidate.Score),
			zap.Int("eligible", len(eligible)),
		)
	}
	return candidate, ok, nil
}

// UpdateDriverLocation writes a driver's position into the geospatial index.
func (s *Service) UpdateDriverLocation(ctx context.Context, driverID string, p domain.Point) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if !p.Valid() {
		return ErrInvalidLocation
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := s.index.UpdateLocation(qctx, driverID, p); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return nil
}

// RemoveDriverLocation drops a driver from the geospatial index, for example
// when the driver goes offline. Removing an unindexed driver is a no-op.
func (s *Service) RemoveDriverLocation(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	if err := s.index.RemoveLocation(qctx, driverID); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	s.logger.Debug("driver removed from index", zap.String("driver_id", driverID))
	return nil
}

// queryIndex runs the range query under a timeout, retrying once.
func (s *Service) queryIndex(ctx context.Context, p domain.Point, radiusKm float64) ([]geo.DriverLocation, error) {
	var locations []geo.DriverLocation
	err := resilience.Retry(ctx, 2, s.cfg.QueryRetryBackoff, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()

		var err error
		locations, err = s.index.WithinRadius(qctx, p, radiusKm)
		return err
	})
	if err != nil {
		s.logger.Warn("driver index query failed",
			zap.Float64("lat", p.Lat),
			zap.Float64("lng", p.Lng),
			zap.Float64("radius_km", radiusKm),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return locations, nil
}

// loadDrivers resolves ids through the cache, then fetches misses in one
// repository call and back-fills the cache.
func (s *Service) loadDrivers(ctx context.Context, driverIDs []string) (map[string]*domain.Driver, error) {
	drivers := make(map[string]*domain.Driver, len(driverIDs))
	missing := driverIDs

	if s.cache != nil {
		cached, missingIDs, err := s.cache.GetDriversBatch(ctx, driverIDs)
		if err != nil {
			s.logger.Warn("driver cache lookup failed", zap.Error(err))
		} else {
			for id, c := range cached {
				drivers[id] = c.Driver()
			}
			missing = missingIDs
		}
	}

	if len(missing) == 0 {
		return drivers, nil
	}

	fetched, err := s.driverRepo.GetByIDs(ctx, missing)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("load drivers: %w", err)
	}

	toCache := make([]*redis.CachedDriver, 0, len(fetched))
	for _, d := range fetched {
		drivers[d.ID] = d
		toCache = append(toCache, redis.NewCachedDriver(d))
	}

	if s.cache != nil && len(toCache) > 0 {
		if err := s.cache.SetDriversBatch(ctx, toCache); err != nil {
			s.logger.Warn("driver cache fill failed", zap.Error(err))
		}
	}
	return drivers, nil
}
