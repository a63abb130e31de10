package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/domain"
)

// DriverCacheTTL bounds how stale a cached driver status can be.
const DriverCacheTTL = 30 * time.Second

const driverCachePrefix = "cache:driver:"

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// CachedDriver represents a cached driver entity.
type CachedDriver struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	Rating          float64 `json:"rating"`
	VehicleType     string  `json:"vehicle_type"`
	VehicleCapacity int     `json:"vehicle_capacity"`
}

// NewCachedDriver converts a domain driver for caching.
func NewCachedDriver(d *domain.Driver) *CachedDriver {
	return &CachedDriver{
		ID:              d.ID,
		Name:            d.Name,
		Status:          string(d.Status),
		Rating:          d.Rating,
		VehicleType:     string(d.Vehicle.Type),
		VehicleCapacity: d.Vehicle.Capacity,
	}
}

// Driver converts the cache entry back to a domain driver.
func (c *CachedDriver) Driver() *domain.Driver {
	return &domain.Driver{
		ID:     c.ID,
		Name:   c.Name,
		Status: domain.DriverStatus(c.Status),
		Rating: c.Rating,
		Vehicle: domain.Vehicle{
			Type:     domain.VehicleType(c.VehicleType),
			Capacity: c.VehicleCapacity,
		},
	}
}

// GetDriver retrieves a driver from cache. A miss returns nil, nil.
func (s *CacheStore) GetDriver(ctx context.Context, driverID string) (*CachedDriver, error) {
	data, err := s.client.Get(ctx, driverCachePrefix+driverID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var driver CachedDriver
	if err := json.Unmarshal(data, &driver); err != nil {
		return nil, err
	}
	return &driver, nil
}

// InvalidateDriver removes a driver from cache.
func (s *CacheStore) InvalidateDriver(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, driverCachePrefix+driverID).Err()
}

// GetDriversBatch retrieves multiple drivers from cache using pipeline.
// Returns a map of driverID -> CachedDriver, and a slice of missing IDs.
// Entries that fail to load or decode are reported as missing.
func (s *CacheStore) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error) {
	if len(driverIDs) == 0 {
		return make(map[string]*CachedDriver), nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(driverIDs))
	for i, id := range driverIDs {
		cmds[i] = pipe.Get(ctx, driverCachePrefix+id)
	}

	// Exec reports redis.Nil when any key is missing; per-command results are checked below.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}

	result := make(map[string]*CachedDriver, len(driverIDs))
	var missing []string
	for i, cmd := range cmds {
		id := driverIDs[i]
		data, err := cmd.Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}

		var driver CachedDriver
		if err := json.Unmarshal(data, &driver); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &driver
	}

	return result, missing, nil
}

// SetDriversBatch stores multiple drivers in cache using pipeline.
func (s *CacheStore) SetDriversBatch(ctx context.Context, drivers []*CachedDriver) error {
	if len(drivers) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, driver := range drivers {
		data, err := json.Marshal(driver)
		if err != nil {
			continue
		}
		pipe.Set(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}
