package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/domain"
	"ridetrack/internal/geo"
)

const driverLocationKey = "drivers:locations"

// LocationStore is the Redis GEO driver index.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, p domain.Point) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

// WithinRadius returns drivers within radiusKm of p, nearest first.
func (s *LocationStore) WithinRadius(ctx context.Context, p domain.Point, radiusKm float64) ([]geo.DriverLocation, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]geo.DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, geo.DriverLocation{
			DriverID: r.Name,
			Point:    domain.Point{Lat: r.Latitude, Lng: r.Longitude},
		})
	}

	return locations, nil
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}
