package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/mmcloughlin/geohash"

	"ridetrack/internal/domain"
)

// DriverLocation is a driver position held by a geospatial index.
type DriverLocation struct {
	DriverID string
	Point    domain.Point
}

// Index is an in-memory geospatial driver index bucketed by geohash cells.
type Index struct {
	mu        sync.RWMutex
	precision uint
	positions map[string]domain.Point
	buckets   map[string]map[string]struct{}
}

// NewIndex creates an empty index. Precision 5 cells are roughly 5 km wide.
func NewIndex() *Index {
	return &Index{
		precision: 5,
		positions: make(map[string]domain.Point),
		buckets:   make(map[string]map[string]struct{}),
	}
}

// Geohash encodes p at the given precision.
func Geohash(p domain.Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// UpdateLocation upserts a driver position.
func (x *Index) UpdateLocation(_ context.Context, driverID string, p domain.Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.positions[driverID]; ok {
		x.removeFromBucket(driverID, old)
	}
	x.positions[driverID] = p

	cell := Geohash(p, x.precision)
	bucket, ok := x.buckets[cell]
	if !ok {
		bucket = make(map[string]struct{})
		x.buckets[cell] = bucket
	}
	bucket[driverID] = struct{}{}
	return nil
}

// RemoveLocation drops a driver from the index.
func (x *Index) RemoveLocation(_ context.Context, driverID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.positions[driverID]; ok {
		x.removeFromBucket(driverID, old)
		delete(x.positions, driverID)
	}
	return nil
}

// WithinRadius returns drivers within radiusKm of p, nearest first.
func (x *Index) WithinRadius(_ context.Context, p domain.Point, radiusKm float64) ([]DriverLocation, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var result []DriverLocation
	for _, id := range x.candidates(p, radiusKm) {
		pos := x.positions[id]
		if DistanceKm(p, pos) <= radiusKm {
			result = append(result, DriverLocation{DriverID: id, Point: pos})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		di, dj := DistanceMeters(p, result[i].Point), DistanceMeters(p, result[j].Point)
		if di != dj {
			return di < dj
		}
		return result[i].DriverID < result[j].DriverID
	})
	return result, nil
}

// candidates returns driver ids from the cells that may hold matches. The
// ring of cells around p is sized from the cell dimensions and the
// latitude/longitude span of the radius at p, which widens towards the poles.
// When that ring is larger than the populated buckets, every bucket is scanned.
func (x *Index) candidates(p domain.Point, radiusKm float64) []string {
	cells, ok := x.coveringCells(p, radiusKm)
	if !ok {
		ids := make([]string, 0, len(x.positions))
		for id := range x.positions {
			ids = append(ids, id)
		}
		return ids
	}

	var ids []string
	for cell := range cells {
		for id := range x.buckets[cell] {
			ids = append(ids, id)
		}
	}
	return ids
}

// coveringCells returns every cell within radiusKm of p, or false when a full
// scan is cheaper or the radius reaches a pole.
func (x *Index) coveringCells(p domain.Point, radiusKm float64) (map[string]struct{}, bool) {
	angular := radiusKm * 1000 / EarthRadiusMeters
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if math.Sin(angular) >= cosLat {
		return nil, false
	}
	spanLat := angular * 180 / math.Pi
	spanLng := math.Asin(math.Sin(angular)/cosLat) * 180 / math.Pi

	box := geohash.BoundingBox(Geohash(p, x.precision))
	cellLat := box.MaxLat - box.MinLat
	cellLng := box.MaxLng - box.MinLng
	ringLat := int(math.Ceil(spanLat / cellLat))
	ringLng := int(math.Ceil(spanLng / cellLng))

	if (2*ringLat+1)*(2*ringLng+1) > len(x.buckets) {
		return nil, false
	}

	centerLat, centerLng := box.Center()
	cells := make(map[string]struct{})
	for i := -ringLat; i <= ringLat; i++ {
		lat := centerLat + float64(i)*cellLat
		if lat < -90 || lat > 90 {
			continue
		}
		for j := -ringLng; j <= ringLng; j++ {
			lng := normalizeLng(centerLng + float64(j)*cellLng)
			cells[geohash.EncodeWithPrecision(lat, lng, x.precision)] = struct{}{}
		}
	}
	return cells, true
}

func normalizeLng(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}

func (x *Index) removeFromBucket(driverID string, p domain.Point) {
	cell := Geohash(p, x.precision)
	if bucket, ok := x.buckets[cell]; ok {
		delete(bucket, driverID)
		if len(bucket) == 0 {
			delete(x.buckets, cell)
		}
	}
}
