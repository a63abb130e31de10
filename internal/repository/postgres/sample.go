package postgres

import (
	"context"
	"database/sql"

	"ridetrack/internal/domain"
)

// SampleStore is a PostgreSQL implementation of repository.SampleStore
// backed by the location_samples table.
type SampleStore struct {
	q Querier
}

// NewSampleStore creates a new PostgreSQL sample store.
func NewSampleStore(db *sql.DB) *SampleStore {
	return &SampleStore{q: db}
}

// Append inserts a sample. The serial id column preserves append order.
func (s *SampleStore) Append(ctx context.Context, sessionID string, sample domain.LocationSample) error {
	query := `
		INSERT INTO location_samples
			(session_id, driver_id, latitude, longitude, accuracy_meters, heading_degrees, speed_mps, captured_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.q.ExecContext(ctx, query,
		sessionID,
		sample.DriverID,
		sample.Latitude,
		sample.Longitude,
		sample.AccuracyMeters,
		nullFloat(sample.HeadingDegrees),
		nullFloat(sample.SpeedMps),
		sample.CapturedAtEpochMs,
	)
	return err
}

// ReadAll returns every sample of a session in append order.
func (s *SampleStore) ReadAll(ctx context.Context, sessionID string) ([]domain.LocationSample, error) {
	query := `
		SELECT driver_id, latitude, longitude, accuracy_meters, heading_degrees, speed_mps, captured_at_ms
		FROM location_samples
		WHERE session_id = $1
		ORDER BY id
	`
	rows, err := s.q.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.LocationSample, 0)
	for rows.Next() {
		var (
			sample  domain.LocationSample
			heading sql.NullFloat64
			speed   sql.NullFloat64
		)
		if err := rows.Scan(
			&sample.DriverID,
			&sample.Latitude,
			&sample.Longitude,
			&sample.AccuracyMeters,
			&heading,
			&speed,
			&sample.CapturedAtEpochMs,
		); err != nil {
			return nil, err
		}
		if heading.Valid {
			sample.HeadingDegrees = &heading.Float64
		}
		if speed.Valid {
			sample.SpeedMps = &speed.Float64
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
