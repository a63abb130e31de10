package repository

import (
	"context"

	"ridetrack/internal/domain"
)

// SampleStore is the durable, append-only log of accepted samples per session.
type SampleStore interface {
	// Append adds a sample to the end of the session log.
	Append(ctx context.Context, sessionID string, sample domain.LocationSample) error

	// ReadAll returns the session log in append order.
	ReadAll(ctx context.Context, sessionID string) ([]domain.LocationSample, error)
}
