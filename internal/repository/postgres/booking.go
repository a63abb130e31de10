package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ridetrack/internal/domain"
	"ridetrack/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `
		SELECT id, COALESCE(driver_id, ''), pickup_lat, pickup_lng, destination_lat, destination_lng,
		       COALESCE(service_type, ''), status
		FROM bookings
		WHERE id = $1
	`

	var booking domain.Booking
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&booking.ID,
		&booking.DriverID,
		&booking.Pickup.Lat,
		&booking.Pickup.Lng,
		&booking.Destination.Lat,
		&booking.Destination.Lng,
		&booking.ServiceType,
		&booking.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &booking, nil
}

// UpdateStatus updates the status of a booking.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	query := `UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
