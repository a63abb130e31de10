package repository

import (
	"context"

	"ridetrack/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
type BookingRepository interface {
	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// UpdateStatus updates the status of a booking.
	UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error
}
