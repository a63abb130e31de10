package tracking

import "errors"

var (
	// ErrSessionNotFound is returned when a booking has no active session.
	ErrSessionNotFound = errors.New("no active tracking session")

	// ErrSessionEnded is returned when a result arrives after the session ended.
	ErrSessionEnded = errors.New("tracking session ended")

	// ErrBookingTerminal is returned when tracking a completed or cancelled booking.
	ErrBookingTerminal = errors.New("booking is completed or cancelled")

	// ErrDriverNotAssigned is returned when tracking a booking without a driver.
	ErrDriverNotAssigned = errors.New("booking has no assigned driver")

	// ErrDriverMismatch is returned when a sample belongs to another driver.
	ErrDriverMismatch = errors.New("sample driver does not match booking driver")

	// ErrNoPosition is returned when no sample has been accepted yet.
	ErrNoPosition = errors.New("no driver position received yet")

	// ErrInvalidBookingStatus is returned for unknown booking statuses.
	ErrInvalidBookingStatus = errors.New("invalid booking status")

	// ErrPositioningUnavailable is reported when the positioning source cannot start.
	ErrPositioningUnavailable = errors.New("positioning source unavailable")
)
