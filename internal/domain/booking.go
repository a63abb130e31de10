package domain

// BookingStatus represents the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "PENDING"
	BookingStatusAssigned   BookingStatus = "ASSIGNED"
	BookingStatusInProgress BookingStatus = "IN_PROGRESS"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
)

// IsTerminal reports whether no further tracking can happen for the booking.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

// TripStarted reports whether the passenger has been picked up.
func (s BookingStatus) TripStarted() bool {
	return s == BookingStatusInProgress
}

// Booking is the read-only view of a booking needed for tracking.
type Booking struct {
	ID          string        `json:"id"`
	DriverID    string        `json:"driver_id"`
	Pickup      Point         `json:"pickup"`
	Destination Point         `json:"destination"`
	ServiceType string        `json:"service_type"`
	Status      BookingStatus `json:"status"`
}
