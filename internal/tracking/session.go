package tracking

import (
	"context"
	"sync"

	"ridetrack/internal/domain"
	"ridetrack/internal/stream"
)

// Session is the tracking state of one booking.
type Session struct {
	bookingID string
	driverID  string

	mu          sync.Mutex
	status      domain.SessionStatus
	tripStarted bool
	pickup      domain.Point
	destination domain.Point
	zones       []*domain.GeofenceZone
	lastSample  *domain.LocationSample
	lastETA     *domain.EtaEstimate

	alerts   *stream.Broadcaster[domain.GeofenceAlert]
	updates  *stream.Broadcaster[domain.TripUpdate]
	statuses *stream.Broadcaster[domain.SessionStatus]

	cancel     context.CancelFunc
	stopSource func()
	watchDone  chan struct{}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	BookingID   string                 `json:"booking_id"`
	DriverID    string                 `json:"driver_id"`
	Status      domain.SessionStatus   `json:"status"`
	TripStarted bool                   `json:"trip_started"`
	Zones       []domain.GeofenceZone  `json:"zones"`
	LastSample  *domain.LocationSample `json:"last_sample,omitempty"`
	ETA         *domain.EtaEstimate    `json:"eta,omitempty"`
}

// BookingID returns the tracked booking.
func (s *Session) BookingID() string { return s.bookingID }

// DriverID returns the driver assigned to the booking.
func (s *Session) DriverID() string { return s.driverID }

// Status returns the current session status.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Alerts subscribes to geofence alerts in sample order.
func (s *Session) Alerts() *stream.Subscription[domain.GeofenceAlert] {
	return s.alerts.Subscribe()
}

// Updates subscribes to trip updates.
func (s *Session) Updates() *stream.Subscription[domain.TripUpdate] {
	return s.updates.Subscribe()
}

// Statuses subscribes to status changes, starting with the current status.
func (s *Session) Statuses() *stream.Subscription[domain.SessionStatus] {
	return s.statuses.Subscribe()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	zones := make([]domain.GeofenceZone, len(s.zones))
	for i, z := range s.zones {
		zones[i] = *z
	}
	snap := Snapshot{
		BookingID:   s.bookingID,
		DriverID:    s.driverID,
		Status:      s.status,
		TripStarted: s.tripStarted,
		Zones:       zones,
	}
	if s.lastSample != nil {
		sample := *s.lastSample
		snap.LastSample = &sample
	}
	if s.lastETA != nil {
		est := *s.lastETA
		snap.ETA = &est
	}
	return snap
}

// target returns the current ETA destination. Callers hold s.mu.
func (s *Session) target() domain.Point {
	if s.tripStarted {
		return s.destination
	}
	return s.pickup
}

// setStatus moves the session to status unless it already ended.
func (s *Session) setStatus(status domain.SessionStatus) bool {
	s.mu.Lock()
	if s.status == domain.SessionStatusEnded || s.status == status {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.mu.Unlock()

	s.statuses.Publish(status)
	s.updates.Publish(domain.TripUpdate{BookingID: s.bookingID, Status: status})
	return true
}

// end marks the session Ended. It reports false when it already was.
func (s *Session) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.SessionStatusEnded {
		return false
	}
	s.status = domain.SessionStatusEnded
	return true
}
