// Package tracking runs one tracking session per active booking: it feeds
// accepted samples through geofence evaluation and ETA derivation and
// publishes the results to session subscribers.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ridetrack/internal/channel"
	"ridetrack/internal/domain"
	"ridetrack/internal/eta"
	"ridetrack/internal/geofence"
	"ridetrack/internal/metrics"
	"ridetrack/internal/repository"
	"ridetrack/internal/stream"
)

// PositionSource pushes device positions for a driver until stopped.
type PositionSource interface {
	Start(ctx context.Context, driverID string, sink func(domain.LocationSample)) (stop func(), err error)
}

// Config tunes session behaviour.
type Config struct {
	Zones            geofence.ZoneConfig
	Cooldown         time.Duration
	SubscriberBuffer int
}

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	Bookings  repository.BookingRepository
	Hub       *channel.Hub
	Estimator *eta.Estimator
	// Positions is optional.
	Positions PositionSource
	// Clock defaults to time.Now.
	Clock   func() time.Time
	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// Manager owns every active tracking session of this instance.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// transitions holds one channel per booking whose session is starting
	// or stopping. It is closed when the transition completes.
	transitions map[string]chan struct{}
	starts      singleflight.Group

	bookings  repository.BookingRepository
	hub       *channel.Hub
	estimator *eta.Estimator
	positions PositionSource
	evaluator *geofence.Evaluator
	cfg       Config
	clock     func() time.Time
	logger    *zap.Logger
	metrics   metrics.Recorder
}

// NewManager creates a new Manager.
func NewManager(deps Dependencies, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Estimator == nil {
		deps.Estimator = eta.NewEstimator(nil, 0, deps.Logger, deps.Metrics)
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 32
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		transitions: make(map[string]chan struct{}),
		bookings:    deps.Bookings,
		hub:         deps.Hub,
		estimator:   deps.Estimator,
		positions:   deps.Positions,
		evaluator:   geofence.NewEvaluator(cfg.Cooldown),
		cfg:         cfg,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// StartTracking returns the active session of the booking, starting one if
// needed. Concurrent calls for the same booking share a single start.
func (m *Manager) StartTracking(ctx context.Context, bookingID string) (*Session, error) {
	if s, ok := m.Get(bookingID); ok {
		return s, nil
	}

	v, err, _ := m.starts.Do(bookingID, func() (interface{}, error) {
		if s, ok := m.Get(bookingID); ok {
			return s, nil
		}
		return m.start(ctx, bookingID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) start(ctx context.Context, bookingID string) (*Session, error) {
	m.mu.Lock()
	m.awaitTransition(bookingID)
	if s, ok := m.sessions[bookingID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	done := make(chan struct{})
	m.transitions[bookingID] = done
	m.mu.Unlock()
	defer m.endTransition(bookingID, done)

	booking, err := m.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
	}
	if booking.Status.IsTerminal() {
		return nil, ErrBookingTerminal
	}
	if booking.DriverID == "" {
		return nil, ErrDriverNotAssigned
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		bookingID:   booking.ID,
		driverID:    booking.DriverID,
		status:      domain.SessionStatusConnecting,
		tripStarted: booking.Status.TripStarted(),
		pickup:      booking.Pickup,
		destination: booking.Destination,
		zones:       geofence.BuildZones(booking, m.cfg.Zones),
		alerts: stream.NewBroadcaster(m.cfg.SubscriberBuffer,
			stream.WithDropHook[domain.GeofenceAlert](func() { m.metrics.RecordSubscriberDrop("alerts") })),
		updates: stream.NewBroadcaster(m.cfg.SubscriberBuffer,
			stream.WithDropHook[domain.TripUpdate](func() { m.metrics.RecordSubscriberDrop("updates") })),
		statuses:  stream.NewBroadcaster(m.cfg.SubscriberBuffer, stream.WithReplayLast[domain.SessionStatus]()),
		cancel:    cancel,
		watchDone: make(chan struct{}),
	}
	s.statuses.Publish(domain.SessionStatusConnecting)

	if err := m.hub.Open(ctx, bookingID, func(sample domain.LocationSample) {
		m.onSample(s, sample)
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("open location channel: %w", err)
	}

	statusSub, err := m.hub.ConnectionStatus(bookingID)
	if err != nil {
		cancel()
		m.hub.Close(bookingID)
		return nil, fmt.Errorf("watch location channel: %w", err)
	}
	go m.watchStatus(s, statusSub)

	if m.positions != nil {
		stop, err := m.positions.Start(sessionCtx, s.driverID, func(sample domain.LocationSample) {
			m.hub.Publish(bookingID, sample)
		})
		if err != nil {
			m.logger.Warn("tracking without positioning source",
				zap.String("booking_id", bookingID),
				zap.String("driver_id", s.driverID),
				zap.Error(fmt.Errorf("%w: %v", ErrPositioningUnavailable, err)),
			)
		} else {
			s.stopSource = stop
		}
	}

	m.mu.Lock()
	m.sessions[bookingID] = s
	active := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(active)

	m.logger.Info("tracking started",
		zap.String("booking_id", bookingID),
		zap.String("driver_id", s.driverID),
		zap.Int("zones", len(s.zones)),
	)
	return s, nil
}

// watchStatus mirrors the channel connection status into the session.
func (m *Manager) watchStatus(s *Session, sub *stream.Subscription[domain.SessionStatus]) {
	defer close(s.watchDone)
	for status := range sub.C() {
		if s.setStatus(status) {
			m.logger.Debug("tracking status changed",
				zap.String("booking_id", s.bookingID),
				zap.String("status", string(status)),
			)
		}
	}
}

// onSample runs inline for every accepted sample, one at a time per session.
func (m *Manager) onSample(s *Session, sample domain.LocationSample) {
	now := m.clock()

	s.mu.Lock()
	if s.status == domain.SessionStatusEnded {
		s.mu.Unlock()
		return
	}
	alerts := m.evaluator.Evaluate(s.bookingID, s.zones, sample, now)
	estimate := eta.Fallback(sample.Point(), s.target())
	s.lastSample = &sample
	s.lastETA = &estimate
	status := s.status
	s.mu.Unlock()

	for _, alert := range alerts {
		m.metrics.RecordGeofenceAlert(string(alert.Kind))
		m.logger.Info("geofence entered",
			zap.String("booking_id", s.bookingID),
			zap.String("zone", string(alert.Kind)),
			zap.Float64("distance_m", alert.DistanceMeters),
		)
		s.alerts.Publish(alert)
	}

	s.updates.Publish(domain.TripUpdate{
		BookingID: s.bookingID,
		Status:    status,
		ETA:       &estimate,
		Sample:    &sample,
	})
}

// Get returns the active session of a booking.
func (m *Manager) Get(bookingID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[bookingID]
	return s, ok
}

// StopTracking ends the session of a booking. It returns once the channel,
// its workers and the positioning source are released. A stop that arrives
// while the session is starting waits for the start and then ends it.
// Stopping an untracked booking is a no-op.
func (m *Manager) StopTracking(bookingID string) {
	m.mu.Lock()
	m.awaitTransition(bookingID)
	s, ok := m.sessions[bookingID]
	if !ok {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.transitions[bookingID] = done
	delete(m.sessions, bookingID)
	active := len(m.sessions)
	m.mu.Unlock()
	defer m.endTransition(bookingID, done)

	if !s.end() {
		return
	}
	m.metrics.SetActiveSessions(active)

	if s.stopSource != nil {
		s.stopSource()
	}
	s.cancel()
	m.hub.Close(bookingID)
	<-s.watchDone

	s.statuses.Publish(domain.SessionStatusEnded)
	s.updates.Publish(domain.TripUpdate{BookingID: bookingID, Status: domain.SessionStatusEnded})
	s.alerts.Close()
	s.updates.Close()
	s.statuses.Close()

	m.logger.Info("tracking stopped", zap.String("booking_id", bookingID))
}

// awaitTransition blocks while a start or stop of the booking is in flight.
// Callers hold m.mu; it is held again on return.
func (m *Manager) awaitTransition(bookingID string) {
	for {
		done, busy := m.transitions[bookingID]
		if !busy {
			return
		}
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
}

func (m *Manager) endTransition(bookingID string, done chan struct{}) {
	m.mu.Lock()
	if m.transitions[bookingID] == done {
		delete(m.transitions, bookingID)
	}
	m.mu.Unlock()
	close(done)
}

// StopAll ends every active session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions)+len(m.transitions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	for id := range m.transitions {
		if _, ok := m.sessions[id]; !ok {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopTracking(id)
	}
}

// Ingest offers a device-pushed sample to the booking's channel. An empty
// driver id is attributed to the booking's driver. accepted is false for
// stale samples.
func (m *Manager) Ingest(bookingID string, sample domain.LocationSample) (bool, error) {
	s, ok := m.Get(bookingID)
	if !ok {
		return false, ErrSessionNotFound
	}
	if sample.DriverID == "" {
		sample.DriverID = s.driverID
	}
	if sample.DriverID != s.driverID {
		return false, ErrDriverMismatch
	}
	return m.hub.Publish(bookingID, sample), nil
}

// UpdateBookingStatus records a booking status change. Starting the trip
// retargets ETAs to the destination; completion or cancellation stops tracking.
func (m *Manager) UpdateBookingStatus(ctx context.Context, bookingID string, status domain.BookingStatus) error {
	switch status {
	case domain.BookingStatusPending, domain.BookingStatusAssigned, domain.BookingStatusInProgress,
		domain.BookingStatusCompleted, domain.BookingStatusCancelled:
	default:
		return ErrInvalidBookingStatus
	}

	if err := m.bookings.UpdateStatus(ctx, bookingID, status); err != nil {
		return fmt.Errorf("update booking %s: %w", bookingID, err)
	}

	if status.IsTerminal() {
		m.StopTracking(bookingID)
		return nil
	}

	s, ok := m.Get(bookingID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.tripStarted = status.TripStarted()
	var update *domain.TripUpdate
	if s.lastSample != nil && s.status != domain.SessionStatusEnded {
		sample := *s.lastSample
		estimate := eta.Fallback(sample.Point(), s.target())
		s.lastETA = &estimate
		update = &domain.TripUpdate{BookingID: bookingID, Status: s.status, ETA: &estimate, Sample: &sample}
	}
	s.mu.Unlock()

	if update != nil {
		s.updates.Publish(*update)
	}
	return nil
}

// RefreshETA asks the routing provider for an estimate from the last known
// position. The estimate is discarded if the session ends while it is computed.
func (m *Manager) RefreshETA(ctx context.Context, bookingID string, trafficAware bool) (domain.EtaEstimate, error) {
	s, ok := m.Get(bookingID)
	if !ok {
		return domain.EtaEstimate{}, ErrSessionNotFound
	}

	s.mu.Lock()
	if s.lastSample == nil {
		s.mu.Unlock()
		return domain.EtaEstimate{}, ErrNoPosition
	}
	origin := s.lastSample.Point()
	target := s.target()
	s.mu.Unlock()

	estimate := m.estimator.Estimate(ctx, origin, target, trafficAware)

	s.mu.Lock()
	if s.status == domain.SessionStatusEnded {
		s.mu.Unlock()
		return domain.EtaEstimate{}, ErrSessionEnded
	}
	s.lastETA = &estimate
	status := s.status
	s.mu.Unlock()

	s.updates.Publish(domain.TripUpdate{BookingID: bookingID, Status: status, ETA: &estimate})
	return estimate, nil
}

// History returns the durable samples of a booking, tracked now or earlier.
func (m *Manager) History(ctx context.Context, bookingID string) ([]domain.LocationSample, error) {
	samples, err := m.hub.History(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", bookingID, err)
	}
	return samples, nil
}

// Subscribe returns a subscription to the accepted samples of a booking.
func (m *Manager) Subscribe(bookingID string) (*stream.Subscription[domain.LocationSample], error) {
	sub, err := m.hub.Subscribe(bookingID)
	if errors.Is(err, channel.ErrUnknownSession) {
		return nil, ErrSessionNotFound
	}
	return sub, err
}
