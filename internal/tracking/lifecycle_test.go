package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridetrack/internal/channel"
	"ridetrack/internal/domain"
	"ridetrack/internal/stream"
)

// gatedSource blocks Start until the gate is opened.
type gatedSource struct {
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedSource() *gatedSource {
	return &gatedSource{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (g *gatedSource) Start(context.Context, string, func(domain.LocationSample)) (func(), error) {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return func() {}, nil
}

// slowStopSource returns stop functions that block until released.
type slowStopSource struct {
	stopping chan struct{}
	release  chan struct{}
	once     sync.Once
}

func newSlowStopSource() *slowStopSource {
	return &slowStopSource{stopping: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowStopSource) Start(context.Context, string, func(domain.LocationSample)) (func(), error) {
	return func() {
		s.once.Do(func() { close(s.stopping) })
		<-s.release
	}, nil
}

// switchableTransport loses and restores its subscription on demand.
type switchableTransport struct {
	mu      sync.Mutex
	current chan channel.Envelope
}

func (f *switchableTransport) Publish(context.Context, string, channel.Envelope) error {
	return nil
}

func (f *switchableTransport) Subscribe(ctx context.Context, _ string) (<-chan channel.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan channel.Envelope)
	f.current = ch
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.current == ch {
			close(ch)
			f.current = nil
		}
	}()
	return ch, nil
}

func (f *switchableTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
}

func awaitStatus(t *testing.T, sub *stream.Subscription[domain.SessionStatus], want domain.SessionStatus) {
	t.Helper()
	for {
		if next(t, sub) == want {
			return
		}
	}
}

func TestStopTracking_DuringStartEndsSession(t *testing.T) {
	source := newGatedSource()
	f := newFixture(t, Dependencies{Positions: source}, assignedBooking("booking-1"))

	type result struct {
		session *Session
		err     error
	}
	started := make(chan result, 1)
	go func() {
		s, err := f.manager.StartTracking(context.Background(), "booking-1")
		started <- result{s, err}
	}()
	<-source.entered

	cancelled := make(chan error, 1)
	go func() {
		cancelled <- f.manager.UpdateBookingStatus(context.Background(), "booking-1", domain.BookingStatusCancelled)
	}()
	time.Sleep(20 * time.Millisecond)
	close(source.gate)

	res := <-started
	require.NoError(t, res.err)
	select {
	case err := <-cancelled:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("status update did not return")
	}

	assert.Equal(t, domain.SessionStatusEnded, res.session.Status())
	_, tracked := f.manager.Get("booking-1")
	assert.False(t, tracked)
}

func TestStartTracking_WaitsForInFlightStop(t *testing.T) {
	source := newSlowStopSource()
	f := newFixture(t, Dependencies{Positions: source}, assignedBooking("booking-1"))

	first, err := f.manager.StartTracking(context.Background(), "booking-1")
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		f.manager.StopTracking("booking-1")
		close(stopped)
	}()
	<-source.stopping

	type result struct {
		session *Session
		err     error
	}
	restarted := make(chan result, 1)
	go func() {
		s, err := f.manager.StartTracking(context.Background(), "booking-1")
		restarted <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(source.release)

	<-stopped
	var res result
	select {
	case res = <-restarted:
	case <-time.After(2 * time.Second):
		t.Fatal("restart did not return")
	}
	require.NoError(t, res.err)
	assert.NotSame(t, first, res.session)
	assert.Equal(t, domain.SessionStatusEnded, first.Status())

	require.Eventually(t, func() bool {
		return res.session.Status() == domain.SessionStatusConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_FollowsTransportLossAndRecovery(t *testing.T) {
	transport := &switchableTransport{}
	hub := channel.NewHub(nil, transport, channel.Config{
		ReconnectBackoff: time.Millisecond,
		ReconnectMaxWait: 5 * time.Millisecond,
	}, nil, nil)
	f := newFixture(t, Dependencies{Hub: hub}, assignedBooking("booking-1"))

	s, err := f.manager.StartTracking(context.Background(), "booking-1")
	require.NoError(t, err)
	statuses := s.Statuses()
	defer statuses.Close()
	awaitStatus(t, statuses, domain.SessionStatusConnected)

	accepted, err := f.manager.Ingest("booking-1", sampleAt(pickup, 1))
	require.NoError(t, err)
	require.True(t, accepted)
	before := s.Snapshot()
	require.NotNil(t, before.LastSample)

	transport.drop()

	assert.Equal(t, domain.SessionStatusDisconnected, next(t, statuses))
	assert.Equal(t, domain.SessionStatusConnecting, next(t, statuses))
	assert.Equal(t, domain.SessionStatusConnected, next(t, statuses))

	after := s.Snapshot()
	assert.Equal(t, domain.SessionStatusConnected, after.Status)
	require.NotNil(t, after.LastSample)
	assert.Equal(t, before.LastSample.CapturedAtEpochMs, after.LastSample.CapturedAtEpochMs)
	require.Len(t, after.Zones, len(before.Zones))
	for i := range before.Zones {
		assert.Equal(t, before.Zones[i].CooldownUntilEpochMs, after.Zones[i].CooldownUntilEpochMs)
	}
	assert.Greater(t, after.Zones[0].CooldownUntilEpochMs, int64(0))
}
