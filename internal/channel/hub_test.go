package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ridetrack/internal/domain"
	"ridetrack/internal/stream"
)

type memoryStore struct {
	mu      sync.Mutex
	samples map[string][]domain.LocationSample
	fail    bool
	calls   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{samples: make(map[string][]domain.LocationSample)}
}

func (m *memoryStore) Append(_ context.Context, sessionID string, sample domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.fail {
		return errors.New("store unavailable")
	}
	m.samples[sessionID] = append(m.samples[sessionID], sample)
	return nil
}

func (m *memoryStore) ReadAll(_ context.Context, sessionID string) ([]domain.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.LocationSample(nil), m.samples[sessionID]...), nil
}

type fakeTransport struct {
	mu         sync.Mutex
	current    chan Envelope
	subscribes int
	published  []Envelope
}

func (f *fakeTransport) Publish(_ context.Context, _ string, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, _ string) (<-chan Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	ch := make(chan Envelope, 8)
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

// dropConnection simulates transport loss on the live subscription.
func (f *fakeTransport) dropConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		close(f.current)
		f.current = nil
	}
}

func (f *fakeTransport) deliver(env Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return false
	}
	f.current <- env
	return true
}

func (f *fakeTransport) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func sampleAt(ts int64) domain.LocationSample {
	return domain.LocationSample{DriverID: "driver-1", Latitude: 12.97, Longitude: 77.59, CapturedAtEpochMs: ts}
}

func testConfig() Config {
	return Config{
		SubscriberBuffer:  16,
		StoreRetryBackoff: time.Millisecond,
		ReconnectBackoff:  time.Millisecond,
		ReconnectMaxWait:  5 * time.Millisecond,
	}
}

func collect[T any](t *testing.T, sub *stream.Subscription[T], n int) []T {
	t.Helper()
	out := make([]T, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatalf("timed out after %d of %d items", len(out), n)
		}
	}
	return out
}

func waitForStatus(t *testing.T, sub *stream.Subscription[domain.SessionStatus], want domain.SessionStatus) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got, ok := <-sub.C():
			require.True(t, ok, "status stream closed before %s", want)
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func TestHub_MonotonicFilter(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	sub, err := hub.Subscribe("booking-1")
	require.NoError(t, err)

	results := []bool{}
	for _, ts := range []int64{100, 105, 103, 110} {
		results = append(results, hub.Publish("booking-1", sampleAt(ts)))
	}
	assert.Equal(t, []bool{true, true, false, true}, results)

	got := collect(t, sub, 3)
	var stamps []int64
	for _, s := range got {
		stamps = append(stamps, s.CapturedAtEpochMs)
	}
	assert.Equal(t, []int64{100, 105, 110}, stamps)

	last, ok := hub.LastSample("booking-1")
	require.True(t, ok)
	assert.Equal(t, int64(110), last.CapturedAtEpochMs)
}

func TestHub_DuplicateTimestampIsDropped(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	assert.True(t, hub.Publish("booking-1", sampleAt(100)))
	assert.False(t, hub.Publish("booking-1", sampleAt(100)))
}

func TestHub_OrderingIsPerDriver(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	other := sampleAt(50)
	other.DriverID = "driver-2"

	assert.True(t, hub.Publish("booking-1", sampleAt(100)))
	assert.True(t, hub.Publish("booking-1", other))
}

func TestHub_RejectsUnknownSessionAndInvalidCoordinates(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	assert.False(t, hub.Publish("missing", sampleAt(1)))

	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	bad := sampleAt(1)
	bad.Latitude = 91
	assert.False(t, hub.Publish("booking-1", bad))
	assert.True(t, hub.Publish("booking-1", sampleAt(1)))
}

func TestHub_OpenTwiceFails(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	assert.ErrorIs(t, hub.Open(context.Background(), "booking-1", nil), ErrSessionExists)
}

func TestHub_OnAcceptRunsInlineInOrder(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	var seen []int64
	require.NoError(t, hub.Open(context.Background(), "booking-1", func(s domain.LocationSample) {
		seen = append(seen, s.CapturedAtEpochMs)
	}))
	defer hub.Close("booking-1")

	for _, ts := range []int64{1, 3, 2, 4} {
		hub.Publish("booking-1", sampleAt(ts))
	}
	assert.Equal(t, []int64{1, 3, 4}, seen)
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	cfg := testConfig()
	cfg.SubscriberBuffer = 2
	hub := NewHub(nil, nil, cfg, nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	slow, err := hub.Subscribe("booking-1")
	require.NoError(t, err)
	fast, err := hub.Subscribe("booking-1")
	require.NoError(t, err)

	var fastGot []int64
	for ts := int64(1); ts <= 10; ts++ {
		require.True(t, hub.Publish("booking-1", sampleAt(ts)))
		s := <-fast.C()
		fastGot = append(fastGot, s.CapturedAtEpochMs)
	}
	assert.Len(t, fastGot, 10)

	got := collect(t, slow, 2)
	assert.Equal(t, int64(9), got[0].CapturedAtEpochMs)
	assert.Equal(t, int64(10), got[1].CapturedAtEpochMs)
	assert.Equal(t, uint64(8), slow.Dropped())
}

func TestHub_PersistsAcceptedSamples(t *testing.T) {
	store := newMemoryStore()
	hub := NewHub(store, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))

	for _, ts := range []int64{100, 105, 103, 110} {
		hub.Publish("booking-1", sampleAt(ts))
	}
	hub.Close("booking-1")

	history, err := hub.History(context.Background(), "booking-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(110), history[2].CapturedAtEpochMs)
}

func TestHub_PersistenceFailureStillBroadcasts(t *testing.T) {
	store := newMemoryStore()
	store.fail = true
	hub := NewHub(store, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))

	sub, err := hub.Subscribe("booking-1")
	require.NoError(t, err)

	require.True(t, hub.Publish("booking-1", sampleAt(1)))
	got := collect(t, sub, 1)
	assert.Equal(t, int64(1), got[0].CapturedAtEpochMs)

	hub.Close("booking-1")
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 2, store.calls, "one retry after the first failure")
}

func TestHub_CloseStopsAcceptingAndClosesSubscriptions(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	sub, err := hub.Subscribe("booking-1")
	require.NoError(t, err)

	hub.Close("booking-1")
	hub.Close("booking-1")

	assert.False(t, hub.Publish("booking-1", sampleAt(1)))
	_, ok := <-sub.C()
	assert.False(t, ok)

	_, err = hub.Subscribe("booking-1")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestHub_LocalOnlyReportsConnected(t *testing.T) {
	hub := NewHub(nil, nil, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	status, err := hub.ConnectionStatus("booking-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusConnected, <-status.C())
}

func TestHub_ResubscribesAfterTransportLoss(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewHub(nil, transport, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))
	defer hub.Close("booking-1")

	status, err := hub.ConnectionStatus("booking-1")
	require.NoError(t, err)
	waitForStatus(t, status, domain.SessionStatusConnected)

	transport.dropConnection()
	waitForStatus(t, status, domain.SessionStatusDisconnected)
	waitForStatus(t, status, domain.SessionStatusConnected)

	assert.GreaterOrEqual(t, transport.subscribeCount(), 2)
}

func TestHub_RemoteSamplesAreBroadcastAndOwnEchoIgnored(t *testing.T) {
	transport := &fakeTransport{}
	store := newMemoryStore()
	hub := NewHub(store, transport, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))

	status, err := hub.ConnectionStatus("booking-1")
	require.NoError(t, err)
	waitForStatus(t, status, domain.SessionStatusConnected)

	sub, err := hub.Subscribe("booking-1")
	require.NoError(t, err)

	require.True(t, transport.deliver(Envelope{Origin: hub.Origin(), SessionID: "booking-1", Sample: sampleAt(1)}))
	require.True(t, transport.deliver(Envelope{Origin: "other-instance", SessionID: "booking-1", Sample: sampleAt(2)}))

	got := collect(t, sub, 1)
	assert.Equal(t, int64(2), got[0].CapturedAtEpochMs)

	hub.Close("booking-1")
	history, err := hub.History(context.Background(), "booking-1")
	require.NoError(t, err)
	assert.Empty(t, history, "remote samples are persisted by their origin")
}

func TestHub_RelaysLocalSamples(t *testing.T) {
	transport := &fakeTransport{}
	hub := NewHub(nil, transport, testConfig(), nil, nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))

	require.True(t, hub.Publish("booking-1", sampleAt(1)))
	require.Eventually(t, func() bool { return transport.publishedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Close("booking-1")

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, hub.Origin(), transport.published[0].Origin)
	assert.Equal(t, "booking-1", transport.published[0].SessionID)
}

// stalledStore blocks every Append until released.
type stalledStore struct {
	*memoryStore
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (s *stalledStore) Append(ctx context.Context, sessionID string, sample domain.LocationSample) error {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.memoryStore.Append(ctx, sessionID, sample)
}

func TestHub_PersistenceOverflowIsLogged(t *testing.T) {
	store := &stalledStore{
		memoryStore: newMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	core, logs := observer.New(zap.WarnLevel)
	cfg := testConfig()
	cfg.PersistenceBuffer = 1
	cfg.StoreTimeout = 5 * time.Second
	hub := NewHub(store, nil, cfg, zap.New(core), nil)
	require.NoError(t, hub.Open(context.Background(), "booking-1", nil))

	require.True(t, hub.Publish("booking-1", sampleAt(1)))
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("store never called")
	}

	// One sample waits in the queue; the rest evict it in turn.
	for ts := int64(2); ts <= 5; ts++ {
		require.True(t, hub.Publish("booking-1", sampleAt(ts)))
	}

	overflow := logs.FilterMessage("persistence queue full, samples missing from history")
	require.Equal(t, 1, overflow.Len(), "first loss is logged, later ones are throttled")
	fields := overflow.All()[0].ContextMap()
	assert.Equal(t, "booking-1", fields["session_id"])
	assert.Equal(t, uint64(1), fields["dropped_total"])

	close(store.release)
	hub.Close("booking-1")

	history, err := hub.History(context.Background(), "booking-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(5), history[1].CapturedAtEpochMs)
}
