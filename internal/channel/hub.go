// Package channel ingests driver samples per tracking session, filters them
// into per-driver timestamp order and fans them out to subscribers, the
// durable sample log and the realtime transport.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridetrack/internal/domain"
	"ridetrack/internal/metrics"
	"ridetrack/internal/repository"
	"ridetrack/internal/resilience"
	"ridetrack/internal/stream"
)

var (
	// ErrUnknownSession is returned for sessions that are not open.
	ErrUnknownSession = errors.New("unknown or closed session")

	// ErrSessionExists is returned when opening a session that is already open.
	ErrSessionExists = errors.New("session already open")
)

// Config tunes buffering, persistence and reconnection.
type Config struct {
	SubscriberBuffer  int
	PersistenceBuffer int
	StoreTimeout      time.Duration
	StoreRetryBackoff time.Duration
	ReconnectBackoff  time.Duration
	ReconnectMaxWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 32
	}
	if c.PersistenceBuffer <= 0 {
		c.PersistenceBuffer = 1024
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.StoreRetryBackoff <= 0 {
		c.StoreRetryBackoff = 100 * time.Millisecond
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 500 * time.Millisecond
	}
	if c.ReconnectMaxWait < c.ReconnectBackoff {
		c.ReconnectMaxWait = 30 * c.ReconnectBackoff
	}
	return c
}

// AcceptFunc is invoked inline for every accepted sample, in acceptance
// order. It must not publish to the same session.
type AcceptFunc func(domain.LocationSample)

// Hub owns every open location channel of this instance.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store     repository.SampleStore
	transport Transport
	cfg       Config
	origin    string
	logger    *zap.Logger
	metrics   metrics.Recorder
}

type session struct {
	id string

	mu           sync.Mutex
	closed       bool
	lastByDriver map[string]int64
	last         *domain.LocationSample
	onAccept     AcceptFunc

	samples *stream.Broadcaster[domain.LocationSample]
	status  *stream.Broadcaster[domain.SessionStatus]
	persist *stream.Broadcaster[domain.LocationSample]
	relay   *stream.Broadcaster[domain.LocationSample]

	// persistDrops counts samples evicted from the persistence queue; they
	// are missing from the durable log.
	persistDrops atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a Hub. A nil store disables persistence; a nil transport
// makes every channel local-only.
func NewHub(store repository.SampleStore, transport Transport, cfg Config, logger *zap.Logger, m metrics.Recorder) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Hub{
		sessions:  make(map[string]*session),
		store:     store,
		transport: transport,
		cfg:       cfg.withDefaults(),
		origin:    uuid.NewString(),
		logger:    logger,
		metrics:   m,
	}
}

// Origin returns the id stamped on envelopes relayed by this hub.
func (h *Hub) Origin() string {
	return h.origin
}

// Open registers a session and starts its workers. The workers outlive ctx
// cancellation and stop on Close.
func (h *Hub) Open(ctx context.Context, sessionID string, onAccept AcceptFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[sessionID]; ok {
		return ErrSessionExists
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:           sessionID,
		lastByDriver: make(map[string]int64),
		onAccept:     onAccept,
		samples: stream.NewBroadcaster(h.cfg.SubscriberBuffer,
			stream.WithDropHook[domain.LocationSample](func() { h.metrics.RecordSubscriberDrop("samples") })),
		status: stream.NewBroadcaster(h.cfg.SubscriberBuffer,
			stream.WithReplayLast[domain.SessionStatus]()),
		cancel: cancel,
	}

	if h.store != nil {
		s.persist = stream.NewBroadcaster(h.cfg.PersistenceBuffer,
			stream.WithDropHook[domain.LocationSample](func() { h.persistenceDropped(s) }))
		queue := s.persist.Subscribe()
		s.wg.Add(1)
		go h.persistLoop(s, queue)
	}

	if h.transport != nil {
		s.relay = stream.NewBroadcaster(h.cfg.SubscriberBuffer,
			stream.WithDropHook[domain.LocationSample](func() { h.metrics.RecordSubscriberDrop("relay") }))
		queue := s.relay.Subscribe()
		s.wg.Add(2)
		go h.relayLoop(workerCtx, s, queue)
		go h.pump(workerCtx, s)
	} else {
		s.status.Publish(domain.SessionStatusConnected)
	}

	h.sessions[sessionID] = s
	h.logger.Debug("location channel opened", zap.String("session_id", sessionID))
	return nil
}

// Publish offers a locally captured sample. It returns false when the
// session is not open, the coordinates are out of range, or the sample is
// not newer than the last accepted sample of its driver.
func (h *Hub) Publish(sessionID string, sample domain.LocationSample) bool {
	s := h.lookup(sessionID)
	if s == nil {
		h.metrics.RecordSample(metrics.SampleRejected)
		return false
	}
	return h.accept(s, sample, true)
}

func (h *Hub) accept(s *session, sample domain.LocationSample, local bool) bool {
	if !sample.Point().Valid() {
		h.metrics.RecordSample(metrics.SampleRejected)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		h.metrics.RecordSample(metrics.SampleRejected)
		return false
	}
	if last, ok := s.lastByDriver[sample.DriverID]; ok && sample.CapturedAtEpochMs <= last {
		h.metrics.RecordSample(metrics.SampleStale)
		return false
	}
	s.lastByDriver[sample.DriverID] = sample.CapturedAtEpochMs

	if local && s.persist != nil {
		s.persist.Publish(sample)
	}
	accepted := sample
	s.last = &accepted
	if s.onAccept != nil {
		s.onAccept(sample)
	}
	s.samples.Publish(sample)
	if local && s.relay != nil {
		s.relay.Publish(sample)
	}

	h.metrics.RecordSample(metrics.SampleAccepted)
	return true
}

// Subscribe returns an independent bounded subscription to accepted samples.
func (h *Hub) Subscribe(sessionID string) (*stream.Subscription[domain.LocationSample], error) {
	s := h.lookup(sessionID)
	if s == nil {
		return nil, ErrUnknownSession
	}
	return s.samples.Subscribe(), nil
}

// ConnectionStatus returns a subscription to status changes. The current
// status is delivered first.
func (h *Hub) ConnectionStatus(sessionID string) (*stream.Subscription[domain.SessionStatus], error) {
	s := h.lookup(sessionID)
	if s == nil {
		return nil, ErrUnknownSession
	}
	return s.status.Subscribe(), nil
}

// LastSample returns the most recently accepted sample of an open session.
func (h *Hub) LastSample(sessionID string) (domain.LocationSample, bool) {
	s := h.lookup(sessionID)
	if s == nil {
		return domain.LocationSample{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.LocationSample{}, false
	}
	return *s.last, true
}

// History reads the durable log of a session, open or not.
func (h *Hub) History(ctx context.Context, sessionID string) ([]domain.LocationSample, error) {
	if h.store == nil {
		return []domain.LocationSample{}, nil
	}
	return h.store.ReadAll(ctx, sessionID)
}

// Close stops accepting samples, stops the transport pump, closes every
// subscription and waits until queued samples are persisted. Closing an
// unknown session is a no-op.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.shutdown(s)
	h.logger.Debug("location channel closed", zap.String("session_id", sessionID))
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		h.shutdown(s)
	}
}

func (h *Hub) shutdown(s *session) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.samples.Close()
	s.status.Close()
	if s.persist != nil {
		s.persist.Close()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	s.wg.Wait()
}

func (h *Hub) lookup(sessionID string) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionID]
}

// persistenceDropped records a sample lost from the durable log because the
// store fell behind. The first loss and every hundredth after it are logged.
func (h *Hub) persistenceDropped(s *session) {
	h.metrics.RecordSubscriberDrop("persistence")
	if n := s.persistDrops.Add(1); n == 1 || n%100 == 0 {
		h.logger.Warn("persistence queue full, samples missing from history",
			zap.String("session_id", s.id),
			zap.Uint64("dropped_total", n),
		)
	}
}

// persistLoop drains the session queue into the store. It keeps running
// after Close until the queue is empty.
func (h *Hub) persistLoop(s *session, queue *stream.Subscription[domain.LocationSample]) {
	defer s.wg.Done()

	for sample := range queue.C() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.StoreTimeout)
		err := resilience.Retry(ctx, 2, h.cfg.StoreRetryBackoff, func(ctx context.Context) error {
			return h.store.Append(ctx, s.id, sample)
		})
		cancel()

		h.metrics.RecordPersistence(err == nil)
		if err != nil {
			h.logger.Error("failed to persist location sample",
				zap.String("session_id", s.id),
				zap.String("driver_id", sample.DriverID),
				zap.Int64("captured_at_ms", sample.CapturedAtEpochMs),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) relayLoop(ctx context.Context, s *session, queue *stream.Subscription[domain.LocationSample]) {
	defer s.wg.Done()

	for sample := range queue.C() {
		env := Envelope{Origin: h.origin, SessionID: s.id, Sample: sample}
		if err := h.transport.Publish(ctx, s.id, env); err != nil && ctx.Err() == nil {
			h.logger.Warn("failed to relay location sample",
				zap.String("session_id", s.id),
				zap.Error(err),
			)
		}
	}
}

// pump keeps a transport subscription alive, resubscribing with exponential
// backoff whenever the connection is lost.
func (h *Hub) pump(ctx context.Context, s *session) {
	defer s.wg.Done()

	backoff := h.cfg.ReconnectBackoff
	for {
		s.status.Publish(domain.SessionStatusConnecting)

		envelopes, err := h.transport.Subscribe(ctx, s.id)
		if err == nil {
			s.status.Publish(domain.SessionStatusConnected)
			backoff = h.cfg.ReconnectBackoff
			for env := range envelopes {
				if env.Origin == h.origin {
					continue
				}
				h.accept(s, env.Sample, false)
			}
		} else if ctx.Err() == nil {
			h.logger.Warn("transport subscribe failed",
				zap.String("session_id", s.id),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
		}

		if ctx.Err() != nil {
			return
		}
		s.status.Publish(domain.SessionStatusDisconnected)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > h.cfg.ReconnectMaxWait {
			backoff = h.cfg.ReconnectMaxWait
		}
	}
}
