package channel

import (
	"context"

	"ridetrack/internal/domain"
)

// Envelope carries a sample between instances. Origin identifies the
// publishing hub so a hub can skip its own relayed samples.
type Envelope struct {
	Origin    string                `json:"origin"`
	SessionID string                `json:"session_id"`
	Sample    domain.LocationSample `json:"sample"`
}

// Transport is the realtime link shared by every instance tracking a session.
type Transport interface {
	// Publish relays an envelope to every subscriber of the session topic.
	Publish(ctx context.Context, sessionID string, env Envelope) error

	// Subscribe streams envelopes of the session topic. The returned channel
	// is closed when the connection is lost or ctx is cancelled.
	Subscribe(ctx context.Context, sessionID string) (<-chan Envelope, error)
}
