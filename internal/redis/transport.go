package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridetrack/internal/channel"
)

const trackingTopicPrefix = "tracking:"

// TrackingTopic returns the Pub/Sub channel of a session.
func TrackingTopic(sessionID string) string {
	return trackingTopicPrefix + sessionID
}

// PubSubTransport relays samples between instances over Redis Pub/Sub.
type PubSubTransport struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPubSubTransport creates a new PubSubTransport.
func NewPubSubTransport(client *redis.Client, logger *zap.Logger) *PubSubTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubTransport{client: client, logger: logger}
}

// Publish sends an envelope to the session topic.
func (t *PubSubTransport) Publish(ctx context.Context, sessionID string, env channel.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return t.client.Publish(ctx, TrackingTopic(sessionID), data).Err()
}

// Subscribe confirms the subscription before returning. The stream closes on
// the first receive error so the caller can observe the disconnect.
func (t *PubSubTransport) Subscribe(ctx context.Context, sessionID string) (<-chan channel.Envelope, error) {
	pubsub := t.client.Subscribe(ctx, TrackingTopic(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", TrackingTopic(sessionID), err)
	}

	out := make(chan channel.Envelope)
	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					t.logger.Warn("tracking subscription lost",
						zap.String("session_id", sessionID),
						zap.Error(err),
					)
				}
				return
			}

			var env channel.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.logger.Warn("discarding malformed envelope",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
