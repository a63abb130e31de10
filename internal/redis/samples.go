package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ridetrack/internal/domain"
)

// SampleRetention is how long a session's stream survives its last append.
const SampleRetention = 24 * time.Hour

const (
	sampleStreamPrefix = "samples:"
	samplePayloadField = "payload"
)

// SampleStreamKey returns the stream key of a session.
func SampleStreamKey(sessionID string) string {
	return sampleStreamPrefix + sessionID
}

// SampleStreamStore is a repository.SampleStore backed by Redis Streams.
type SampleStreamStore struct {
	client *redis.Client
}

// NewSampleStreamStore creates a new SampleStreamStore.
func NewSampleStreamStore(client *redis.Client) *SampleStreamStore {
	return &SampleStreamStore{client: client}
}

// Append adds a sample with XADD and refreshes the stream TTL.
func (s *SampleStreamStore) Append(ctx context.Context, sessionID string, sample domain.LocationSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	key := SampleStreamKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{samplePayloadField: data},
	})
	pipe.Expire(ctx, key, SampleRetention)
	_, err = pipe.Exec(ctx)
	return err
}

// ReadAll returns the session stream in append order.
func (s *SampleStreamStore) ReadAll(ctx context.Context, sessionID string) ([]domain.LocationSample, error) {
	messages, err := s.client.XRange(ctx, SampleStreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, err
	}
	return decodeSamples(messages)
}

func decodeSamples(messages []redis.XMessage) ([]domain.LocationSample, error) {
	samples := make([]domain.LocationSample, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values[samplePayloadField].(string)
		if !ok {
			return nil, fmt.Errorf("stream entry %s: missing %s field", msg.ID, samplePayloadField)
		}
		var sample domain.LocationSample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return nil, fmt.Errorf("stream entry %s: %w", msg.ID, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
