package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 5, time.Hour, func(context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
