package redis

import (
	"ridetrack/internal/channel"
	"ridetrack/internal/repository"
)

// Ensure concrete types implement interfaces.
var (
	_ channel.Transport      = (*PubSubTransport)(nil)
	_ repository.SampleStore = (*SampleStreamStore)(nil)
)
