package metrics

import "time"

// Recorder receives the operational signals of the tracking and dispatch engine.
type Recorder interface {
	// Tracking
	RecordSample(result string)
	RecordGeofenceAlert(kind string)
	RecordSubscriberDrop(stream string)
	RecordPersistence(success bool)
	SetActiveSessions(n int)

	// ETA and dispatch
	RecordETA(source string)
	RecordDispatch(outcome string, duration time.Duration)

	// HTTP
	ObserveHTTPRequestDuration(method, path, statusCode string, duration float64)
}

// Sample results.
const (
	SampleAccepted = "accepted"
	SampleStale    = "stale"
	SampleRejected = "rejected"
)

// Nop discards every signal.
type Nop struct{}

func (Nop) RecordSample(string)                                        {}
func (Nop) RecordGeofenceAlert(string)                                 {}
func (Nop) RecordSubscriberDrop(string)                                {}
func (Nop) RecordPersistence(bool)                                     {}
func (Nop) SetActiveSessions(int)                                      {}
func (Nop) RecordETA(string)                                           {}
func (Nop) RecordDispatch(string, time.Duration)                       {}
func (Nop) ObserveHTTPRequestDuration(string, string, string, float64) {}

var _ Recorder = Nop{}
