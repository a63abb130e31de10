package domain

// SessionStatus is the state of a tracking session.
type SessionStatus string

const (
	SessionStatusConnecting   SessionStatus = "CONNECTING"
	SessionStatusConnected    SessionStatus = "CONNECTED"
	SessionStatusDisconnected SessionStatus = "DISCONNECTED"
	SessionStatusEnded        SessionStatus = "ENDED"
)

// ZoneKind names the purpose of a geofence zone.
type ZoneKind string

const (
	ZoneKindPickup      ZoneKind = "PICKUP"
	ZoneKindDestination ZoneKind = "DESTINATION"
	ZoneKindAirport     ZoneKind = "AIRPORT"
)

// GeofenceZone is a circular zone. CooldownUntilEpochMs is owned by the
// geofence evaluator of the session the zone belongs to.
type GeofenceZone struct {
	Kind                 ZoneKind `json:"kind"`
	Center               Point    `json:"center"`
	RadiusMeters         float64  `json:"radius_meters"`
	CooldownUntilEpochMs int64    `json:"cooldown_until_epoch_ms"`
}

// GeofenceAlert is raised when an accepted sample enters a zone outside its cooldown.
type GeofenceAlert struct {
	ID                 string         `json:"id"`
	BookingID          string         `json:"booking_id"`
	Kind               ZoneKind       `json:"kind"`
	DistanceMeters     float64        `json:"distance_meters"`
	Sample             LocationSample `json:"sample"`
	TriggeredAtEpochMs int64          `json:"triggered_at_epoch_ms"`
}

// EtaSource identifies how an estimate was produced.
type EtaSource string

const (
	EtaSourceRoutingProvider   EtaSource = "ROUTING_PROVIDER"
	EtaSourceGeometricFallback EtaSource = "GEOMETRIC_FALLBACK"
)

// EtaEstimate is an arrival-time estimate. It is produced fresh per request.
type EtaEstimate struct {
	DurationSeconds float64   `json:"duration_seconds"`
	DistanceMeters  float64   `json:"distance_meters"`
	Source          EtaSource `json:"source"`
}

// TripUpdate is published for every accepted sample and status change of a session.
type TripUpdate struct {
	BookingID string          `json:"booking_id"`
	Status    SessionStatus   `json:"status"`
	ETA       *EtaEstimate    `json:"eta,omitempty"`
	Sample    *LocationSample `json:"sample,omitempty"`
}
