// Package geofence detects entry of accepted samples into circular zones.
package geofence

import (
	"time"

	"github.com/google/uuid"

	"ridetrack/internal/domain"
	"ridetrack/internal/geo"
)

// DefaultCooldown suppresses repeat alerts for a zone after it triggers.
const DefaultCooldown = 5 * time.Second

// Evaluator raises de-duplicated zone entry alerts. It mutates zone cooldowns
// and must only be called by the single ingestion path that owns the zones.
type Evaluator struct {
	cooldown time.Duration
}

// NewEvaluator creates an Evaluator. A non-positive cooldown uses DefaultCooldown.
func NewEvaluator(cooldown time.Duration) *Evaluator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Evaluator{cooldown: cooldown}
}

// Evaluate returns one alert per zone containing the sample whose cooldown has
// elapsed at now, and starts the cooldown of every zone it alerts for.
func (e *Evaluator) Evaluate(bookingID string, zones []*domain.GeofenceZone, sample domain.LocationSample, now time.Time) []domain.GeofenceAlert {
	if len(zones) == 0 {
		return nil
	}

	nowMs := now.UnixMilli()
	position := sample.Point()

	var alerts []domain.GeofenceAlert
	for _, zone := range zones {
		if zone == nil {
			continue
		}
		d := geo.DistanceMeters(zone.Center, position)
		if d > zone.RadiusMeters || nowMs < zone.CooldownUntilEpochMs {
			continue
		}
		zone.CooldownUntilEpochMs = nowMs + e.cooldown.Milliseconds()
		alerts = append(alerts, domain.GeofenceAlert{
			ID:                 uuid.NewString(),
			BookingID:          bookingID,
			Kind:               zone.Kind,
			DistanceMeters:     d,
			Sample:             sample,
			TriggeredAtEpochMs: nowMs,
		})
	}
	return alerts
}
