package geofence

import "ridetrack/internal/domain"

// ZoneConfig controls the zones derived for a booking.
type ZoneConfig struct {
	PickupRadiusMeters      float64
	DestinationRadiusMeters float64
	// Airport is added to every session when set.
	Airport *domain.GeofenceZone
}

// DefaultZoneConfig returns the standard pickup and destination radii.
func DefaultZoneConfig() ZoneConfig {
	return ZoneConfig{
		PickupRadiusMeters:      100,
		DestinationRadiusMeters: 150,
	}
}

// BuildZones derives the zones of a booking's session. Out of range
// coordinates produce no zone.
func BuildZones(booking *domain.Booking, cfg ZoneConfig) []*domain.GeofenceZone {
	defaults := DefaultZoneConfig()
	if cfg.PickupRadiusMeters <= 0 {
		cfg.PickupRadiusMeters = defaults.PickupRadiusMeters
	}
	if cfg.DestinationRadiusMeters <= 0 {
		cfg.DestinationRadiusMeters = defaults.DestinationRadiusMeters
	}

	zones := make([]*domain.GeofenceZone, 0, 3)
	if booking != nil && booking.Pickup.Valid() {
		zones = append(zones, &domain.GeofenceZone{
			Kind:         domain.ZoneKindPickup,
			Center:       booking.Pickup,
			RadiusMeters: cfg.PickupRadiusMeters,
		})
	}
	if booking != nil && booking.Destination.Valid() {
		zones = append(zones, &domain.GeofenceZone{
			Kind:         domain.ZoneKindDestination,
			Center:       booking.Destination,
			RadiusMeters: cfg.DestinationRadiusMeters,
		})
	}
	if cfg.Airport != nil && cfg.Airport.RadiusMeters > 0 {
		airport := *cfg.Airport
		airport.Kind = domain.ZoneKindAirport
		airport.CooldownUntilEpochMs = 0
		zones = append(zones, &airport)
	}
	return zones
}
