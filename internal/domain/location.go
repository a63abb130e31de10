package domain

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// LocationSample is a single driver position fix. Samples are immutable
// once created and are only ever appended to a session's history.
type LocationSample struct {
	DriverID          string   `json:"driver_id"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	AccuracyMeters    float64  `json:"accuracy_meters"`
	HeadingDegrees    *float64 `json:"heading_degrees,omitempty"`
	SpeedMps          *float64 `json:"speed_mps,omitempty"`
	CapturedAtEpochMs int64    `json:"captured_at_epoch_ms"`
}

// Point returns the sample position.
func (s LocationSample) Point() Point {
	return Point{Lat: s.Latitude, Lng: s.Longitude}
}
