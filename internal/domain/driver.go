package domain

// DriverStatus represents the current status of a driver.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// VehicleType represents the class of vehicle a driver operates.
type VehicleType string

const (
	VehicleTypeSedan   VehicleType = "SEDAN"
	VehicleTypeSUV     VehicleType = "SUV"
	VehicleTypeVan     VehicleType = "VAN"
	VehicleTypeLuxury  VehicleType = "LUXURY"
	VehicleTypeMinibus VehicleType = "MINIBUS"
)

// Vehicle describes the vehicle assigned to a driver.
type Vehicle struct {
	Type     VehicleType `json:"type"`
	Capacity int         `json:"capacity"`
}

// Driver represents a driver in the system.
type Driver struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Status  DriverStatus `json:"status"`
	Rating  float64      `json:"rating"` // 0..5
	Vehicle Vehicle      `json:"vehicle"`
}

// Available reports whether the driver can take a new booking.
func (d *Driver) Available() bool {
	return d.Status == DriverStatusOnline
}

// DriverCandidate is a driver annotated for a specific pickup request.
// It is computed per request and never stored.
type DriverCandidate struct {
	Driver     Driver  `json:"driver"`
	DistanceKm float64 `json:"distance_km"`
	EtaMinutes float64 `json:"eta_minutes"`
	Available  bool    `json:"available"`
	Score      float64 `json:"score"`
}
