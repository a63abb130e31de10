package dispatch

import "errors"

var (
	// ErrIndexUnavailable is returned when the geospatial index cannot be
	// queried after a retry. Callers may retry later.
	ErrIndexUnavailable = errors.New("driver index unavailable")

	// ErrInvalidLocation is returned when coordinates are out of range.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidCapacity is returned for a negative passenger count.
	ErrInvalidCapacity = errors.New("invalid passenger capacity")
)
