package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/dispatch"
	"ridetrack/internal/domain"
	"ridetrack/internal/tracking"
)

// DispatchHandler handles HTTP requests for driver discovery and locations.
type DispatchHandler struct {
	service *dispatch.Service
	feed    *tracking.DriverFeed
}

// NewDispatchHandler creates a new DispatchHandler. feed may be nil.
func NewDispatchHandler(service *dispatch.Service, feed *tracking.DriverFeed) *DispatchHandler {
	return &DispatchHandler{service: service, feed: feed}
}

// OptimalDriverRequest is the HTTP request body for selecting a driver.
type OptimalDriverRequest struct {
	Pickup            domain.Point `json:"pickup"`
	VehicleType       string       `json:"vehicle_type"`
	PassengerCapacity int          `json:"passenger_capacity"`
	RadiusKm          float64      `json:"radius_km"`
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat               float64  `json:"lat"`
	Lng               float64  `json:"lng"`
	AccuracyMeters    float64  `json:"accuracy_meters"`
	HeadingDegrees    *float64 `json:"heading_degrees"`
	SpeedMps          *float64 `json:"speed_mps"`
	CapturedAtEpochMs int64    `json:"captured_at_epoch_ms"`
}

// Nearby handles GET /v1/dispatch/nearby?lat=&lng=&radius_km=
func (h *DispatchHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}

	var radiusKm float64
	if raw := c.Query("radius_km"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radius_km"})
			return
		}
		radiusKm = v
	}

	candidates, err := h.service.NearbyDrivers(c.Request.Context(), domain.Point{Lat: lat, Lng: lng}, radiusKm)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, candidates)
}

// Optimal handles POST /v1/dispatch/optimal
func (h *DispatchHandler) Optimal(c *gin.Context) {
	var req OptimalDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	candidate, ok, err := h.service.FindOptimalDriver(c.Request.Context(), dispatch.OptimalDriverRequest{
		Pickup:            req.Pickup,
		VehicleType:       domain.VehicleType(req.VehicleType),
		PassengerCapacity: req.PassengerCapacity,
		RadiusKm:          req.RadiusKm,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no driver available"})
		return
	}

	respondJSON(c, http.StatusOK, candidate)
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DispatchHandler) UpdateLocation(c *gin.Context) {
	driverID := c.Param("id")

	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	p := domain.Point{Lat: req.Lat, Lng: req.Lng}
	if err := h.service.UpdateDriverLocation(c.Request.Context(), driverID, p); err != nil {
		respondError(c, err)
		return
	}

	if h.feed != nil {
		capturedAt := req.CapturedAtEpochMs
		if capturedAt <= 0 {
			capturedAt = time.Now().UnixMilli()
		}
		h.feed.Push(domain.LocationSample{
			DriverID:          driverID,
			Latitude:          req.Lat,
			Longitude:         req.Lng,
			AccuracyMeters:    req.AccuracyMeters,
			HeadingDegrees:    req.HeadingDegrees,
			SpeedMps:          req.SpeedMps,
			CapturedAtEpochMs: capturedAt,
		})
	}

	c.Status(http.StatusNoContent)
}

// RemoveLocation handles DELETE /v1/drivers/:id/location
func (h *DispatchHandler) RemoveLocation(c *gin.Context) {
	if err := h.service.RemoveDriverLocation(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
