package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/domain"
	"ridetrack/internal/tracking"
)

// TrackingHandler handles HTTP requests for tracking sessions.
type TrackingHandler struct {
	manager   *tracking.Manager
	keepAlive time.Duration
}

// NewTrackingHandler creates a new TrackingHandler.
func NewTrackingHandler(manager *tracking.Manager) *TrackingHandler {
	return &TrackingHandler{manager: manager, keepAlive: 15 * time.Second}
}

// SampleRequest is the HTTP request body for a device-pushed sample.
type SampleRequest struct {
	DriverID          string   `json:"driver_id"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	AccuracyMeters    float64  `json:"accuracy_meters"`
	HeadingDegrees    *float64 `json:"heading_degrees"`
	SpeedMps          *float64 `json:"speed_mps"`
	CapturedAtEpochMs int64    `json:"captured_at_epoch_ms"`
}

// SampleResponse reports whether a sample was accepted.
type SampleResponse struct {
	Accepted bool `json:"accepted"`
}

// UpdateStatusRequest is the HTTP request body for a booking status change.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// Start handles POST /v1/tracking/:bookingId/start
func (h *TrackingHandler) Start(c *gin.Context) {
	session, err := h.manager.StartTracking(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, session.Snapshot())
}

// Stop handles POST /v1/tracking/:bookingId/stop
func (h *TrackingHandler) Stop(c *gin.Context) {
	h.manager.StopTracking(c.Param("bookingId"))
	c.Status(http.StatusNoContent)
}

// Get handles GET /v1/tracking/:bookingId
func (h *TrackingHandler) Get(c *gin.Context) {
	session, ok := h.manager.Get(c.Param("bookingId"))
	if !ok {
		respondError(c, tracking.ErrSessionNotFound)
		return
	}

	respondJSON(c, http.StatusOK, session.Snapshot())
}

// IngestSample handles POST /v1/tracking/:bookingId/samples
func (h *TrackingHandler) IngestSample(c *gin.Context) {
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Latitude == nil || req.Longitude == nil || req.CapturedAtEpochMs <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "latitude, longitude and captured_at_epoch_ms are required"})
		return
	}

	sample := domain.LocationSample{
		DriverID:          req.DriverID,
		Latitude:          *req.Latitude,
		Longitude:         *req.Longitude,
		AccuracyMeters:    req.AccuracyMeters,
		HeadingDegrees:    req.HeadingDegrees,
		SpeedMps:          req.SpeedMps,
		CapturedAtEpochMs: req.CapturedAtEpochMs,
	}
	if !sample.Point().Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "coordinates out of range"})
		return
	}

	accepted, err := h.manager.Ingest(c.Param("bookingId"), sample)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusAccepted, SampleResponse{Accepted: accepted})
}

// History handles GET /v1/tracking/:bookingId/history
func (h *TrackingHandler) History(c *gin.Context) {
	samples, err := h.manager.History(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, samples)
}

// UpdateStatus handles POST /v1/tracking/:bookingId/status
func (h *TrackingHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "status is required"})
		return
	}

	err := h.manager.UpdateBookingStatus(c.Request.Context(), c.Param("bookingId"), domain.BookingStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ETA handles GET /v1/tracking/:bookingId/eta?traffic=true
func (h *TrackingHandler) ETA(c *gin.Context) {
	trafficAware, _ := strconv.ParseBool(c.DefaultQuery("traffic", "false"))

	estimate, err := h.manager.RefreshETA(c.Request.Context(), c.Param("bookingId"), trafficAware)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, estimate)
}

// Stream handles GET /v1/tracking/:bookingId/stream as server-sent events.
// Events: location, alert, update and status. The stream ends with the session
// after flushing whatever was already queued.
func (h *TrackingHandler) Stream(c *gin.Context) {
	bookingID := c.Param("bookingId")
	session, ok := h.manager.Get(bookingID)
	if !ok {
		respondError(c, tracking.ErrSessionNotFound)
		return
	}

	samplesSub, err := h.manager.Subscribe(bookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	alertsSub := session.Alerts()
	updatesSub := session.Updates()
	statusesSub := session.Statuses()
	defer func() {
		samplesSub.Close()
		alertsSub.Close()
		updatesSub.Close()
		statusesSub.Close()
	}()

	samples, alerts := samplesSub.C(), alertsSub.C()
	updates, statuses := updatesSub.C(), statusesSub.C()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	flush := func() {
		for {
			select {
			case sample, ok := <-samples:
				if ok {
					c.SSEvent("location", sample)
					continue
				}
				samples = nil
			case alert, ok := <-alerts:
				if ok {
					c.SSEvent("alert", alert)
					continue
				}
				alerts = nil
			case update, ok := <-updates:
				if ok {
					c.SSEvent("update", update)
					continue
				}
				updates = nil
			default:
				return
			}
		}
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case sample, ok := <-samples:
			if !ok {
				samples = nil
				return true
			}
			c.SSEvent("location", sample)
		case alert, ok := <-alerts:
			if !ok {
				alerts = nil
				return true
			}
			c.SSEvent("alert", alert)
		case update, ok := <-updates:
			if !ok {
				updates = nil
				return true
			}
			c.SSEvent("update", update)
		case status, ok := <-statuses:
			if !ok || status == domain.SessionStatusEnded {
				flush()
				c.SSEvent("status", gin.H{"status": domain.SessionStatusEnded})
				return false
			}
			c.SSEvent("status", gin.H{"status": status})
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
		}
		return true
	})
}
