package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"floodbuddy/internal/middleware"
	"floodbuddy/internal/models"
	"floodbuddy/internal/service"
)

const snapshotEvent = "snapshot"

// createReportRequest uses pointers so a missing coordinate is told apart
// from a real 0.
type createReportRequest struct {
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Severity  models.Severity `json:"severity"`
}

func (r createReportRequest) location() *models.Location {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &models.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
}

func (h HandlerSet) Severities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"severities":   models.Severities(),
		"defaultColor": models.DefaultMarkerColor,
	})
}

func (h HandlerSet) CreateReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.reports.Submit(c.Request.Context(), service.SubmitInput{
		Location: req.location(),
		Severity: req.Severity,
	})
	if err != nil {
		status, code := submitErrorStatus(err)
		if status >= http.StatusInternalServerError {
			middleware.Log(c).Error().Err(err).Msg("create report failed")
		}
		c.JSON(status, gin.H{"error": code})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"report": report})
}

func submitErrorStatus(err error) (int, string) {
	var writeErr *models.StoreWriteError
	switch {
	case errors.Is(err, models.ErrLocationUnavailable):
		return http.StatusUnprocessableEntity, "location_unavailable"
	case errors.Is(err, models.ErrInvalidSeverity):
		return http.StatusBadRequest, "invalid_severity"
	case errors.Is(err, models.ErrCoordinatesOutOfRange):
		return http.StatusBadRequest, "coordinates_out_of_range"
	case errors.As(err, &writeErr):
		return http.StatusServiceUnavailable, "store_write_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h HandlerSet) ListReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		middleware.Log(c).Error().Err(err).Msg("list reports failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h HandlerSet) Markers(c *gin.Context) {
	markers, err := h.reports.Markers(c.Request.Context())
	if err != nil {
		middleware.Log(c).Error().Err(err).Msg("render markers failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"markers": markers})
}

// StreamReports sends the full report set as a "snapshot" event, first on
// connect and then after every change. The subscription is released when
// the client goes away.
func (h HandlerSet) StreamReports(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.hub.Subscribe(ctx)
	if err != nil {
		middleware.Log(c).Error().Err(err).Msg("subscribe to snapshots failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream_unavailable"})
		return
	}
	defer sub.Close()

	heartbeat := h.clock.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snap, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(snapshotEvent, snap)
			return true
		case <-heartbeat.Chan():
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		}
	})
}
