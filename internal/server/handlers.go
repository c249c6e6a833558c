package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/pkg/core"
)

type handler struct {
	tracker Tracker
	markers MarkerSource
	logger  *slog.Logger
}

type manualRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

type nearbyResponse struct {
	Radius   float64               `json:"radius"`
	Count    int                   `json:"count"`
	Subjects []core.TrackedSubject `json:"subjects"`
}

func (h *handler) health(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "session": h.tracker.Session().State})
}

func (h *handler) subjects(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.tracker.Subjects())
}

func (h *handler) session(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.tracker.Session())
}

func (h *handler) start(c *gin.Context) {
	if err := h.tracker.Start(c.Request.Context()); err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.tracker.Session())
}

func (h *handler) stop(c *gin.Context) {
	if err := h.tracker.Stop(c.Request.Context()); err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.tracker.Session())
}

func (h *handler) manual(c *gin.Context) {
	var req manualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	self, err := h.tracker.SubmitManualPosition(c.Request.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, self)
}

// nearby takes an optional radius in meters and an optional lat/lng center.
func (h *handler) nearby(c *gin.Context) {
	radius, err := floatQuery(c, "radius")
	if err != nil || radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		writeError(c, http.StatusBadRequest, "invalid radius")
		return
	}

	var center *core.Position
	if c.Query("lat") != "" || c.Query("lng") != "" {
		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
		if latErr != nil || lngErr != nil {
			writeError(c, http.StatusBadRequest, "invalid center")
			return
		}
		center = &core.Position{Latitude: lat, Longitude: lng}
	}

	peers, err := h.tracker.SearchNearby(c.Request.Context(), center, radius)
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, nearbyResponse{Radius: radius, Count: len(peers), Subjects: peers})
}

func (h *handler) history(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil || page < 0 {
		writeError(c, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil || limit < 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	start, err := timeQuery(c, "startDate")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid startDate")
		return
	}
	end, err := timeQuery(c, "endDate")
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid endDate")
		return
	}

	res, err := h.tracker.History(c.Request.Context(), api.HistoryQuery{
		Page:      page,
		Limit:     limit,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeTrackingError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *handler) markerCollection(c *gin.Context) {
	if h.markers == nil {
		writeError(c, http.StatusNotFound, "no marker renderer")
		return
	}
	fc := h.markers.FeatureCollection()
	c.Header("Content-Type", "application/geo+json")
	writeJSON(c, http.StatusOK, fc)
}

// events streams tracking changes as server-sent events until the client
// goes away or the controller closes.
func (h *handler) events(c *gin.Context) {
	changes, cancel := h.tracker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			c.SSEvent(string(change.Kind), change)
			c.Writer.Flush()
		}
	}
}

func floatQuery(c *gin.Context, key string) (float64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func timeQuery(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
