package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/attendance"
	"bustrip_tracker/internal/metrics"
	"bustrip_tracker/internal/routestats"
	"bustrip_tracker/internal/trip"
)

// Wired engine services, set once from main before the router starts.
var (
	Trips      *trip.Service
	Attendance *attendance.Recorder
	Stats      *routestats.Service
	Metrics    *metrics.Collector
)

func Init(trips *trip.Service, recorder *attendance.Recorder, stats *routestats.Service, m *metrics.Collector) {
	Trips = trips
	Attendance = recorder
	Stats = stats
	Metrics = m
}

// fail writes the uniform error body. Taxonomy errors carry their kind;
// anything else surfaces as a 500 without internals.
func fail(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	body := gin.H{"error": err.Error()}
	if kind := apperrors.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	} else if status == http.StatusInternalServerError {
		body = gin.H{"error": "internal error"}
	}
	c.JSON(status, body)
}

// ok wraps a success payload in the uniform data envelope.
func ok(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, gin.H{"data": payload})
}
