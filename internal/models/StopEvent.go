package models

import (
	"time"

	"gorm.io/gorm"
)

// Stop event types emitted by the geofence engine.
const (
	StopArrived  = "ARRIVED"
	StopDeparted = "DEPARTED"
	StopSkipped  = "SKIPPED"
)

// StopEvent is the audit record of an arrival/departure/skip inferred
// from telemetry. At most one ARRIVED and one DEPARTED (or SKIPPED)
// exists per (trip, stop).
type StopEvent struct {
	gorm.Model

	TripID    uint      `json:"trip_id" gorm:"index"`
	StopID    uint      `json:"stop_id" gorm:"index"`
	Seq       int       `json:"seq"`
	EventType string    `json:"event_type"` // "ARRIVED", "DEPARTED", "SKIPPED"
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}
