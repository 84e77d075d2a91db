package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Trip statuses. A trip walks SCHEDULED -> ACTIVE -> COMPLETED, or is
// cancelled from any non-terminal state. The lifecycle service owns all
// transitions; nothing else writes Status.
const (
	TripScheduled = "SCHEDULED"
	TripActive    = "ACTIVE"
	TripCompleted = "COMPLETED"
	TripCancelled = "CANCELLED"
)

// Trip is one traversal of a route by a vehicle/driver.
type Trip struct {
	gorm.Model

	RouteID   uint   `json:"route_id" gorm:"index"`
	VehicleID uint   `json:"vehicle_id" gorm:"index"`
	DriverID  uint   `json:"driver_id"`
	SchoolID  uint   `json:"school_id" gorm:"index"`
	Status    string `json:"status" gorm:"default:SCHEDULED;index"`

	ScheduledDeparture time.Time  `json:"scheduled_departure"`
	ScheduledArrival   time.Time  `json:"scheduled_arrival"`
	StartedAt          *time.Time `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at"`
	CancelReason       string     `json:"cancel_reason,omitempty"`

	// Assigned students in assignment order. Assignment is a union:
	// re-assigning an id is a no-op.
	StudentIDs pq.Int64Array `json:"student_ids" gorm:"type:bigint[]"`

	// Last known position from telemetry. Reports are ephemeral; only the
	// newest one survives on the trip row.
	LastLat      float64    `json:"last_lat"`
	LastLng      float64    `json:"last_lng"`
	LastReportAt *time.Time `json:"last_report_at"`
}

// HasStudent reports whether id is already assigned to the trip.
func (t *Trip) HasStudent(id uint) bool {
	for _, s := range t.StudentIDs {
		if uint(s) == id {
			return true
		}
	}
	return false
}

// Terminal reports whether the trip can no longer change state.
func (t *Trip) Terminal() bool {
	return t.Status == TripCompleted || t.Status == TripCancelled
}
