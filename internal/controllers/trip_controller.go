package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/trip"
)

func paramUint(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		fail(c, apperrors.Validation("invalid %s: %q", name, c.Param(name)))
		return 0, false
	}
	return uint(v), true
}

// CreateTrip schedules a new trip on a route.
func CreateTrip(c *gin.Context) {
	var input struct {
		RouteID            uint      `json:"route_id" binding:"required"`
		VehicleID          uint      `json:"vehicle_id"`
		DriverID           uint      `json:"driver_id"`
		SchoolID           uint      `json:"school_id"`
		ScheduledDeparture time.Time `json:"scheduled_departure"`
		ScheduledArrival   time.Time `json:"scheduled_arrival"`
		StudentIDs         []uint    `json:"student_ids"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("CreateTrip: invalid input payload")
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}

	t, err := Trips.Create(trip.CreateInput{
		RouteID:            input.RouteID,
		VehicleID:          input.VehicleID,
		DriverID:           input.DriverID,
		SchoolID:           input.SchoolID,
		ScheduledDeparture: input.ScheduledDeparture,
		ScheduledArrival:   input.ScheduledArrival,
		StudentIDs:         input.StudentIDs,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, t)
}

// GetTrip returns one trip.
func GetTrip(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	t, err := Trips.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// StartTrip moves a SCHEDULED trip to ACTIVE.
func StartTrip(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	t, err := Trips.Start(id)
	if err != nil {
		logrus.WithError(err).WithField("trip_id", id).Warn("StartTrip rejected")
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CompleteTrip moves an ACTIVE trip to COMPLETED.
func CompleteTrip(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	t, err := Trips.Complete(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CancelTrip cancels a trip with a reason.
func CancelTrip(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	var input struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("cancel requires a reason"))
		return
	}
	t, err := Trips.Cancel(id, input.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// OverrideTripStatus is the administrative status write. It accepts
// only the status enum and is validated against the transition table.
func OverrideTripStatus(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	var input struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("status is required"))
		return
	}
	t, err := Trips.OverrideStatus(id, input.Status)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"trip_id": id,
			"status":  input.Status,
		}).Warn("OverrideTripStatus rejected")
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// AssignTripDriver sets the driver while the trip is SCHEDULED.
func AssignTripDriver(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	driverID, valid := paramUint(c, "driverId")
	if !valid {
		return
	}
	t, err := Trips.AssignDriver(id, driverID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// AssignTripVehicle sets the vehicle while the trip is SCHEDULED.
func AssignTripVehicle(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	vehicleID, valid := paramUint(c, "vehicleId")
	if !valid {
		return
	}
	t, err := Trips.AssignVehicle(id, vehicleID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// AssignTripRoute sets the route while the trip is SCHEDULED.
func AssignTripRoute(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	routeID, valid := paramUint(c, "routeId")
	if !valid {
		return
	}
	t, err := Trips.AssignRoute(id, routeID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// AssignTripStudents unions student ids onto the trip.
func AssignTripStudents(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	var input struct {
		StudentIDs []uint `json:"student_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("student_ids is required"))
		return
	}
	t, err := Trips.AssignStudents(id, input.StudentIDs)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}
