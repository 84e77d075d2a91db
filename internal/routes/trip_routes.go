package routes

import (
	"bustrip_tracker/internal/controllers"

	"github.com/gin-gonic/gin"
)

func TripRoutes(v1 *gin.RouterGroup) {
	trips := v1.Group("/trips")
	{
		trips.POST("/", controllers.CreateTrip)
		trips.GET("/:id", controllers.GetTrip)
		trips.POST("/:id/start", controllers.StartTrip)
		trips.POST("/:id/complete", controllers.CompleteTrip)
		trips.POST("/:id/cancel", controllers.CancelTrip)
		trips.PUT("/:id/status", controllers.OverrideTripStatus)
		trips.PUT("/:id/driver/:driverId", controllers.AssignTripDriver)
		trips.PUT("/:id/vehicle/:vehicleId", controllers.AssignTripVehicle)
		trips.PUT("/:id/route/:routeId", controllers.AssignTripRoute)
		trips.PUT("/:id/students", controllers.AssignTripStudents)
	}
}
