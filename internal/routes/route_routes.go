package routes

import (
	"bustrip_tracker/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RouteRoutes(v1 *gin.RouterGroup) {
	routes := v1.Group("/routes")
	{
		routes.POST("/", controllers.CreateRoute)
		routes.GET("/", controllers.ListRoutes)
		routes.GET("/:id", controllers.GetRoute)
		routes.PUT("/:id", controllers.UpdateRoute)
		routes.DELETE("/:id", controllers.DeleteRoute)
		routes.PATCH("/:id/stops", controllers.ReplaceRouteStops)
		routes.GET("/:id/distance", controllers.RouteDistance)
		routes.GET("/:id/duration", controllers.RouteDuration)
		routes.GET("/:id/active-students", controllers.RouteActiveStudents)
		routes.GET("/:id/completed-trips", controllers.RouteCompletedTrips)
	}
}
