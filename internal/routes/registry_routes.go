package routes

import (
	"bustrip_tracker/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegistryRoutes(v1 *gin.RouterGroup) {
	v1.POST("/schools", controllers.CreateSchool)
	v1.POST("/students", controllers.CreateStudent)
	v1.GET("/students", controllers.ListStudents)
	v1.POST("/vehicles", controllers.CreateVehicle)
	v1.GET("/vehicles", controllers.ListVehicles)
	v1.POST("/drivers", controllers.CreateDriver)
	v1.GET("/drivers", controllers.ListDrivers)
}
