package routes

import (
	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
)

func SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlog.SetLogger())

	v1 := r.Group("/v1")
	TripRoutes(v1)
	AttendanceRoutes(v1)
	RouteRoutes(v1)
	RegistryRoutes(v1)

	TelemetryRoutes(r)

	return r
}
