package routes

import (
	"bustrip_tracker/internal/controllers"

	"github.com/gin-gonic/gin"
)

func TelemetryRoutes(r *gin.Engine) {
	r.GET("/ws/telemetry", controllers.HandleTelemetryWebSocket)
	r.POST("/v1/telemetry/position", controllers.IngestPosition)
}
