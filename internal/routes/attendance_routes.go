package routes

import (
	"bustrip_tracker/internal/controllers"

	"github.com/gin-gonic/gin"
)

func AttendanceRoutes(v1 *gin.RouterGroup) {
	att := v1.Group("/attendance")
	{
		att.POST("/record", controllers.RecordAttendance)
		att.PUT("/bulk-update", controllers.BulkUpdateAttendance)
		att.PUT("/:id/status", controllers.UpdateAttendanceStatus)
		att.PUT("/:id/mark-notified", controllers.MarkAttendanceNotified)
		att.GET("/unnotified", controllers.ListUnnotifiedAttendance)
		att.GET("/school/:id/stats", controllers.SchoolAttendanceStats)
		att.GET("/school/:id/report", controllers.SchoolAttendanceReport)
		att.GET("/student/:id/stats", controllers.StudentAttendanceStats)
	}
}
