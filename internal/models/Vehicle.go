// internal/models/vehicle.go
package models

import (
	"gorm.io/gorm"
)

type Vehicle struct {
	gorm.Model
	Registration string `json:"registration" binding:"required"`
	Capacity     int    `json:"capacity"`
	SchoolID     uint   `json:"school_id" gorm:"index"`
	DriverID     uint   `json:"driver_id"`
	InService    bool   `json:"in_service" gorm:"default:true"`
	RouteID      uint   `json:"route_id"`
}
