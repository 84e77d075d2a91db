package models

import (
	"gorm.io/gorm"
)

// Route is an ordered sequence of stops driven by one vehicle per trip.
// A route belongs to at most one school (SchoolID 0 = unassigned).
type Route struct {
	gorm.Model

	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	SchoolID    uint   `json:"school_id"`

	// Geometry stored as a WKB LINESTRING (SRID 4326).
	// When creating, provide GeoJSON; controllers convert both ways.
	Geometry []byte `gorm:"type:bytea"`

	// Associations
	Stops    []Stop    `gorm:"foreignKey:RouteID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"stops,omitempty"`
	Vehicles []Vehicle `gorm:"foreignKey:RouteID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"vehicles,omitempty"`
}
