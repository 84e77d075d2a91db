package models

import (
	"gorm.io/gorm"
)

// Stop is a fixed boarding/alighting point along a route.
// Seq is the zero-based position in route order; per route the indices
// form a contiguous permutation of 0..n-1.
type Stop struct {
	gorm.Model

	Name string  `json:"name" binding:"required"`
	Seq  int     `json:"seq"`
	Lat  float64 `json:"lat" binding:"required"`
	Lng  float64 `json:"lng" binding:"required"`

	// Foreign key to route
	RouteID uint `json:"route_id" gorm:"index"`
}
