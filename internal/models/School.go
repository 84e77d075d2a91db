// internal/models/school.go
package models

import (
	"gorm.io/gorm"
)

// School is the institution whose routes, students and trips this
// service tracks. A route belongs to at most one school.
type School struct {
	gorm.Model

	Name    string `json:"name" binding:"required"`
	Email   string `gorm:"unique" json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`

	Routes   []Route   `gorm:"foreignKey:SchoolID" json:"routes,omitempty"`
	Students []Student `gorm:"foreignKey:SchoolID" json:"students,omitempty"`
}
