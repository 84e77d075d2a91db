// internal/models/student.go
package models

import (
	"gorm.io/gorm"
)

type Student struct {
	gorm.Model

	Name     string `json:"name" binding:"required"`
	Grade    string `json:"grade"`
	SchoolID uint   `json:"school_id" gorm:"index"`

	// Guardian contact used by the notification pipeline.
	GuardianName  string `json:"guardian_name"`
	GuardianPhone string `json:"guardian_phone"`
	GuardianEmail string `json:"guardian_email"`

	// Preferred delivery channel: "SMS", "EMAIL", "APP" or "NONE".
	NotifyMethod string `json:"notify_method" gorm:"default:APP"`
}
