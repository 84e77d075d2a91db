package models

import (
	"time"

	"gorm.io/gorm"
)

// Attendance statuses.
const (
	AttendancePresent = "PRESENT"
	AttendanceAbsent  = "ABSENT"
	AttendanceLate    = "LATE"
	AttendanceExcused = "EXCUSED"
)

// Notification delivery methods.
const (
	NotifySMS   = "SMS"
	NotifyEmail = "EMAIL"
	NotifyApp   = "APP"
	NotifyNone  = "NONE"
)

// ValidAttendanceStatus reports whether s is one of the four statuses.
func ValidAttendanceStatus(s string) bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	}
	return false
}

// Attendance is the presence record of one student on one trip. At most
// one row exists per (student, trip); re-recording corrects the existing
// row. Rows are never deleted, only superseded in place.
type Attendance struct {
	gorm.Model

	StudentID uint   `json:"student_id" gorm:"uniqueIndex:idx_attendance_student_trip"`
	TripID    uint   `json:"trip_id" gorm:"uniqueIndex:idx_attendance_student_trip;index"`
	SchoolID  uint   `json:"school_id" gorm:"index"`
	Status    string `json:"status"`

	ScanTime time.Time `json:"scan_time" gorm:"index"`
	Notes    string    `json:"notes"`
	QRCode   string    `json:"qr_code,omitempty"`

	Notified           bool   `json:"notified" gorm:"default:false;index"`
	NotificationMethod string `json:"notification_method" gorm:"default:NONE"`
}
