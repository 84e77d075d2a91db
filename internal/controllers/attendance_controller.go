package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/attendance"
)

// RecordAttendance creates or corrects the attendance record for a
// (student, trip) pair. Re-recording is last-write-wins by scan time.
func RecordAttendance(c *gin.Context) {
	var input struct {
		StudentID uint       `json:"studentId" binding:"required"`
		TripID    uint       `json:"tripId" binding:"required"`
		SchoolID  uint       `json:"schoolId"`
		Status    string     `json:"status" binding:"required"`
		ScanTime  *time.Time `json:"scanTime"`
		QRCode    string     `json:"qrCode"`
		Notes     string     `json:"notes"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("RecordAttendance: invalid input payload")
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}

	in := attendance.RecordInput{
		StudentID: input.StudentID,
		TripID:    input.TripID,
		SchoolID:  input.SchoolID,
		Status:    input.Status,
		QRCode:    input.QRCode,
		Notes:     input.Notes,
	}
	if input.ScanTime != nil {
		in.ScanTime = *input.ScanTime
	}

	rec, err := Attendance.Record(in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// UpdateAttendanceStatus corrects status/notes on an existing record.
func UpdateAttendanceStatus(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	status := c.Query("status")
	if status == "" {
		fail(c, apperrors.Validation("status query parameter is required"))
		return
	}
	rec, err := Attendance.UpdateStatus(id, status, c.Query("notes"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// BulkUpdateAttendance applies corrections atomically per item and
// reports a per-item result set.
func BulkUpdateAttendance(c *gin.Context) {
	var input struct {
		Items []attendance.BulkItem `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}
	results := Attendance.BulkUpdate(input.Items)
	ok(c, http.StatusOK, results)
}

// MarkAttendanceNotified flags the record as notified. Primarily for
// manual notification flows; the scheduler marks automatically.
func MarkAttendanceNotified(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	method := c.Query("method")
	if method == "" {
		method = "APP"
	}
	if err := Attendance.MarkAsNotified(id, method); err != nil {
		fail(c, err)
		return
	}
	rec, err := Attendance.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

// ListUnnotifiedAttendance returns notification-eligible records as of
// the given cutoff.
func ListUnnotifiedAttendance(c *gin.Context) {
	cutoffStr := c.Query("cutoffTime")
	if cutoffStr == "" {
		fail(c, apperrors.Validation("cutoffTime query parameter is required"))
		return
	}
	cutoff, err := time.Parse(time.RFC3339, cutoffStr)
	if err != nil {
		fail(c, apperrors.Validation("invalid cutoffTime %q, want RFC3339", cutoffStr))
		return
	}
	recs, err := Attendance.FindUnnotified(cutoff, 0)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, recs)
}

func queryDayRange(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := attendance.DayRange(c.Query("start"), c.Query("end"))
	if err != nil {
		fail(c, err)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// SchoolAttendanceStats aggregates one school over an inclusive day range.
func SchoolAttendanceStats(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	start, end, valid := queryDayRange(c)
	if !valid {
		return
	}
	stats, err := Attendance.SchoolStats(id, start, end)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// SchoolAttendanceReport breaks the window down per day.
func SchoolAttendanceReport(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	start, end, valid := queryDayRange(c)
	if !valid {
		return
	}
	report, err := Attendance.SchoolReport(id, start, end)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// StudentAttendanceStats aggregates one student over a day range.
func StudentAttendanceStats(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	start, end, valid := queryDayRange(c)
	if !valid {
		return
	}
	stats, err := Attendance.StudentStats(id, start, end)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}
