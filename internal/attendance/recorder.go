// Package attendance owns the per-(student, trip) attendance records:
// idempotent recording, corrections, notification eligibility and the
// aggregate statistics the reporting endpoints serve.
package attendance

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/models"
)

// Recorder mediates every write to the attendance table. Writes for the
// same (student, trip) pair are serialized; distinct pairs proceed in
// parallel.
type Recorder struct {
	store Store
	locks lockTable
}

// lockTable is a fixed pool of mutexes striping (student, trip) pairs.
// Pairs sharing a stripe serialize, which is harmless; the pool never
// grows, so nothing needs eviction when trips finish.
type lockTable [64]sync.Mutex

func (lt *lockTable) lock(studentID, tripID uint) func() {
	m := &lt[(studentID*31+tripID)%uint(len(lt))]
	m.Lock()
	return m.Unlock
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordInput is one scan or manual marking.
type RecordInput struct {
	StudentID uint
	TripID    uint
	SchoolID  uint
	Status    string
	ScanTime  time.Time // zero = now
	QRCode    string
	Notes     string
}

// Record creates the attendance row for (student, trip) on first call
// and corrects it on later calls. Correction is last-write-wins by scan
// time: an input carrying an older scan time than the stored row never
// overwrites it.
func (r *Recorder) Record(in RecordInput) (*models.Attendance, error) {
	if !models.ValidAttendanceStatus(in.Status) {
		return nil, apperrors.Validation("unknown attendance status %q", in.Status)
	}
	if in.StudentID == 0 || in.TripID == 0 {
		return nil, apperrors.Validation("student_id and trip_id are required")
	}
	if in.ScanTime.IsZero() {
		in.ScanTime = time.Now().UTC()
	}

	trip, err := r.store.GetTrip(in.TripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == models.TripCancelled {
		return nil, apperrors.InvalidState("trip %d is cancelled", in.TripID)
	}
	if in.SchoolID == 0 {
		in.SchoolID = trip.SchoolID
	}

	unlock := r.locks.lock(in.StudentID, in.TripID)
	defer unlock()

	existing, err := r.store.FindPair(in.StudentID, in.TripID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		rec := models.Attendance{
			StudentID:          in.StudentID,
			TripID:             in.TripID,
			SchoolID:           in.SchoolID,
			Status:             in.Status,
			ScanTime:           in.ScanTime,
			Notes:              in.Notes,
			QRCode:             in.QRCode,
			NotificationMethod: models.NotifyNone,
		}
		if err := r.store.Create(&rec); err != nil {
			return nil, err
		}
		return &rec, nil
	}

	if !applyWins(existing.ScanTime, in.ScanTime) {
		logrus.WithFields(logrus.Fields{
			"student_id": in.StudentID,
			"trip_id":    in.TripID,
			"stored":     existing.ScanTime,
			"incoming":   in.ScanTime,
		}).Debug("Record: stale scan ignored, stored row is newer")
		return existing, nil
	}

	existing.Status = in.Status
	existing.ScanTime = in.ScanTime
	if in.Notes != "" {
		existing.Notes = in.Notes
	}
	if in.QRCode != "" {
		existing.QRCode = in.QRCode
	}
	if err := r.store.Save(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// applyWins reports whether an incoming scan at `incoming` may replace
// a stored row scanned at `stored`. Ties go to the incoming write.
func applyWins(stored, incoming time.Time) bool {
	return !incoming.Before(stored)
}

// UpdateStatus corrects the status/notes on an existing record by id.
func (r *Recorder) UpdateStatus(id uint, status, notes string) (*models.Attendance, error) {
	if !models.ValidAttendanceStatus(status) {
		return nil, apperrors.Validation("unknown attendance status %q", status)
	}
	rec, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.lock(rec.StudentID, rec.TripID)
	defer unlock()

	rec.Status = status
	if notes != "" {
		rec.Notes = notes
	}
	if err := r.store.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkAsNotified durably flags the record as notified through method.
func (r *Recorder) MarkAsNotified(id uint, method string) error {
	switch method {
	case models.NotifySMS, models.NotifyEmail, models.NotifyApp, models.NotifyNone:
	default:
		return apperrors.Validation("unknown notification method %q", method)
	}
	return r.store.MarkNotified(id, method)
}

// BulkItem is one correction inside a bulk update.
type BulkItem struct {
	ID     uint   `json:"id" binding:"required"`
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// BulkResult reports the outcome for a single item. Bulk updates are
// atomic per item, never all-or-nothing.
type BulkResult struct {
	ID    uint   `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// BulkUpdate applies each correction independently and returns one
// result per item in input order.
func (r *Recorder) BulkUpdate(items []BulkItem) []BulkResult {
	results := make([]BulkResult, 0, len(items))
	for _, item := range items {
		_, err := r.UpdateStatus(item.ID, item.Status, item.Notes)
		res := BulkResult{ID: item.ID, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			res.Kind = string(apperrors.KindOf(err))
			logrus.WithError(err).WithField("attendance_id", item.ID).Warn("BulkUpdate: item failed")
		}
		results = append(results, res)
	}
	return results
}

// FindUnnotified returns up to limit notification-eligible records:
// unnotified and either scanned at or before the cutoff, or ABSENT/LATE
// (those are eligible immediately, guardians need prompt alerts).
// limit <= 0 means no limit.
func (r *Recorder) FindUnnotified(cutoff time.Time, limit int) ([]models.Attendance, error) {
	return r.store.FindUnnotified(cutoff, limit)
}

// RecordMissingAsAbsent creates ABSENT records for every student
// assigned to the trip that was never scanned. Runs when a trip
// completes; explicit scans always win, so existing rows are untouched.
func (r *Recorder) RecordMissingAsAbsent(trip *models.Trip, at time.Time) (int, error) {
	existing, err := r.store.ForTrip(trip.ID)
	if err != nil {
		return 0, err
	}
	seen := make(map[uint]bool, len(existing))
	for _, rec := range existing {
		seen[rec.StudentID] = true
	}

	created := 0
	for _, sid := range trip.StudentIDs {
		studentID := uint(sid)
		if seen[studentID] {
			continue
		}
		_, err := r.Record(RecordInput{
			StudentID: studentID,
			TripID:    trip.ID,
			SchoolID:  trip.SchoolID,
			Status:    models.AttendanceAbsent,
			ScanTime:  at,
			Notes:     "not scanned aboard before trip completion",
		})
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"trip_id":    trip.ID,
				"student_id": studentID,
			}).Error("RecordMissingAsAbsent: failed to record absentee")
			continue
		}
		created++
	}
	return created, nil
}

// Stats is an aggregate over attendance records in a time window.
type Stats struct {
	Total      int     `json:"total"`
	Present    int     `json:"present"`
	Absent     int     `json:"absent"`
	Late       int     `json:"late"`
	Excused    int     `json:"excused"`
	Percentage float64 `json:"percentage"`
}

// Aggregate folds records into Stats. Percentage is present/total*100,
// zero when there are no records.
func Aggregate(records []models.Attendance) Stats {
	var s Stats
	for _, rec := range records {
		s.Total++
		switch rec.Status {
		case models.AttendancePresent:
			s.Present++
		case models.AttendanceAbsent:
			s.Absent++
		case models.AttendanceLate:
			s.Late++
		case models.AttendanceExcused:
			s.Excused++
		}
	}
	if s.Total > 0 {
		s.Percentage = float64(s.Present) / float64(s.Total) * 100
	}
	return s
}

// StudentStats aggregates one student's records inside [start, end].
func (r *Recorder) StudentStats(studentID uint, start, end time.Time) (Stats, error) {
	recs, err := r.store.ForStudent(studentID, start, end)
	if err != nil {
		return Stats{}, err
	}
	return Aggregate(recs), nil
}

// SchoolStats aggregates a school's records inside [start, end].
func (r *Recorder) SchoolStats(schoolID uint, start, end time.Time) (Stats, error) {
	recs, err := r.store.ForSchool(schoolID, start, end)
	if err != nil {
		return Stats{}, err
	}
	return Aggregate(recs), nil
}

// DayStats is the per-day line of a school report.
type DayStats struct {
	Date string `json:"date"`
	Stats
}

// SchoolReport breaks a school's window down per day, oldest first.
func (r *Recorder) SchoolReport(schoolID uint, start, end time.Time) ([]DayStats, error) {
	recs, err := r.store.ForSchool(schoolID, start, end)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string][]models.Attendance)
	var order []string
	for _, rec := range recs {
		day := rec.ScanTime.Format("2006-01-02")
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] = append(byDay[day], rec)
	}

	report := make([]DayStats, 0, len(order))
	for _, day := range order {
		report = append(report, DayStats{Date: day, Stats: Aggregate(byDay[day])})
	}
	return report, nil
}

// DayRange turns "2006-01-02" start/end strings into an inclusive
// [startT00:00:00, endT23:59:59] window.
func DayRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation("invalid start date %q", startStr)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.Validation("invalid end date %q", endStr)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperrors.Validation("end date %s before start date %s", endStr, startStr)
	}
	endOfDay := end.Add(24*time.Hour - time.Second)
	return start, endOfDay, nil
}

// Get fetches a single record by id.
func (r *Recorder) Get(id uint) (*models.Attendance, error) {
	return r.store.Get(id)
}
