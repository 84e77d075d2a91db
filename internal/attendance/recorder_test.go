package attendance

import (
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/models"
)

// memStore is an in-memory Store for recorder tests.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	trips  map[uint]models.Trip
	recs   map[uint]models.Attendance
}

func newMemStore(trips ...models.Trip) *memStore {
	s := &memStore{nextID: 1, trips: make(map[uint]models.Trip), recs: make(map[uint]models.Attendance)}
	for _, t := range trips {
		s.trips[t.ID] = t
	}
	return s
}

func (s *memStore) GetTrip(id uint) (*models.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, apperrors.NotFound("trip %d not found", id)
	}
	cp := t
	return &cp, nil
}

func (s *memStore) Get(id uint) (*models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, apperrors.NotFound("attendance %d not found", id)
	}
	cp := rec
	return &cp, nil
}

func (s *memStore) FindPair(studentID, tripID uint) (*models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.StudentID == studentID && rec.TripID == tripID {
			cp := rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(rec *models.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) Save(rec *models.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) MarkNotified(id uint, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return apperrors.NotFound("attendance %d not found", id)
	}
	rec.Notified = true
	rec.NotificationMethod = method
	s.recs[id] = rec
	return nil
}

func (s *memStore) FindUnnotified(cutoff time.Time, limit int) ([]models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attendance
	for _, rec := range s.recs {
		if rec.Notified {
			continue
		}
		eligible := !rec.ScanTime.After(cutoff) ||
			rec.Status == models.AttendanceAbsent || rec.Status == models.AttendanceLate
		if !eligible {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ForTrip(tripID uint) ([]models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attendance
	for _, rec := range s.recs {
		if rec.TripID == tripID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) ForStudent(studentID uint, start, end time.Time) ([]models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attendance
	for _, rec := range s.recs {
		if rec.StudentID == studentID && !rec.ScanTime.Before(start) && !rec.ScanTime.After(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStore) ForSchool(schoolID uint, start, end time.Time) ([]models.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Attendance
	for _, rec := range s.recs {
		if rec.SchoolID == schoolID && !rec.ScanTime.Before(start) && !rec.ScanTime.After(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func tripModel(id uint, status string, studentIDs ...int64) models.Trip {
	t := models.Trip{SchoolID: 1, Status: status, StudentIDs: pq.Int64Array(studentIDs)}
	t.ID = id
	return t
}

func TestApplyWinsLastWriteByScanTime(t *testing.T) {
	t1 := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	tests := []struct {
		name     string
		stored   time.Time
		incoming time.Time
		want     bool
	}{
		{"newer scan replaces older", t1, t2, true},
		{"older scan never replaces newer", t2, t1, false},
		{"equal scan times apply (idempotent re-send)", t1, t1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, applyWins(tc.stored, tc.incoming))
		})
	}
}

func TestRecordCreatesOnceThenCorrects(t *testing.T) {
	store := newMemStore(tripModel(1, models.TripActive))
	r := NewRecorder(store)
	scan := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	first, err := r.Record(RecordInput{StudentID: 100, TripID: 1, Status: models.AttendancePresent, ScanTime: scan, QRCode: "qr-1"})
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.SchoolID, "school id defaults from the trip")
	assert.Equal(t, models.NotifyNone, first.NotificationMethod)

	second, err := r.Record(RecordInput{
		StudentID: 100, TripID: 1,
		Status:   models.AttendanceLate,
		ScanTime: scan.Add(5 * time.Minute),
		Notes:    "boarded at the second stop",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-scan corrects, never duplicates")
	assert.Len(t, store.recs, 1, "at most one record per (student, trip)")

	got, err := r.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceLate, got.Status)
	assert.Equal(t, "boarded at the second stop", got.Notes)
	assert.Equal(t, "qr-1", got.QRCode, "blank fields in a correction keep the stored value")
}

func TestRecordOlderScanNeverOverwritesNewer(t *testing.T) {
	store := newMemStore(tripModel(1, models.TripActive))
	r := NewRecorder(store)
	scan := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	newer, err := r.Record(RecordInput{StudentID: 100, TripID: 1, Status: models.AttendancePresent, ScanTime: scan})
	require.NoError(t, err)

	stale, err := r.Record(RecordInput{
		StudentID: 100, TripID: 1,
		Status:   models.AttendanceAbsent,
		ScanTime: scan.Add(-10 * time.Minute), // delayed delivery of an earlier scan
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePresent, stale.Status, "stale write returns the stored row")

	got, err := r.Get(newer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePresent, got.Status)
	assert.True(t, got.ScanTime.Equal(scan), "scan time must still be the newer one")
}

func TestRecordRejectsUnknownAndCancelledTrips(t *testing.T) {
	store := newMemStore(tripModel(2, models.TripCancelled))
	r := NewRecorder(store)

	_, err := r.Record(RecordInput{StudentID: 100, TripID: 9, Status: models.AttendancePresent})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	_, err = r.Record(RecordInput{StudentID: 100, TripID: 2, Status: models.AttendancePresent})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidState, apperrors.KindOf(err))
}

func TestRecordMissingAsAbsentSkipsScannedStudents(t *testing.T) {
	trip := tripModel(1, models.TripCompleted, 100, 101, 102)
	store := newMemStore(trip)
	r := NewRecorder(store)
	scan := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	// 100 was scanned aboard before completion.
	_, err := r.Record(RecordInput{StudentID: 100, TripID: 1, Status: models.AttendancePresent, ScanTime: scan})
	require.NoError(t, err)

	created, err := r.RecordMissingAsAbsent(&trip, scan.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	recs, err := store.ForTrip(1)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	byStudent := make(map[uint]string)
	for _, rec := range recs {
		byStudent[rec.StudentID] = rec.Status
	}
	assert.Equal(t, models.AttendancePresent, byStudent[100], "explicit scans always win")
	assert.Equal(t, models.AttendanceAbsent, byStudent[101])
	assert.Equal(t, models.AttendanceAbsent, byStudent[102])
}

func TestMarkAsNotifiedValidatesMethod(t *testing.T) {
	store := newMemStore(tripModel(1, models.TripActive))
	r := NewRecorder(store)

	rec, err := r.Record(RecordInput{StudentID: 100, TripID: 1, Status: models.AttendancePresent})
	require.NoError(t, err)

	err = r.MarkAsNotified(rec.ID, "CARRIER_PIGEON")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	require.NoError(t, r.MarkAsNotified(rec.ID, models.NotifySMS))
	got, err := r.Get(rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified)
	assert.Equal(t, models.NotifySMS, got.NotificationMethod)

	err = r.MarkAsNotified(999, models.NotifySMS)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestAggregatePercentage(t *testing.T) {
	mk := func(status string, n int) []models.Attendance {
		recs := make([]models.Attendance, n)
		for i := range recs {
			recs[i] = models.Attendance{Status: status}
		}
		return recs
	}

	var recs []models.Attendance
	recs = append(recs, mk(models.AttendancePresent, 7)...)
	recs = append(recs, mk(models.AttendanceAbsent, 2)...)
	recs = append(recs, mk(models.AttendanceLate, 1)...)

	s := Aggregate(recs)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 7, s.Present)
	assert.Equal(t, 2, s.Absent)
	assert.Equal(t, 1, s.Late)
	assert.Equal(t, 0, s.Excused)
	assert.InDelta(t, 70.0, s.Percentage, 0.001)
}

func TestAggregateEmptyWindowNoDivideByZero(t *testing.T) {
	s := Aggregate(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.Percentage)
}

func TestDayRangeNormalization(t *testing.T) {
	start, end, err := DayRange("2026-03-02", "2026-03-06")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 6, 23, 59, 59, 0, time.UTC), end)
}

func TestDayRangeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"garbage start", "yesterday", "2026-03-06"},
		{"garbage end", "2026-03-02", "soon"},
		{"end before start", "2026-03-06", "2026-03-02"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DayRange(tc.start, tc.end)
			assert.Error(t, err)
		})
	}
}

func TestValidAttendanceStatus(t *testing.T) {
	for _, s := range []string{"PRESENT", "ABSENT", "LATE", "EXCUSED"} {
		assert.True(t, models.ValidAttendanceStatus(s), s)
	}
	for _, s := range []string{"", "present", "MISSING", "HERE"} {
		assert.False(t, models.ValidAttendanceStatus(s), s)
	}
}
