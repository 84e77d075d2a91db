package attendance

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/models"
)

// Store is the persistence surface the recorder needs. The production
// implementation wraps GORM; tests substitute an in-memory fake.
type Store interface {
	GetTrip(id uint) (*models.Trip, error)
	Get(id uint) (*models.Attendance, error)
	// FindPair returns nil, nil when no record exists for the pair.
	FindPair(studentID, tripID uint) (*models.Attendance, error)
	Create(rec *models.Attendance) error
	Save(rec *models.Attendance) error
	MarkNotified(id uint, method string) error
	FindUnnotified(cutoff time.Time, limit int) ([]models.Attendance, error)
	ForTrip(tripID uint) ([]models.Attendance, error)
	ForStudent(studentID uint, start, end time.Time) ([]models.Attendance, error)
	ForSchool(schoolID uint, start, end time.Time) ([]models.Attendance, error)
}

// GormStore is the production Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetTrip(id uint) (*models.Trip, error) {
	var t models.Trip
	if err := s.db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("trip %d not found", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) Get(id uint) (*models.Attendance, error) {
	var rec models.Attendance
	if err := s.db.First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("attendance %d not found", id)
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) FindPair(studentID, tripID uint) (*models.Attendance, error) {
	var rec models.Attendance
	err := s.db.Where("student_id = ? AND trip_id = ?", studentID, tripID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Create(rec *models.Attendance) error {
	return s.db.Create(rec).Error
}

func (s *GormStore) Save(rec *models.Attendance) error {
	return s.db.Save(rec).Error
}

func (s *GormStore) MarkNotified(id uint, method string) error {
	res := s.db.Model(&models.Attendance{}).Where("id = ?", id).
		Updates(map[string]interface{}{"notified": true, "notification_method": method})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("attendance %d not found", id)
	}
	return nil
}

func (s *GormStore) FindUnnotified(cutoff time.Time, limit int) ([]models.Attendance, error) {
	q := s.db.Where("notified = ? AND (scan_time <= ? OR status IN ?)",
		false, cutoff, []string{models.AttendanceAbsent, models.AttendanceLate}).
		Order("scan_time asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.Attendance
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) ForTrip(tripID uint) ([]models.Attendance, error) {
	var recs []models.Attendance
	if err := s.db.Where("trip_id = ?", tripID).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) ForStudent(studentID uint, start, end time.Time) ([]models.Attendance, error) {
	var recs []models.Attendance
	err := s.db.Where("student_id = ? AND scan_time BETWEEN ? AND ?", studentID, start, end).
		Order("scan_time asc").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *GormStore) ForSchool(schoolID uint, start, end time.Time) ([]models.Attendance, error) {
	var recs []models.Attendance
	err := s.db.Where("school_id = ? AND scan_time BETWEEN ? AND ?", schoolID, start, end).
		Order("scan_time asc").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}
