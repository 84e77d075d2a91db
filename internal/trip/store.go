package trip

import (
	"errors"

	"gorm.io/gorm"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/models"
)

// GormStore is the production Store backed by the shared GORM handle.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(id uint) (*models.Trip, error) {
	var t models.Trip
	if err := s.db.First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("trip %d not found", id)
		}
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) Create(t *models.Trip) error {
	return s.db.Create(t).Error
}

func (s *GormStore) Save(t *models.Trip) error {
	return s.db.Save(t).Error
}

func (s *GormStore) ActiveTripForVehicle(vehicleID uint) (*models.Trip, error) {
	var t models.Trip
	err := s.db.Where("vehicle_id = ? AND status = ?", vehicleID, models.TripActive).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) StopsForRoute(routeID uint) ([]models.Stop, error) {
	var stops []models.Stop
	if err := s.db.Where("route_id = ?", routeID).Order("seq asc").Find(&stops).Error; err != nil {
		return nil, err
	}
	return stops, nil
}

func (s *GormStore) SaveStopEvent(ev *models.StopEvent) error {
	return s.db.Create(ev).Error
}
