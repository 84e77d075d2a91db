// Package routestats is the read-only projection over routes, trips and
// attendance: distance/duration estimates and simple counts. It owns no
// state and never writes.
package routestats

import (
	"errors"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"gorm.io/gorm"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/geo"
	"bustrip_tracker/internal/models"
)

const (
	DefaultAvgSpeedKmh = 25.0
	DefaultStopDwell   = 45 * time.Second
)

type Service struct {
	db *gorm.DB

	// AvgSpeedKmh and StopDwell tune duration estimates per deployment.
	AvgSpeedKmh float64
	StopDwell   time.Duration
}

func New(db *gorm.DB, avgSpeedKmh float64, stopDwell time.Duration) *Service {
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = DefaultAvgSpeedKmh
	}
	if stopDwell < 0 {
		stopDwell = DefaultStopDwell
	}
	return &Service{db: db, AvgSpeedKmh: avgSpeedKmh, StopDwell: stopDwell}
}

// StopPathDistance sums the great-circle distance between consecutive
// stops in sequence order, in meters.
func StopPathDistance(stops []models.Stop) float64 {
	var total float64
	for i := 1; i < len(stops); i++ {
		total += geo.Distance(stops[i-1].Lat, stops[i-1].Lng, stops[i].Lat, stops[i].Lng)
	}
	return total
}

// GeometryDistance measures a stored WKB LINESTRING in meters.
func GeometryDistance(wkbBytes []byte) (float64, error) {
	if len(wkbBytes) == 0 {
		return 0, nil
	}
	g, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		return 0, err
	}
	line, ok := g.(*geom.LineString)
	if !ok {
		return 0, errors.New("route geometry is not a LineString")
	}
	coords := line.Coords()
	var total float64
	for i := 1; i < len(coords); i++ {
		// Coords are (lng, lat)
		total += geo.Distance(coords[i-1].Y(), coords[i-1].X(), coords[i].Y(), coords[i].X())
	}
	return total, nil
}

// EstimateDuration converts a distance into travel time at avgSpeedKmh
// plus a fixed dwell per intermediate stop.
func EstimateDuration(distanceM, avgSpeedKmh float64, stopCount int, dwell time.Duration) time.Duration {
	if avgSpeedKmh <= 0 || distanceM <= 0 {
		return time.Duration(stopCount) * dwell
	}
	travelSec := distanceM / (avgSpeedKmh * 1000 / 3600)
	d := time.Duration(travelSec * float64(time.Second))
	if stopCount > 0 {
		d += time.Duration(stopCount) * dwell
	}
	return d
}

// RouteDistance returns the route's length in meters. The stop path is
// the baseline; when a drawn geometry is stored and measures longer
// (it follows actual streets), the geometry wins.
func (s *Service) RouteDistance(routeID uint) (float64, error) {
	route, stops, err := s.routeWithStops(routeID)
	if err != nil {
		return 0, err
	}
	dist := StopPathDistance(stops)
	if gd, err := GeometryDistance(route.Geometry); err == nil && gd > dist {
		dist = gd
	}
	return dist, nil
}

// RouteDuration estimates how long one traversal of the route takes.
func (s *Service) RouteDuration(routeID uint) (time.Duration, error) {
	route, stops, err := s.routeWithStops(routeID)
	if err != nil {
		return 0, err
	}
	dist := StopPathDistance(stops)
	if gd, err := GeometryDistance(route.Geometry); err == nil && gd > dist {
		dist = gd
	}
	return EstimateDuration(dist, s.AvgSpeedKmh, len(stops), s.StopDwell), nil
}

// CountActiveStudentsOnRoute counts distinct students assigned to the
// route's ACTIVE trips.
func (s *Service) CountActiveStudentsOnRoute(routeID uint) (int, error) {
	var trips []models.Trip
	err := s.db.Where("route_id = ? AND status = ?", routeID, models.TripActive).Find(&trips).Error
	if err != nil {
		return 0, err
	}
	distinct := make(map[int64]bool)
	for _, t := range trips {
		for _, sid := range t.StudentIDs {
			distinct[sid] = true
		}
	}
	return len(distinct), nil
}

// CountCompletedTripsOnRoute counts the route's COMPLETED trips.
func (s *Service) CountCompletedTripsOnRoute(routeID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Trip{}).
		Where("route_id = ? AND status = ?", routeID, models.TripCompleted).
		Count(&n).Error
	return n, err
}

func (s *Service) routeWithStops(routeID uint) (*models.Route, []models.Stop, error) {
	var route models.Route
	if err := s.db.First(&route, routeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.NotFound("route %d not found", routeID)
		}
		return nil, nil, err
	}
	var stops []models.Stop
	if err := s.db.Where("route_id = ?", routeID).Order("seq asc").Find(&stops).Error; err != nil {
		return nil, nil, err
	}
	return &route, stops, nil
}
