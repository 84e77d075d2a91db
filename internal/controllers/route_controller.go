package controllers

import (
	"encoding/binary"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/config"
	"bustrip_tracker/internal/models"

	"github.com/twpayne/go-geom"
	gjson "github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// RouteResponse mirrors models.Route but carries Geometry as a GeoJSON
// string for API output.
type RouteResponse struct {
	ID          uint             `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	SchoolID    uint             `json:"school_id"`
	Geometry    string           `json:"geometry,omitempty"`
	Stops       []models.Stop    `json:"stops"`
	Vehicles    []models.Vehicle `json:"vehicles,omitempty"`
}

func toRouteResponse(route models.Route) RouteResponse {
	jsonGeom, _ := convertWKBToGeoJSON(route.Geometry)
	return RouteResponse{
		ID:          route.ID,
		CreatedAt:   route.CreatedAt,
		UpdatedAt:   route.UpdatedAt,
		Name:        route.Name,
		Description: route.Description,
		SchoolID:    route.SchoolID,
		Geometry:    jsonGeom,
		Stops:       route.Stops,
		Vehicles:    route.Vehicles,
	}
}

// parseAndConvertGeometry parses a GeoJSON string into a geom.T and returns WKB bytes
func parseAndConvertGeometry(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	var g geom.T
	err := gjson.Unmarshal([]byte(raw), &g)
	if err != nil {
		return nil, err
	}
	return wkb.Marshal(g, binary.LittleEndian)
}

// convertWKBToGeoJSON converts WKB bytes into a GeoJSON string
func convertWKBToGeoJSON(wkbBytes []byte) (string, error) {
	if len(wkbBytes) == 0 {
		return "", nil
	}
	g, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		return "", err
	}
	b, err := gjson.Marshal(g)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type stopInput struct {
	Name string  `json:"name" binding:"required"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Seq  int     `json:"seq"`
}

// normalizeStops orders stops by their given seq (ties keep input
// order) and rewrites indices into a contiguous 0..n-1 permutation.
func normalizeStops(inputs []stopInput) []models.Stop {
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Seq < inputs[j].Seq })
	stops := make([]models.Stop, 0, len(inputs))
	for i, s := range inputs {
		stops = append(stops, models.Stop{Name: s.Name, Seq: i, Lat: s.Lat, Lng: s.Lng})
	}
	return stops
}

// CreateRoute creates a route with an optional GeoJSON LineString and
// its ordered stops.
func CreateRoute(c *gin.Context) {
	var input struct {
		Name        string      `json:"name" binding:"required"`
		Description string      `json:"description"`
		SchoolID    uint        `json:"school_id"`
		Geometry    string      `json:"geometry"`
		Stops       []stopInput `json:"stops"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("CreateRoute: invalid input payload")
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}

	wkbGeom, err := parseAndConvertGeometry(input.Geometry)
	if err != nil {
		fail(c, apperrors.Validation("invalid geometry: %v", err))
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		fail(c, tx.Error)
		return
	}

	route := models.Route{Name: input.Name, Description: input.Description, SchoolID: input.SchoolID, Geometry: wkbGeom}
	if err := tx.Create(&route).Error; err != nil {
		tx.Rollback()
		fail(c, err)
		return
	}

	for _, s := range normalizeStops(input.Stops) {
		s.RouteID = route.ID
		if err := tx.Create(&s).Error; err != nil {
			tx.Rollback()
			fail(c, err)
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		fail(c, err)
		return
	}

	config.DB.Preload("Stops").Preload("Vehicles").First(&route, route.ID)
	ok(c, http.StatusCreated, toRouteResponse(route))
}

// ReplaceRouteStops replaces the stop list of an existing route. The
// new list is resequenced to a contiguous 0..n-1 permutation.
func ReplaceRouteStops(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}

	var route models.Route
	if err := config.DB.First(&route, id).Error; err != nil {
		fail(c, apperrors.NotFound("route %d not found", id))
		return
	}

	var input struct {
		Stops []stopInput `json:"stops" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		fail(c, tx.Error)
		return
	}
	if err := tx.Where("route_id = ?", route.ID).Delete(&models.Stop{}).Error; err != nil {
		tx.Rollback()
		fail(c, err)
		return
	}
	for _, s := range normalizeStops(input.Stops) {
		s.RouteID = route.ID
		if err := tx.Create(&s).Error; err != nil {
			tx.Rollback()
			fail(c, err)
			return
		}
	}
	if err := tx.Commit().Error; err != nil {
		fail(c, err)
		return
	}

	config.DB.Preload("Stops").Preload("Vehicles").First(&route, route.ID)
	ok(c, http.StatusOK, toRouteResponse(route))
}

// ListRoutes returns all routes with stops, optionally filtered by school.
func ListRoutes(c *gin.Context) {
	q := config.DB.Preload("Stops").Preload("Vehicles")
	if school := c.Query("school_id"); school != "" {
		q = q.Where("school_id = ?", school)
	}
	var routes []models.Route
	if err := q.Find(&routes).Error; err != nil {
		fail(c, err)
		return
	}

	responses := make([]RouteResponse, 0, len(routes))
	for _, r := range routes {
		responses = append(responses, toRouteResponse(r))
	}
	ok(c, http.StatusOK, responses)
}

// GetRoute returns a single route with stops and vehicles.
func GetRoute(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	var route models.Route
	if err := config.DB.Preload("Stops").Preload("Vehicles").First(&route, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperrors.NotFound("route %d not found", id))
		} else {
			logrus.WithError(err).Error("GetRoute: database error fetching route")
			fail(c, err)
		}
		return
	}
	ok(c, http.StatusOK, toRouteResponse(route))
}

// UpdateRoute updates route metadata and geometry.
func UpdateRoute(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}

	var route models.Route
	if err := config.DB.First(&route, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperrors.NotFound("route %d not found", id))
		} else {
			fail(c, err)
		}
		return
	}

	var input struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Geometry    *string `json:"geometry"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		logrus.WithError(err).Warn("UpdateRoute: invalid input payload")
		fail(c, apperrors.Validation("invalid input: %v", err))
		return
	}

	if input.Name != nil {
		route.Name = *input.Name
	}
	if input.Description != nil {
		route.Description = *input.Description
	}
	if input.Geometry != nil {
		if *input.Geometry == "" {
			route.Geometry = nil
		} else {
			wkbGeom, err := parseAndConvertGeometry(*input.Geometry)
			if err != nil {
				fail(c, apperrors.Validation("invalid geometry: %v", err))
				return
			}
			route.Geometry = wkbGeom
		}
	}

	if err := config.DB.Save(&route).Error; err != nil {
		logrus.WithError(err).Error("UpdateRoute: failed to save updated route")
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toRouteResponse(route))
}

// DeleteRoute removes a route and its stops.
func DeleteRoute(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}

	var route models.Route
	if err := config.DB.First(&route, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, apperrors.NotFound("route %d not found", id))
		} else {
			fail(c, err)
		}
		return
	}

	tx := config.DB.Begin()
	if tx.Error != nil {
		fail(c, tx.Error)
		return
	}
	if err := tx.Where("route_id = ?", route.ID).Delete(&models.Stop{}).Error; err != nil {
		tx.Rollback()
		fail(c, err)
		return
	}
	if err := tx.Delete(&route).Error; err != nil {
		tx.Rollback()
		fail(c, err)
		return
	}
	if err := tx.Commit().Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"message": "route deleted"})
}

// RouteDistance returns the route length in meters.
func RouteDistance(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	dist, err := Stats.RouteDistance(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"route_id": id, "distance_m": dist})
}

// RouteDuration returns an estimated traversal time in seconds.
func RouteDuration(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	d, err := Stats.RouteDuration(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"route_id": id, "duration_sec": int64(d.Seconds())})
}

// RouteActiveStudents counts distinct students on the route's active trips.
func RouteActiveStudents(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	n, err := Stats.CountActiveStudentsOnRoute(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"route_id": id, "active_students": n})
}

// RouteCompletedTrips counts the route's completed trips.
func RouteCompletedTrips(c *gin.Context) {
	id, valid := paramUint(c, "id")
	if !valid {
		return
	}
	n, err := Stats.CountCompletedTripsOnRoute(id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"route_id": id, "completed_trips": n})
}
