package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/config"
	"bustrip_tracker/internal/models"
)

// Registration endpoints for the entities trips reference. Thin CRUD
// over the shared DB handle.

// CreateSchool registers a school.
func CreateSchool(c *gin.Context) {
	var school models.School
	if err := c.ShouldBindJSON(&school); err != nil {
		fail(c, apperrors.Validation("invalid school input: %v", err))
		return
	}
	if err := config.DB.Create(&school).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, school)
}

// CreateStudent registers a student with guardian contact details.
func CreateStudent(c *gin.Context) {
	var student models.Student
	if err := c.ShouldBindJSON(&student); err != nil {
		fail(c, apperrors.Validation("invalid student input: %v", err))
		return
	}
	if student.NotifyMethod == "" {
		student.NotifyMethod = models.NotifyApp
	}
	if err := config.DB.Create(&student).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, student)
}

// ListStudents lists students, optionally filtered by school.
func ListStudents(c *gin.Context) {
	q := config.DB
	if school := c.Query("school_id"); school != "" {
		q = q.Where("school_id = ?", school)
	}
	var students []models.Student
	if err := q.Find(&students).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, students)
}

// CreateVehicle registers a vehicle; defaults InService to true.
func CreateVehicle(c *gin.Context) {
	var input struct {
		Registration string `json:"registration" binding:"required"`
		Capacity     int    `json:"capacity"`
		SchoolID     uint   `json:"school_id"`
		RouteID      uint   `json:"route_id"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperrors.Validation("invalid vehicle input: %v", err))
		return
	}

	vehicle := models.Vehicle{
		Registration: input.Registration,
		Capacity:     input.Capacity,
		SchoolID:     input.SchoolID,
		RouteID:      input.RouteID,
		InService:    true,
	}
	if err := config.DB.Create(&vehicle).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, vehicle)
}

// ListVehicles lists all vehicles.
func ListVehicles(c *gin.Context) {
	var vehicles []models.Vehicle
	if err := config.DB.Find(&vehicles).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, vehicles)
}

// CreateDriver registers a driver.
func CreateDriver(c *gin.Context) {
	var driver models.Driver
	if err := c.ShouldBindJSON(&driver); err != nil {
		fail(c, apperrors.Validation("invalid driver input: %v", err))
		return
	}
	if err := config.DB.Create(&driver).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, driver)
}

// ListDrivers lists all drivers.
func ListDrivers(c *gin.Context) {
	var drivers []models.Driver
	if err := config.DB.Find(&drivers).Error; err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, drivers)
}
