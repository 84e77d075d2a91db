// Package trip owns the trip state machine. All status writes go
// through Service; every other component reads trip state and never
// mutates it.
package trip

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/geo"
	"bustrip_tracker/internal/models"
)

// transitions is the legal-transition table. Missing entries are
// illegal; COMPLETED and CANCELLED are terminal.
var transitions = map[string][]string{
	models.TripScheduled: {models.TripActive, models.TripCancelled},
	models.TripActive:    {models.TripCompleted, models.TripCancelled},
	models.TripCompleted: {},
	models.TripCancelled: {},
}

// ValidStatus reports whether s names a trip status at all.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Store is the persistence surface the lifecycle needs. The production
// implementation wraps GORM; tests substitute an in-memory fake.
type Store interface {
	Get(id uint) (*models.Trip, error)
	Create(t *models.Trip) error
	Save(t *models.Trip) error
	ActiveTripForVehicle(vehicleID uint) (*models.Trip, error)
	StopsForRoute(routeID uint) ([]models.Stop, error)
	SaveStopEvent(ev *models.StopEvent) error
}

// AbsenteeRecorder marks never-scanned assigned students ABSENT when a
// trip completes. Implemented by attendance.Recorder.
type AbsenteeRecorder interface {
	RecordMissingAsAbsent(t *models.Trip, at time.Time) (int, error)
}

// EventPublisher fans stop events out to interested listeners
// (monitoring dashboards, downstream consumers). Best-effort; publish
// failures never affect trip state.
type EventPublisher interface {
	PublishStopEvent(tripID uint, ev geo.StopEvent)
}

// Metrics is the subset of the metrics collector the lifecycle feeds.
type Metrics interface {
	TripStarted()
	TripCompleted()
	TripCancelled()
	StopEventObserved(kind string)
	SetActiveTrips(n int)
}

// Service drives trips through SCHEDULED -> ACTIVE -> COMPLETED /
// CANCELLED. Transitions and reports for one trip serialize behind a
// per-trip lock, the vehicle-busy check behind a per-vehicle lock;
// distinct trips proceed fully in parallel. Event publishing and
// absentee inference happen outside every critical section.
type Service struct {
	store     Store
	engine    *geo.Engine
	absentees AbsenteeRecorder
	publisher EventPublisher
	metrics   Metrics

	// mu guards active only; it is never held across store calls.
	mu     sync.Mutex
	active map[uint]*activeTrip

	tripLocks    lockTable
	vehicleLocks lockTable
}

// lockTable is a fixed pool of mutexes keyed by id. Ids sharing a
// stripe serialize, which is harmless; the pool never grows.
type lockTable [64]sync.Mutex

func (lt *lockTable) lock(id uint) func() {
	m := &lt[id%uint(len(lt))]
	m.Lock()
	return m.Unlock
}

// activeTrip is the in-memory companion of one ACTIVE trip row.
type activeTrip struct {
	mu       sync.Mutex
	progress *geo.Progress
	stops    []geo.Stop
}

func NewService(store Store, engine *geo.Engine, absentees AbsenteeRecorder, publisher EventPublisher, metrics Metrics) *Service {
	return &Service{
		store:     store,
		engine:    engine,
		absentees: absentees,
		publisher: publisher,
		metrics:   metrics,
		active:    make(map[uint]*activeTrip),
	}
}

// CreateInput schedules a new trip.
type CreateInput struct {
	RouteID            uint
	VehicleID          uint
	DriverID           uint
	SchoolID           uint
	ScheduledDeparture time.Time
	ScheduledArrival   time.Time
	StudentIDs         []uint
}

func (s *Service) Create(in CreateInput) (*models.Trip, error) {
	if in.RouteID == 0 {
		return nil, apperrors.Validation("route_id is required")
	}
	t := &models.Trip{
		RouteID:            in.RouteID,
		VehicleID:          in.VehicleID,
		DriverID:           in.DriverID,
		SchoolID:           in.SchoolID,
		Status:             models.TripScheduled,
		ScheduledDeparture: in.ScheduledDeparture,
		ScheduledArrival:   in.ScheduledArrival,
	}
	for _, id := range in.StudentIDs {
		if !t.HasStudent(id) {
			t.StudentIDs = append(t.StudentIDs, int64(id))
		}
	}
	if err := s.store.Create(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(id uint) (*models.Trip, error) {
	return s.store.Get(id)
}

// Start moves a SCHEDULED trip to ACTIVE. Exactly one ACTIVE trip may
// exist per vehicle; the busy check and the activating write happen
// under the vehicle lock so two concurrent starts cannot both pass it.
func (s *Service) Start(id uint) (*models.Trip, error) {
	unlockTrip := s.tripLocks.lock(id)
	defer unlockTrip()

	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, models.TripActive) {
		return nil, apperrors.IllegalTransition("trip %d cannot start from %s", id, t.Status)
	}
	if t.VehicleID == 0 {
		return nil, apperrors.Validation("trip %d has no vehicle assigned", id)
	}

	stops, err := s.store.StopsForRoute(t.RouteID)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, apperrors.Validation("route %d has no stops", t.RouteID)
	}

	unlockVehicle := s.vehicleLocks.lock(t.VehicleID)
	defer unlockVehicle()

	if busy, err := s.store.ActiveTripForVehicle(t.VehicleID); err != nil {
		return nil, err
	} else if busy != nil && busy.ID != t.ID {
		return nil, apperrors.VehicleBusy("vehicle %d is already running trip %d", t.VehicleID, busy.ID)
	}

	now := time.Now().UTC()
	t.Status = models.TripActive
	t.StartedAt = &now
	if err := s.store.Save(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.active[t.ID] = &activeTrip{
		progress: geo.NewProgress(),
		stops:    geoStops(stops),
	}
	activeCount := len(s.active)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TripStarted()
		s.metrics.SetActiveTrips(activeCount)
	}
	logrus.WithFields(logrus.Fields{
		"trip_id":    t.ID,
		"vehicle_id": t.VehicleID,
		"route_id":   t.RouteID,
	}).Info("Trip started")
	return t, nil
}

// Complete moves an ACTIVE trip to COMPLETED and records never-scanned
// assigned students as ABSENT. The absentee inference writes one row
// per unscanned student, so it runs after every lock is released and
// never stalls other trips.
func (s *Service) Complete(id uint) (*models.Trip, error) {
	t, err := s.finish(id)
	if err != nil {
		return nil, err
	}

	if s.absentees != nil {
		n, err := s.absentees.RecordMissingAsAbsent(t, *t.EndedAt)
		if err != nil {
			logrus.WithError(err).WithField("trip_id", t.ID).Error("Complete: absentee inference failed")
		} else if n > 0 {
			logrus.WithFields(logrus.Fields{"trip_id": t.ID, "absentees": n}).Info("Complete: unscanned students recorded absent")
		}
	}
	logrus.WithField("trip_id", t.ID).Info("Trip completed")
	return t, nil
}

// finish performs the COMPLETED transition under the trip lock.
func (s *Service) finish(id uint) (*models.Trip, error) {
	unlock := s.tripLocks.lock(id)
	defer unlock()

	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, models.TripCompleted) {
		return nil, apperrors.IllegalTransition("trip %d cannot complete from %s", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = models.TripCompleted
	t.EndedAt = &now
	if err := s.store.Save(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.active, t.ID)
	activeCount := len(s.active)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TripCompleted()
		s.metrics.SetActiveTrips(activeCount)
	}
	return t, nil
}

// Cancel is terminal and legal from any state except COMPLETED (and a
// trip cannot be cancelled twice). In-flight geofence evaluation for
// the trip observes the cancellation on its next report.
func (s *Service) Cancel(id uint, reason string) (*models.Trip, error) {
	unlock := s.tripLocks.lock(id)
	defer unlock()

	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, models.TripCancelled) {
		return nil, apperrors.IllegalTransition("trip %d cannot be cancelled from %s", id, t.Status)
	}

	now := time.Now().UTC()
	t.Status = models.TripCancelled
	t.EndedAt = &now
	t.CancelReason = reason
	if err := s.store.Save(t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.active, t.ID)
	activeCount := len(s.active)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TripCancelled()
		s.metrics.SetActiveTrips(activeCount)
	}
	logrus.WithFields(logrus.Fields{"trip_id": t.ID, "reason": reason}).Info("Trip cancelled")
	return t, nil
}

// OverrideStatus is the administrative status write. It accepts only
// known statuses and still honors the transition table; there is no
// free-form setter.
func (s *Service) OverrideStatus(id uint, status string) (*models.Trip, error) {
	if !ValidStatus(status) {
		return nil, apperrors.Validation("unknown trip status %q", status)
	}
	switch status {
	case models.TripActive:
		return s.Start(id)
	case models.TripCompleted:
		return s.Complete(id)
	case models.TripCancelled:
		return s.Cancel(id, "administrative override")
	default:
		t, err := s.store.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.IllegalTransition("trip %d cannot move from %s to %s", id, t.Status, status)
	}
}

// AssignDriver sets the driver; allowed only while SCHEDULED.
func (s *Service) AssignDriver(id, driverID uint) (*models.Trip, error) {
	return s.assign(id, func(t *models.Trip) { t.DriverID = driverID })
}

// AssignVehicle sets the vehicle; allowed only while SCHEDULED.
func (s *Service) AssignVehicle(id, vehicleID uint) (*models.Trip, error) {
	return s.assign(id, func(t *models.Trip) { t.VehicleID = vehicleID })
}

// AssignRoute sets the route; allowed only while SCHEDULED.
func (s *Service) AssignRoute(id, routeID uint) (*models.Trip, error) {
	return s.assign(id, func(t *models.Trip) { t.RouteID = routeID })
}

func (s *Service) assign(id uint, apply func(*models.Trip)) (*models.Trip, error) {
	unlock := s.tripLocks.lock(id)
	defer unlock()

	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TripScheduled {
		return nil, apperrors.InvalidState("trip %d already started, reassignment is not allowed", id)
	}
	apply(t)
	if err := s.store.Save(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AssignStudents unions ids into the trip's student set, preserving
// assignment order. Re-assigning an id is a no-op.
func (s *Service) AssignStudents(id uint, studentIDs []uint) (*models.Trip, error) {
	unlock := s.tripLocks.lock(id)
	defer unlock()

	t, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return nil, apperrors.InvalidState("trip %d is %s, students cannot be assigned", id, t.Status)
	}
	changed := false
	for _, sid := range studentIDs {
		if sid == 0 || t.HasStudent(sid) {
			continue
		}
		t.StudentIDs = append(t.StudentIDs, int64(sid))
		changed = true
	}
	if changed {
		if err := s.store.Save(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReportPosition folds one telemetry sample into the trip. Only ACTIVE
// trips accept reports; anything else is an InvalidState error for the
// caller to log. Reports older than the trip's last one are dropped.
// Returned events have already been persisted; publishing to listeners
// happens here, after the per-trip lock is released.
func (s *Service) ReportPosition(tripID uint, lat, lng float64, at time.Time) ([]geo.StopEvent, error) {
	s.mu.Lock()
	state, ok := s.active[tripID]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.InvalidState("trip %d is not active, position report rejected", tripID)
	}

	state.mu.Lock()
	events, err := s.applyReport(state, tripID, lat, lng, at)
	state.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		if s.publisher != nil {
			s.publisher.PublishStopEvent(tripID, ev)
		}
		if s.metrics != nil {
			s.metrics.StopEventObserved(string(ev.Type))
		}
	}

	// Departure (or skip) of the final stop ends the route traversal.
	// A racing manual Complete shows up as an illegal transition here,
	// which just means someone else finished the trip first.
	if state.progress.Completed(len(state.stops)) {
		if _, err := s.Complete(tripID); err != nil && apperrors.KindOf(err) != apperrors.KindIllegalTransition {
			logrus.WithError(err).WithField("trip_id", tripID).Error("ReportPosition: auto-complete failed")
		}
	}
	return events, nil
}

func (s *Service) applyReport(state *activeTrip, tripID uint, lat, lng float64, at time.Time) ([]geo.StopEvent, error) {
	t, err := s.store.Get(tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TripActive {
		return nil, apperrors.InvalidState("trip %d is %s, position report rejected", tripID, t.Status)
	}
	if last := state.progress.LastPosition(); last != nil && at.Before(last.At) {
		logrus.WithFields(logrus.Fields{
			"trip_id":  tripID,
			"got":      at,
			"last":     last.At,
		}).Warn("ReportPosition: out-of-order report dropped")
		return nil, nil
	}

	events, err := s.engine.Evaluate(state.progress, geo.Position{Lat: lat, Lng: lng, At: at}, state.stops)
	if err != nil {
		return nil, err
	}

	t.LastLat = lat
	t.LastLng = lng
	reportAt := at
	t.LastReportAt = &reportAt
	if err := s.store.Save(t); err != nil {
		return nil, err
	}

	for _, ev := range events {
		rec := &models.StopEvent{
			TripID:    tripID,
			StopID:    ev.StopID,
			Seq:       ev.Seq,
			EventType: string(ev.Type),
			Latitude:  lat,
			Longitude: lng,
			Timestamp: ev.At,
		}
		if err := s.store.SaveStopEvent(rec); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"trip_id": tripID,
				"stop_id": ev.StopID,
			}).Error("ReportPosition: failed to persist stop event")
		}
	}
	return events, nil
}

func geoStops(stops []models.Stop) []geo.Stop {
	out := make([]geo.Stop, 0, len(stops))
	for _, s := range stops {
		out = append(out, geo.Stop{ID: s.ID, Seq: s.Seq, Lat: s.Lat, Lng: s.Lng})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
