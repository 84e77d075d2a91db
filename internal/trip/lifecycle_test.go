package trip

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustrip_tracker/internal/apperrors"
	"bustrip_tracker/internal/geo"
	"bustrip_tracker/internal/models"
)

// memStore is an in-memory Store for lifecycle tests.
type memStore struct {
	mu     sync.Mutex
	nextID uint
	trips  map[uint]models.Trip
	stops  map[uint][]models.Stop
	events []models.StopEvent
}

func newMemStore() *memStore {
	return &memStore{nextID: 1, trips: make(map[uint]models.Trip), stops: make(map[uint][]models.Stop)}
}

func (m *memStore) Get(id uint) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, apperrors.NotFound("trip %d not found", id)
	}
	cp := t
	return &cp, nil
}

func (m *memStore) Create(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID
	m.nextID++
	m.trips[t.ID] = *t
	return nil
}

func (m *memStore) Save(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = *t
	return nil
}

func (m *memStore) ActiveTripForVehicle(vehicleID uint) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.VehicleID == vehicleID && t.Status == models.TripActive {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) StopsForRoute(routeID uint) ([]models.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops[routeID], nil
}

func (m *memStore) SaveStopEvent(ev *models.StopEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

type fakeAbsentees struct {
	mu    sync.Mutex
	calls []uint
}

func (f *fakeAbsentees) RecordMissingAsAbsent(t *models.Trip, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, t.ID)
	return len(t.StudentIDs), nil
}

func stopModel(id uint, seq int, lat, lng float64) models.Stop {
	s := models.Stop{Seq: seq, Lat: lat, Lng: lng, RouteID: 1}
	s.ID = id
	return s
}

func newTestService(store *memStore) (*Service, *fakeAbsentees) {
	store.stops[1] = []models.Stop{
		stopModel(10, 0, 0, 0),
		stopModel(11, 1, 0, 1),
		stopModel(12, 2, 0, 2),
	}
	abs := &fakeAbsentees{}
	svc := NewService(store, geo.NewEngine(100), abs, nil, nil)
	return svc, abs
}

func scheduleTrip(t *testing.T, svc *Service, vehicleID uint) *models.Trip {
	t.Helper()
	tr, err := svc.Create(CreateInput{RouteID: 1, VehicleID: vehicleID, DriverID: 1, SchoolID: 1})
	require.NoError(t, err)
	return tr
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.TripScheduled, models.TripActive, true},
		{models.TripScheduled, models.TripCancelled, true},
		{models.TripScheduled, models.TripCompleted, false},
		{models.TripActive, models.TripCompleted, true},
		{models.TripActive, models.TripCancelled, true},
		{models.TripActive, models.TripScheduled, false},
		{models.TripCompleted, models.TripActive, false},
		{models.TripCompleted, models.TripCancelled, false},
		{models.TripCancelled, models.TripActive, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStartHappyPath(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	started, err := svc.Start(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripActive, started.Status)
	assert.NotNil(t, started.StartedAt)
}

func TestStartVehicleBusy(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	first := scheduleTrip(t, svc, 5)
	second := scheduleTrip(t, svc, 5)

	_, err := svc.Start(first.ID)
	require.NoError(t, err)

	_, err = svc.Start(second.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindVehicleBusy, apperrors.KindOf(err))
}

func TestCancelCompletedTripIsIllegal(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	_, err := svc.Start(tr.ID)
	require.NoError(t, err)
	_, err = svc.Complete(tr.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(tr.ID, "too late")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIllegalTransition, apperrors.KindOf(err))
}

func TestOverrideStatusRespectsTable(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	_, err := svc.OverrideStatus(tr.ID, "DELAYED")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = svc.OverrideStatus(tr.ID, models.TripCompleted)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindIllegalTransition, apperrors.KindOf(err))

	forced, err := svc.OverrideStatus(tr.ID, models.TripCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, forced.Status)
}

func TestAssignmentOnlyWhileScheduled(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	_, err := svc.AssignDriver(tr.ID, 9)
	require.NoError(t, err)

	_, err = svc.Start(tr.ID)
	require.NoError(t, err)

	_, err = svc.AssignDriver(tr.ID, 10)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidState, apperrors.KindOf(err))

	_, err = svc.AssignVehicle(tr.ID, 6)
	require.Error(t, err)
	_, err = svc.AssignRoute(tr.ID, 2)
	require.Error(t, err)
}

func TestAssignStudentsIsIdempotentUnion(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	_, err := svc.AssignStudents(tr.ID, []uint{1, 2, 3})
	require.NoError(t, err)
	got, err := svc.AssignStudents(tr.ID, []uint{2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3, 4}, []int64(got.StudentIDs))
}

// reentrantAbsentees calls back into the service while recording
// absentees. Those callbacks only succeed when the inference runs
// outside the lifecycle's locks.
type reentrantAbsentees struct {
	svc   *Service
	other uint
}

func (f *reentrantAbsentees) RecordMissingAsAbsent(t *models.Trip, _ time.Time) (int, error) {
	if _, err := f.svc.Get(t.ID); err != nil {
		return 0, err
	}
	if _, err := f.svc.Cancel(f.other, "depot recall"); err != nil {
		return 0, err
	}
	return 0, nil
}

func TestCompleteAbsenteeInferenceRunsOutsideLocks(t *testing.T) {
	store := newMemStore()
	store.stops[1] = []models.Stop{stopModel(10, 0, 0, 0)}
	abs := &reentrantAbsentees{}
	svc := NewService(store, geo.NewEngine(100), abs, nil, nil)
	abs.svc = svc

	first := scheduleTrip(t, svc, 5)
	second := scheduleTrip(t, svc, 6)
	abs.other = second.ID

	_, err := svc.Start(first.ID)
	require.NoError(t, err)
	done, err := svc.Complete(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCompleted, done.Status)

	got, err := svc.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCancelled, got.Status,
		"the inference callback must be able to transition other trips")
}

func TestDistinctTripsTransitionInParallel(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)

	trips := make([]*models.Trip, 8)
	for i := range trips {
		trips[i] = scheduleTrip(t, svc, uint(i+1))
	}

	var wg sync.WaitGroup
	for _, tr := range trips {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := svc.Start(id)
			assert.NoError(t, err)
			_, err = svc.Complete(id)
			assert.NoError(t, err)
		}(tr.ID)
	}
	wg.Wait()

	for _, tr := range trips {
		got, err := svc.Get(tr.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TripCompleted, got.Status)
	}
}

func TestReportPositionRejectedWhenNotActive(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)

	_, err := svc.ReportPosition(tr.ID, 0, 0, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidState, apperrors.KindOf(err))
}

func TestReportPositionDrivesArrivalsAndAutoCompletes(t *testing.T) {
	store := newMemStore()
	svc, abs := newTestService(store)
	tr := scheduleTrip(t, svc, 5)
	_, err := svc.AssignStudents(tr.ID, []uint{100, 101})
	require.NoError(t, err)
	_, err = svc.Start(tr.ID)
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	route := []struct {
		lat, lng float64
	}{
		{0, 0}, {0, 0.5}, {0, 1}, {0, 1.5}, {0, 2}, {0, 2.2},
	}
	for i, p := range route {
		_, err := svc.ReportPosition(tr.ID, p.lat, p.lng, base.Add(time.Duration(i)*time.Minute))
		if err != nil && apperrors.KindOf(err) == apperrors.KindInvalidState {
			// Auto-completion may reject trailing reports; that is the point.
			break
		}
		require.NoError(t, err)
	}

	final, err := svc.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCompleted, final.Status)
	assert.Equal(t, []uint{tr.ID}, abs.calls, "completion must trigger absentee inference")

	var arrivals []uint
	for _, ev := range store.events {
		if ev.EventType == models.StopArrived {
			arrivals = append(arrivals, ev.StopID)
		}
	}
	assert.Equal(t, []uint{10, 11, 12}, arrivals)
}

func TestReportPositionDropsOutOfOrderReports(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	tr := scheduleTrip(t, svc, 5)
	_, err := svc.Start(tr.ID)
	require.NoError(t, err)

	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	_, err = svc.ReportPosition(tr.ID, 0, 0.5, base.Add(time.Minute))
	require.NoError(t, err)

	events, err := svc.ReportPosition(tr.ID, 0, 0, base)
	require.NoError(t, err)
	assert.Empty(t, events, "stale report must be dropped, not applied")

	got, err := svc.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.LastLng, "last position must still be the newer report")
}

func TestCancelledTripRejectsInFlightReports(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	tr := scheduleTrip(t, svc, 5)
	_, err := svc.Start(tr.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(tr.ID, "breakdown")
	require.NoError(t, err)

	_, err = svc.ReportPosition(tr.ID, 0, 0, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, &apperrors.Error{Kind: apperrors.KindInvalidState}))
}
