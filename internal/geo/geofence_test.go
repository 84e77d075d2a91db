package geo

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stops one degree of longitude apart on the equator; the geofence
// radius is tiny relative to the spacing so only reports essentially on
// top of a stop count as inside.
var lineStops = []Stop{
	{ID: 1, Seq: 0, Lat: 0, Lng: 0},
	{ID: 2, Seq: 1, Lat: 0, Lng: 1},
	{ID: 3, Seq: 2, Lat: 0, Lng: 2},
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 2, 7, 0, sec, 0, time.UTC)
}

func evaluateAll(t *testing.T, e *Engine, p *Progress, positions []Position, stops []Stop) []StopEvent {
	t.Helper()
	var all []StopEvent
	for _, pos := range positions {
		events, err := e.Evaluate(p, pos, stops)
		require.NoError(t, err)
		all = append(all, events...)
	}
	return all
}

func TestEvaluateArrivalsInRouteOrder(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	positions := []Position{
		{Lat: 0, Lng: 0, At: at(0)},
		{Lat: 0, Lng: 0.5, At: at(10)},
		{Lat: 0, Lng: 1, At: at(20)},
		{Lat: 0, Lng: 1.5, At: at(30)},
		{Lat: 0, Lng: 2, At: at(40)},
	}
	events := evaluateAll(t, e, p, positions, lineStops)

	var arrivals []uint
	for _, ev := range events {
		if ev.Type == Arrived {
			arrivals = append(arrivals, ev.StopID)
		}
	}
	assert.Equal(t, []uint{1, 2, 3}, arrivals, "arrivals must fire in route order, once each")
}

func TestEvaluateJumpSkipsInterveningStop(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	positions := []Position{
		{Lat: 0, Lng: 0, At: at(0)},
		{Lat: 0, Lng: 2, At: at(60)},
	}
	events := evaluateAll(t, e, p, positions, lineStops)

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, string(ev.Type)+":"+strconv.Itoa(int(ev.StopID)))
	}
	assert.Equal(t, []string{"ARRIVED:1", "DEPARTED:1", "SKIPPED:2", "ARRIVED:3"}, kinds)
}

func TestEvaluateDuplicateReportsAreNoOps(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	first, err := e.Evaluate(p, Position{Lat: 0, Lng: 0, At: at(0)}, lineStops)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, Arrived, first[0].Type)

	// Same stop, still inside the radius: nothing new may fire.
	again, err := e.Evaluate(p, Position{Lat: 0.0001, Lng: 0, At: at(5)}, lineStops)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestEvaluateDepartureOnRadiusExit(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	_, err := e.Evaluate(p, Position{Lat: 0, Lng: 0, At: at(0)}, lineStops)
	require.NoError(t, err)

	events, err := e.Evaluate(p, Position{Lat: 0, Lng: 0.01, At: at(10)}, lineStops)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Departed, events[0].Type)
	assert.Equal(t, uint(1), events[0].StopID)
}

func TestEvaluateCorridorPassSkipsStopWithoutArrivalAtNext(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	// From before the route to between stops 2 and 3 in one hop; the
	// first two stops were passed along the segment but neither endpoint
	// is inside any radius.
	positions := []Position{
		{Lat: 0, Lng: -0.5, At: at(0)},
		{Lat: 0, Lng: 1.5, At: at(30)},
	}
	events := evaluateAll(t, e, p, positions, lineStops)

	require.Len(t, events, 2)
	assert.Equal(t, Skipped, events[0].Type)
	assert.Equal(t, uint(1), events[0].StopID)
	assert.Equal(t, Skipped, events[1].Type)
	assert.Equal(t, uint(2), events[1].StopID)
}

func TestEvaluateRejectsMalformedCoordinates(t *testing.T) {
	e := NewEngine(100)

	tests := []struct {
		name string
		pos  Position
	}{
		{"latitude out of range", Position{Lat: 91, Lng: 0, At: at(0)}},
		{"longitude out of range", Position{Lat: 0, Lng: -181, At: at(0)}},
		{"nan latitude", Position{Lat: math.NaN(), Lng: 0, At: at(0)}},
		{"zero timestamp", Position{Lat: 0, Lng: 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProgress()
			_, err := e.Evaluate(p, tc.pos, lineStops)
			assert.Error(t, err)
		})
	}
}

func TestProgressCompleted(t *testing.T) {
	e := NewEngine(100)
	p := NewProgress()

	positions := []Position{
		{Lat: 0, Lng: 0, At: at(0)},
		{Lat: 0, Lng: 1, At: at(10)},
		{Lat: 0, Lng: 2, At: at(20)},
	}
	evaluateAll(t, e, p, positions, lineStops)
	assert.False(t, p.Completed(len(lineStops)), "still inside the final stop")

	_, err := e.Evaluate(p, Position{Lat: 0, Lng: 2.1, At: at(30)}, lineStops)
	require.NoError(t, err)
	assert.True(t, p.Completed(len(lineStops)), "final departure closes the route")
}

func TestDistanceKnownValues(t *testing.T) {
	// One degree of latitude is about 111.2 km.
	d := Distance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 200)

	assert.Zero(t, Distance(36.8, -1.28, 36.8, -1.28))
}

func TestDistanceToSegmentProjection(t *testing.T) {
	tests := []struct {
		name      string
		plat, pln float64
		wantT     float64
	}{
		{"projects onto middle", 0.5, 0.1, 0.5},
		{"clamped before start", -1, 0, 0},
		{"clamped past end", 2, 0, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, gotT := DistanceToSegment(tc.plat, tc.pln, 0, 0, 1, 0)
			assert.InDelta(t, tc.wantT, gotT, 0.01)
		})
	}
}

func TestBearingCardinalDirections(t *testing.T) {
	assert.InDelta(t, 0, Bearing(0, 0, 1, 0), 0.1)    // north
	assert.InDelta(t, 90, Bearing(0, 0, 0, 1), 0.1)   // east
	assert.InDelta(t, 180, Bearing(1, 0, 0, 0), 0.1)  // south
	assert.InDelta(t, 270, Bearing(0, 1, 0, 0), 0.1)  // west
}
