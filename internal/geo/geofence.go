// Package geo infers stop arrival/departure events from raw position
// reports. Everything here is pure computation over its inputs: no
// storage, no network, so the engine is deterministic under test.
package geo

import (
	"math"
	"sort"
	"time"

	"bustrip_tracker/internal/apperrors"
)

const earthRadiusM = 6371000.0

// DefaultRadiusM is the stop geofence radius used when none is configured.
const DefaultRadiusM = 100.0

type Position struct {
	Lat float64
	Lng float64
	At  time.Time
}

// Stop is the engine's view of a route stop. Seq is the zero-based
// route order index.
type Stop struct {
	ID  uint
	Seq int
	Lat float64
	Lng float64
}

type EventType string

const (
	Arrived  EventType = "ARRIVED"
	Departed EventType = "DEPARTED"
	Skipped  EventType = "SKIPPED"
)

type StopEvent struct {
	StopID uint
	Seq    int
	Type   EventType
	At     time.Time
}

// Progress tracks how far along its route a single trip has gotten.
// One Progress per active trip; the caller serializes access.
type Progress struct {
	arrived map[int]bool
	closed  map[int]bool // departed or skipped
	next    int          // lowest seq not yet arrived or skipped
	current int          // seq arrived but not yet departed, -1 when none
	last    *Position
}

func NewProgress() *Progress {
	return &Progress{
		arrived: make(map[int]bool),
		closed:  make(map[int]bool),
		current: -1,
	}
}

// LastPosition returns the newest position the engine has seen for this
// trip, or nil before the first report.
func (p *Progress) LastPosition() *Position {
	return p.last
}

// Completed reports whether every one of n stops has been departed or
// skipped, i.e. the route has been fully traversed.
func (p *Progress) Completed(n int) bool {
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if !p.closed[i] {
			return false
		}
	}
	return true
}

type Engine struct {
	// RadiusM is the geofence radius in meters around each stop.
	RadiusM float64
}

func NewEngine(radiusM float64) *Engine {
	if radiusM <= 0 {
		radiusM = DefaultRadiusM
	}
	return &Engine{RadiusM: radiusM}
}

// Evaluate folds one position report into the trip's progress and
// returns the stop events it implies. Stops are evaluated in route
// order: a later stop never arrives before every earlier stop has been
// arrived at or skipped. At most one arrival and one departure fire per
// stop per trip; repeated reports inside an arrived stop's radius are
// no-ops.
func (e *Engine) Evaluate(p *Progress, pos Position, stops []Stop) ([]StopEvent, error) {
	if err := validatePosition(pos); err != nil {
		return nil, err
	}
	ordered := make([]Stop, len(stops))
	copy(ordered, stops)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	prev := p.last
	p.last = &pos

	var events []StopEvent

	// Exit of the currently-arrived stop's radius is a departure.
	if p.current >= 0 && p.current < len(ordered) {
		cur := ordered[p.current]
		if Distance(pos.Lat, pos.Lng, cur.Lat, cur.Lng) > e.RadiusM {
			events = append(events, StopEvent{StopID: cur.ID, Seq: cur.Seq, Type: Departed, At: pos.At})
			p.closed[p.current] = true
			p.current = -1
		}
	}

	// Next arrival: the first not-yet-reached stop whose radius contains
	// the report.
	target := -1
	for i := p.next; i < len(ordered); i++ {
		if Distance(pos.Lat, pos.Lng, ordered[i].Lat, ordered[i].Lng) <= e.RadiusM {
			target = i
			break
		}
	}

	if target >= 0 {
		// Arrival at a later stop forces the previous stop out even when
		// the radii overlap and no exit was observed.
		if p.current >= 0 && p.current < target {
			cur := ordered[p.current]
			events = append(events, StopEvent{StopID: cur.ID, Seq: cur.Seq, Type: Departed, At: pos.At})
			p.closed[p.current] = true
			p.current = -1
		}
		// Intervening stops were jumped past without ever entering their
		// radius: skip them so the order invariant holds.
		for i := p.next; i < target; i++ {
			if !p.arrived[i] && !p.closed[i] {
				s := ordered[i]
				events = append(events, StopEvent{StopID: s.ID, Seq: s.Seq, Type: Skipped, At: pos.At})
				p.closed[i] = true
			}
		}
		if !p.arrived[target] {
			s := ordered[target]
			events = append(events, StopEvent{StopID: s.ID, Seq: s.Seq, Type: Arrived, At: pos.At})
			p.arrived[target] = true
			p.current = target
		}
		p.next = target + 1
		return events, nil
	}

	// No arrival this report. A sparse reporter can still pass a stop
	// between two samples; detect that by proximity of the stop to the
	// travelled segment rather than to either endpoint.
	if prev != nil {
		for i := p.next; i < len(ordered); i++ {
			s := ordered[i]
			if !segmentPassesBy(prev, &pos, s, e.RadiusM) {
				break
			}
			events = append(events, StopEvent{StopID: s.ID, Seq: s.Seq, Type: Skipped, At: pos.At})
			p.closed[i] = true
			p.next = i + 1
		}
	}

	return events, nil
}

// segmentPassesBy reports whether the path prev->cur came within radius
// of the stop while both endpoints stayed outside it, i.e. the vehicle
// drove past without dwelling.
func segmentPassesBy(prev, cur *Position, s Stop, radius float64) bool {
	if Distance(prev.Lat, prev.Lng, s.Lat, s.Lng) <= radius {
		return false
	}
	if Distance(cur.Lat, cur.Lng, s.Lat, s.Lng) <= radius {
		return false
	}
	d, t := DistanceToSegment(s.Lat, s.Lng, prev.Lat, prev.Lng, cur.Lat, cur.Lng)
	return d <= radius && t > 0 && t < 1
}

func validatePosition(pos Position) error {
	if math.IsNaN(pos.Lat) || math.IsNaN(pos.Lng) ||
		math.IsInf(pos.Lat, 0) || math.IsInf(pos.Lng, 0) {
		return apperrors.Validation("position has non-finite coordinates")
	}
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
		return apperrors.Validation("position out of range: lat=%f lng=%f", pos.Lat, pos.Lng)
	}
	if pos.At.IsZero() {
		return apperrors.Validation("position has no timestamp")
	}
	return nil
}

// Distance returns the great-circle (haversine) distance in meters
// between two coordinates.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DistanceToSegment returns the distance in meters from point (plat,
// plng) to the segment (alat,alng)-(blat,blng), plus the clamped
// projection ratio t in [0,1] along the segment. Uses an
// equirectangular projection around the segment, accurate at the
// scales geofencing cares about.
func DistanceToSegment(plat, plng, alat, alng, blat, blng float64) (float64, float64) {
	cosLat := math.Cos(((alat + blat) / 2) * math.Pi / 180)

	px := (plng - alng) * cosLat
	py := plat - alat
	bx := (blng - alng) * cosLat
	by := blat - alat

	segLen2 := bx*bx + by*by
	var t float64
	if segLen2 > 0 {
		t = (px*bx + py*by) / segLen2
		t = math.Max(0, math.Min(1, t))
	}

	nearLat := alat + t*(blat-alat)
	nearLng := alng + t*(blng-alng)
	return Distance(plat, plng, nearLat, nearLng), t
}

// Bearing returns the initial bearing in degrees from the first
// coordinate to the second, normalized to [0,360).
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
