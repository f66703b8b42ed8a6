package pickplace

import (
	"math"
	"sync"
	"time"
)

// Waypoint is one row handed from the buffer to the dispatch loop.
type Waypoint struct {
	Index     int
	Positions []float64
	IsLast    bool

	// Hold is how many dispatch ticks this waypoint occupies, at least one.
	Hold int
}

// Cursor is the dispatch progress through the installed path.
type Cursor struct {
	Current int
	Total   int
}

// TrajectoryBuffer holds the latest planned path and the dispatch cursor into it.
// Install and Next each run as one critical section, so a reader never sees a
// half-installed path.
type TrajectoryBuffer struct {
	hz float64

	mu         sync.Mutex
	path       *PlannedPath
	cursor     Cursor
	hold       int
	generation uint64
}

// NewTrajectoryBuffer returns an empty buffer paced for a dispatch loop running at hz.
func NewTrajectoryBuffer(hz float64) *TrajectoryBuffer {
	if hz <= 0 {
		hz = DefaultDispatchHz
	}
	return &TrajectoryBuffer{hz: hz}
}

// HoldTicks is the number of dispatch ticks each waypoint occupies when duration is
// spread evenly over waypoints at hz. The waypoint count wins over the duration: a
// path never gets fewer than one tick per waypoint.
func HoldTicks(duration time.Duration, waypoints int, hz float64) int {
	if waypoints <= 0 {
		return 1
	}
	hold := int(math.Round(duration.Seconds() * hz / float64(waypoints)))
	if hold < 1 {
		return 1
	}
	return hold
}

// Install replaces the current path and resets the cursor.
func (b *TrajectoryBuffer) Install(path *PlannedPath) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.path = path
	b.cursor = Cursor{Total: path.Waypoints()}
	b.hold = HoldTicks(path.Duration, b.cursor.Total, b.hz)
	b.generation++
}

// Next advances the cursor and returns the corresponding waypoint, or false once the
// path is exhausted. Calling it after exhaustion has no effect.
func (b *TrajectoryBuffer) Next() (Waypoint, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == nil || b.cursor.Current >= b.cursor.Total {
		return Waypoint{}, false
	}
	i := b.cursor.Current
	b.cursor.Current++
	return Waypoint{
		Index:     i,
		Positions: b.path.Row(i),
		IsLast:    b.cursor.Current == b.cursor.Total,
		Hold:      b.hold,
	}, true
}

// Clear drops the installed path.
func (b *TrajectoryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.path = nil
	b.cursor = Cursor{}
	b.hold = 0
	b.generation++
}

// Progress returns the cursor.
func (b *TrajectoryBuffer) Progress() Cursor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// Empty reports whether there is no path or the path has no waypoints.
func (b *TrajectoryBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor.Total == 0
}

// Generation changes on every Install and Clear.
func (b *TrajectoryBuffer) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
