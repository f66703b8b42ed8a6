package pickplace

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// PlannedPath is a planner result: a waypoint matrix with one row per waypoint and the
// total time the motion should take.
type PlannedPath struct {
	Duration time.Duration

	// positions is nil for an empty path.
	positions *mat.Dense
}

// NewPlannedPath builds a path from rows of joint positions. All rows must have the
// same, non-zero width.
func NewPlannedPath(duration time.Duration, rows [][]float64) (*PlannedPath, error) {
	if duration < 0 {
		return nil, fmt.Errorf("negative path duration %v", duration)
	}
	if len(rows) == 0 {
		return &PlannedPath{Duration: duration}, nil
	}
	width := len(rows[0])
	if width == 0 {
		return nil, fmt.Errorf("waypoint 0 is empty")
	}
	data := make([]float64, 0, len(rows)*width)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("waypoint %d has %d positions, expected %d", i, len(row), width)
		}
		data = append(data, row...)
	}
	return &PlannedPath{Duration: duration, positions: mat.NewDense(len(rows), width, data)}, nil
}

// NewPlannedPathFromMatrix wraps an existing waypoint matrix. m may be nil.
func NewPlannedPathFromMatrix(duration time.Duration, m *mat.Dense) *PlannedPath {
	return &PlannedPath{Duration: duration, positions: m}
}

// Waypoints is the number of rows.
func (p *PlannedPath) Waypoints() int {
	if p == nil || p.positions == nil {
		return 0
	}
	r, _ := p.positions.Dims()
	return r
}

// Width is the number of columns, zero for an empty path.
func (p *PlannedPath) Width() int {
	if p == nil || p.positions == nil {
		return 0
	}
	_, c := p.positions.Dims()
	return c
}

// Row returns a copy of waypoint i.
func (p *PlannedPath) Row(i int) []float64 {
	return mat.Row(nil, i, p.positions)
}

// Rows returns a copy of every waypoint.
func (p *PlannedPath) Rows() [][]float64 {
	rows := make([][]float64, p.Waypoints())
	for i := range rows {
		rows[i] = p.Row(i)
	}
	return rows
}
