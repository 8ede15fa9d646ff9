// Package records holds the in-memory telemetry series replayed by the simulator.
package records

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrCursorInit is returned when a stream cannot be positioned at a simulated time,
// either because it is empty or because every point lies before that time.
var ErrCursorInit = errors.New("cursor initialization failed")

// DataPoint is a single recorded sample.
type DataPoint struct {
	Timestamp time.Time
	Value     float64
	// IsNull marks a sampling gap, which is different from a zero reading.
	IsNull bool
}

// Stream is a time-ordered, immutable series of data points with a read cursor.
// The cursor only moves forward until Seek repositions it.
type Stream struct {
	name   string
	points []DataPoint

	mu     sync.Mutex
	cursor int
}

// NewStream creates a stream from points. Points are ordered ascending by timestamp;
// the slice is copied and the caller keeps ownership of the argument.
func NewStream(name string, points []DataPoint) *Stream {
	sorted := slices.Clone(points)

	slices.SortStableFunc(sorted, func(a, b DataPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return &Stream{
		name:   name,
		points: sorted,
	}
}

// Name returns the stream name.
func (s *Stream) Name() string {
	return s.name
}

// Len returns the number of points in the stream.
func (s *Stream) Len() int {
	return len(s.points)
}

// Cursor returns the index of the next point to be drained.
func (s *Stream) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor
}

// Drained reports whether every point has been consumed.
func (s *Stream) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor >= len(s.points)
}

// First returns the earliest point, if any.
func (s *Stream) First() (DataPoint, bool) {
	if len(s.points) == 0 {
		return DataPoint{}, false
	}

	return s.points[0], true
}

// Last returns the latest point, if any.
func (s *Stream) Last() (DataPoint, bool) {
	if len(s.points) == 0 {
		return DataPoint{}, false
	}

	return s.points[len(s.points)-1], true
}

// Seek positions the cursor on the first point whose timestamp is at or after t.
func (s *Stream) Seek(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.points) == 0 {
		return fmt.Errorf("%w: stream %q is empty", ErrCursorInit, s.name)
	}

	idx, _ := slices.BinarySearchFunc(s.points, t, func(p DataPoint, target time.Time) int {
		return p.Timestamp.Compare(target)
	})

	if idx >= len(s.points) {
		return fmt.Errorf("%w: stream %q has no point at or after %s", ErrCursorInit, s.name, t.UTC().Format(time.RFC3339))
	}

	s.cursor = idx

	return nil
}

// Drain returns every point from the cursor whose timestamp is at or before until,
// advancing the cursor past them. The returned slice must not be modified.
func (s *Stream) Drain(until time.Time) []DataPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cursor
	for s.cursor < len(s.points) && !s.points[s.cursor].Timestamp.After(until) {
		s.cursor++
	}

	return s.points[start:s.cursor:s.cursor]
}

// Summary describes a stream for inspection output.
type Summary struct {
	Name   string    `json:"name"`
	Points int       `json:"points"`
	Nulls  int       `json:"nulls"`
	First  time.Time `json:"first,omitzero"`
	Last   time.Time `json:"last,omitzero"`
	Cursor int       `json:"cursor"`
}

// Summary returns counts and bounds of the stream.
func (s *Stream) Summary() Summary {
	sum := Summary{
		Name:   s.name,
		Points: len(s.points),
		Cursor: s.Cursor(),
	}

	for _, p := range s.points {
		if p.IsNull {
			sum.Nulls++
		}
	}

	if first, ok := s.First(); ok {
		sum.First = first.Timestamp
	}

	if last, ok := s.Last(); ok {
		sum.Last = last.Timestamp
	}

	return sum
}

// StartTime returns the simulated start time for a set of streams: the latest
// first-timestamp among them plus offset. Empty streams are ignored.
func StartTime(offset time.Duration, streams ...*Stream) (time.Time, bool) {
	var (
		start time.Time
		found bool
	)

	for _, s := range streams {
		first, ok := s.First()
		if !ok {
			continue
		}

		if !found || first.Timestamp.After(start) {
			start = first.Timestamp
			found = true
		}
	}

	if !found {
		return time.Time{}, false
	}

	return start.Add(offset), true
}
