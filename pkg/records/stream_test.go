package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hours int) time.Time {
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(hours) * time.Hour)
}

func hourlyStream(hours ...int) *Stream {
	points := make([]DataPoint, 0, len(hours))
	for _, h := range hours {
		points = append(points, DataPoint{Timestamp: at(h), Value: float64(h)})
	}

	return NewStream("test", points)
}

func TestNewStreamSortsPoints(t *testing.T) {
	s := NewStream("test", []DataPoint{
		{Timestamp: at(3), Value: 3},
		{Timestamp: at(1), Value: 1},
		{Timestamp: at(2), Value: 2},
	})

	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, at(1), first.Timestamp)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, at(3), last.Timestamp)
}

func TestSeek(t *testing.T) {
	tests := []struct {
		name       string
		stream     *Stream
		seek       time.Time
		wantCursor int
		wantErr    bool
	}{
		{
			name:    "empty stream",
			stream:  hourlyStream(),
			seek:    at(0),
			wantErr: true,
		},
		{
			name:       "before first point",
			stream:     hourlyStream(1, 2, 3),
			seek:       at(0),
			wantCursor: 0,
		},
		{
			name:       "exact match",
			stream:     hourlyStream(1, 2, 3),
			seek:       at(2),
			wantCursor: 1,
		},
		{
			name:       "between points",
			stream:     hourlyStream(1, 3, 5),
			seek:       at(4),
			wantCursor: 2,
		},
		{
			name:    "past last point",
			stream:  hourlyStream(1, 2, 3),
			seek:    at(4),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.stream.Seek(tt.seek)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrCursorInit)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantCursor, tt.stream.Cursor())
		})
	}
}

func TestDrainIsDisjointAndOrdered(t *testing.T) {
	s := hourlyStream(0, 1, 2, 3, 4, 5, 6)
	require.NoError(t, s.Seek(at(1)))

	first := s.Drain(at(3))
	second := s.Drain(at(6))

	require.Len(t, first, 3)
	require.Len(t, second, 3)

	for _, p := range first {
		assert.False(t, p.Timestamp.After(at(3)))
	}

	assert.True(t, first[len(first)-1].Timestamp.Before(second[0].Timestamp))
	assert.True(t, s.Drained())
	assert.Empty(t, s.Drain(at(100)))
}

func TestDrainBeforeCursorTimeYieldsNothing(t *testing.T) {
	s := hourlyStream(2, 3)
	require.NoError(t, s.Seek(at(1)))

	assert.Empty(t, s.Drain(at(1)))
	assert.Equal(t, 0, s.Cursor())
}

func TestDrainIncludesPointAtSeekTime(t *testing.T) {
	s := hourlyStream(1, 2)
	require.NoError(t, s.Seek(at(1)))

	points := s.Drain(at(1))
	require.Len(t, points, 1)
	assert.Equal(t, at(1), points[0].Timestamp)
}

func TestSeekRewindsAfterDrain(t *testing.T) {
	s := hourlyStream(1, 2, 3)
	require.NoError(t, s.Seek(at(1)))
	s.Drain(at(3))
	require.True(t, s.Drained())

	require.NoError(t, s.Seek(at(2)))
	assert.Equal(t, 1, s.Cursor())
	assert.Len(t, s.Drain(at(3)), 2)
}

func TestStartTime(t *testing.T) {
	energy := hourlyStream(1, 2)
	production := hourlyStream(5, 6)
	empty := hourlyStream()

	start, ok := StartTime(24*time.Hour, energy, production, empty)
	require.True(t, ok)
	assert.Equal(t, at(5+24), start)

	_, ok = StartTime(time.Hour, empty)
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	s := NewStream("energy", []DataPoint{
		{Timestamp: at(1), Value: 1},
		{Timestamp: at(2), IsNull: true},
	})

	sum := s.Summary()
	assert.Equal(t, "energy", sum.Name)
	assert.Equal(t, 2, sum.Points)
	assert.Equal(t, 1, sum.Nulls)
	assert.Equal(t, at(1), sum.First)
	assert.Equal(t, at(2), sum.Last)
}
