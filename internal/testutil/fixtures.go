package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// RecordFixture describes a synthetic series written in record file format.
type RecordFixture struct {
	Code   int
	Start  time.Time
	Step   time.Duration
	Count  int
	Value  func(i int) float64
	NullAt map[int]bool
}

// RecordOption is a functional option for customizing record fixtures.
type RecordOption func(*RecordFixture)

// WithStep sets the spacing between points.
func WithStep(step time.Duration) RecordOption {
	return func(f *RecordFixture) {
		f.Step = step
	}
}

// WithValues sets the value generator.
func WithValues(fn func(i int) float64) RecordOption {
	return func(f *RecordFixture) {
		f.Value = fn
	}
}

// WithNulls marks points without a value.
func WithNulls(indexes ...int) RecordOption {
	return func(f *RecordFixture) {
		for _, i := range indexes {
			f.NullAt[i] = true
		}
	}
}

// NewRecordFixture creates an hourly series of count points starting at start.
func NewRecordFixture(code int, start time.Time, count int, opts ...RecordOption) RecordFixture {
	f := RecordFixture{
		Code:   code,
		Start:  start.UTC(),
		Step:   time.Hour,
		Count:  count,
		Value:  func(i int) float64 { return float64(i) },
		NullAt: make(map[int]bool),
	}

	for _, opt := range opts {
		opt(&f)
	}

	return f
}

// Lines renders the fixture newest first, the order record files are written in.
func (f RecordFixture) Lines() []string {
	lines := make([]string, 0, f.Count)

	for i := 0; i < f.Count; i++ {
		ts := f.Start.Add(time.Duration(i) * f.Step).Format("2006-01-02 15:04:05")
		if f.NullAt[i] {
			lines = append(lines, fmt.Sprintf("%d %s", f.Code, ts))
			continue
		}

		lines = append(lines, fmt.Sprintf("%d %s %g", f.Code, ts, f.Value(i)))
	}

	slices.Reverse(lines)

	return lines
}

// WriteRecordFile writes the fixtures into a temporary record file and returns its path.
func WriteRecordFile(t *testing.T, fixtures ...RecordFixture) string {
	t.Helper()

	var lines []string
	for _, f := range fixtures {
		lines = append(lines, f.Lines()...)
	}

	path := filepath.Join(t.TempDir(), "KpiData.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write record file: %v", err)
	}

	return path
}
