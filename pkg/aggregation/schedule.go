package aggregation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the aggregation schedule and anomaly ceiling
type Config struct {
	// Daily is the cron expression of daily window boundaries, in UTC simulated time.
	Daily string `yaml:"daily" default:"0 6 * * *"`
	// Weekly is the cron expression of boundaries that also close a weekly window.
	Weekly string `yaml:"weekly" default:"0 6 * * 0"`
	// AnomalyCeiling is the largest ratio reported as valid.
	AnomalyCeiling float64 `yaml:"anomalyCeiling" default:"30"`
}

// Validate validates the aggregation configuration
func (c *Config) Validate() error {
	if c.AnomalyCeiling <= 0 {
		return ErrInvalidCeiling
	}

	if _, err := NewSchedule(c); err != nil {
		return err
	}

	return nil
}

// Boundary is a simulated instant that closes a daily window, and possibly a weekly one.
type Boundary struct {
	Time   time.Time
	Weekly bool
}

// Schedule computes aggregation boundaries in simulated time.
type Schedule struct {
	daily  cron.Schedule
	weekly cron.Schedule
}

// NewSchedule parses the daily and weekly cron expressions
func NewSchedule(cfg *Config) (*Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	daily, err := parser.Parse(cfg.Daily)
	if err != nil {
		return nil, fmt.Errorf("invalid daily schedule %q: %w", cfg.Daily, err)
	}

	weekly, err := parser.Parse(cfg.Weekly)
	if err != nil {
		return nil, fmt.Errorf("invalid weekly schedule %q: %w", cfg.Weekly, err)
	}

	return &Schedule{daily: daily, weekly: weekly}, nil
}

// First returns the first daily boundary on or after midnight UTC of the day
// containing start. It can precede start, in which case it is due on the first tick.
func (s *Schedule) First(start time.Time) time.Time {
	midnight := start.UTC().Truncate(24 * time.Hour)

	return s.daily.Next(midnight.Add(-time.Second))
}

// Next returns the daily boundary following boundary.
func (s *Schedule) Next(boundary time.Time) time.Time {
	return s.daily.Next(boundary.UTC())
}

// IsWeekly reports whether boundary also closes a weekly window.
func (s *Schedule) IsWeekly(boundary time.Time) bool {
	return s.weekly.Next(boundary.UTC().Add(-time.Second)).Equal(boundary.UTC())
}

// Due returns every boundary from next up to and including simTime, with the
// boundary that follows them.
func (s *Schedule) Due(next, simTime time.Time) ([]Boundary, time.Time) {
	var due []Boundary

	for !next.IsZero() && !next.After(simTime) {
		due = append(due, Boundary{Time: next, Weekly: s.IsWeekly(next)})
		next = s.Next(next)
	}

	return due, next
}
