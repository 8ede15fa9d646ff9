// Package simulation drives replay and aggregation from the virtual clock and
// turns clock state and results into broadcast messages.
package simulation

import (
	"errors"
	"time"

	"github.com/ethpandaops/kpisim/pkg/clock"
)

var (
	// ErrInvalidCadence is returned for a non-positive cadence
	ErrInvalidCadence = errors.New("simulation cadence must be positive")
	// ErrInvalidTickQueue is returned for a non-positive tick queue depth
	ErrInvalidTickQueue = errors.New("simulation tickQueue must be positive")
	// ErrInvalidSpeed is returned when the initial speed exceeds the clock maximum
	ErrInvalidSpeed = errors.New("simulation speed exceeds the clock maximum")
)

// Config holds simulation configuration
type Config struct {
	// Speed is the initial number of simulated seconds per cadence.
	Speed uint64 `yaml:"speed" default:"86400"`
	// Cadence is the real time between ticks.
	Cadence time.Duration `yaml:"cadence" default:"1s"`
	// StartOffset is added to the latest first record time to get the initial simulated time.
	StartOffset time.Duration `yaml:"startOffset" default:"336h"`
	// TickQueue is the number of ticks that may wait for processing.
	TickQueue int `yaml:"tickQueue" default:"8"`
}

// Validate validates the simulation configuration
func (c *Config) Validate() error {
	if c.Cadence <= 0 {
		return ErrInvalidCadence
	}

	if c.TickQueue <= 0 {
		return ErrInvalidTickQueue
	}

	if c.Speed > clock.MaxSpeed {
		return ErrInvalidSpeed
	}

	return nil
}
