// Package aggregation computes energy-per-production efficiency ratios over
// simulated time windows.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Invalid is the value reported for a window whose ratio cannot be computed.
const Invalid = -1.0

var (
	// ErrInsufficientEnergyData marks a window with fewer than two energy readings
	ErrInsufficientEnergyData = errors.New("insufficient energy data")
	// ErrNoProductionData marks a window without production readings
	ErrNoProductionData = errors.New("no production data")
	// ErrNoProduction marks a window whose production sum is not positive
	ErrNoProduction = errors.New("production sum is not positive")
	// ErrAnomaly marks a ratio above the configured ceiling
	ErrAnomaly = errors.New("ratio above anomaly ceiling")
	// ErrInvalidCeiling is returned for a non-positive anomaly ceiling
	ErrInvalidCeiling = errors.New("anomaly ceiling must be positive")
)

// Period names an aggregation window length.
type Period string

const (
	// Daily covers the 24 hours before a boundary.
	Daily Period = "daily"
	// Weekly covers the 7 days before a boundary.
	Weekly Period = "weekly"
)

// Window returns the length of the period.
func (p Period) Window() time.Duration {
	if p == Weekly {
		return 7 * 24 * time.Hour
	}

	return 24 * time.Hour
}

// Sample is one stored reading returned by a Source.
type Sample struct {
	ID        int64
	Timestamp time.Time
	Value     float64
	IsNull    bool
}

// value treats sampling gaps as zero readings.
func (s Sample) value() float64 {
	if s.IsNull {
		return 0
	}

	return s.Value
}

// Source fetches the series a calculation needs. EnergySeries may include the
// nearest readings outside [from, to] so boundaries can be interpolated.
type Source interface {
	EnergySeries(ctx context.Context, from, to time.Time) ([]Sample, error)
	ProductionSeries(ctx context.Context, from, to time.Time) ([]Sample, error)
}

// Result is the outcome of one window calculation.
type Result struct {
	Period     Period    `json:"period,omitempty"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Value      float64   `json:"value"`
	Energy     float64   `json:"energy"`
	Production float64   `json:"production"`
	// Reason is set when Value is Invalid.
	Reason error `json:"-"`
}

// Valid reports whether the ratio could be computed.
func (r Result) Valid() bool {
	return r.Reason == nil
}

// Engine calculates efficiency ratios.
type Engine struct {
	log     logrus.FieldLogger
	source  Source
	ceiling float64
}

// NewEngine creates an aggregation engine reading from source
func NewEngine(log logrus.FieldLogger, source Source, ceiling float64) (*Engine, error) {
	if ceiling <= 0 {
		return nil, ErrInvalidCeiling
	}

	return &Engine{
		log:     log.WithField("component", "aggregation"),
		source:  source,
		ceiling: ceiling,
	}, nil
}

// CalculatePeriod computes the ratio for the period ending at boundary.
func (e *Engine) CalculatePeriod(ctx context.Context, period Period, boundary time.Time) (Result, error) {
	res, err := e.Calculate(ctx, boundary.Add(-period.Window()), boundary)
	res.Period = period

	return res, err
}

// CalculateDaily computes the ratio for the 24 hours ending at boundary.
func (e *Engine) CalculateDaily(ctx context.Context, boundary time.Time) (Result, error) {
	return e.CalculatePeriod(ctx, Daily, boundary)
}

// CalculateWeekly computes the ratio for the 7 days ending at boundary.
func (e *Engine) CalculateWeekly(ctx context.Context, boundary time.Time) (Result, error) {
	return e.CalculatePeriod(ctx, Weekly, boundary)
}

// Calculate computes energy consumed over [from, to] divided by production over
// the same window. Missing or anomalous data yields an Invalid result with a
// reason; only storage failures are returned as errors.
func (e *Engine) Calculate(ctx context.Context, from, to time.Time) (Result, error) {
	res := Result{From: from, To: to, Value: Invalid}

	energySeries, err := e.source.EnergySeries(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("failed to fetch energy series: %w", err)
	}

	energy, err := EnergyConsumed(energySeries, from, to)
	if err != nil {
		res.Reason = err
		e.logInvalid(res)

		return res, nil
	}

	res.Energy = energy

	productionSeries, err := e.source.ProductionSeries(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("failed to fetch production series: %w", err)
	}

	if len(productionSeries) == 0 {
		res.Reason = ErrNoProductionData
		e.logInvalid(res)

		return res, nil
	}

	for _, s := range productionSeries {
		res.Production += s.value()
	}

	if res.Production <= 0 {
		res.Reason = ErrNoProduction
		e.logInvalid(res)

		return res, nil
	}

	ratio := energy / res.Production
	if ratio > e.ceiling {
		res.Reason = fmt.Errorf("%w: %.3f > %.3f", ErrAnomaly, ratio, e.ceiling)

		e.log.WithFields(logrus.Fields{
			"from":  from.UTC().Format(time.RFC3339),
			"to":    to.UTC().Format(time.RFC3339),
			"ratio": ratio,
		}).Warn("Ratio above anomaly ceiling, reporting invalid")

		return res, nil
	}

	res.Value = ratio

	return res, nil
}

func (e *Engine) logInvalid(res Result) {
	e.log.WithError(res.Reason).WithFields(logrus.Fields{
		"from": res.From.UTC().Format(time.RFC3339),
		"to":   res.To.UTC().Format(time.RFC3339),
	}).Debug("Window not computable")
}

// EnergyConsumed sums the energy used over [from, to] from cumulative meter readings.
// A reading lower than its predecessor means the meter restarted from zero, so
// the later reading is the consumption for that interval. The first and last
// intervals are linearly interpolated when they straddle the window edges.
func EnergyConsumed(series []Sample, from, to time.Time) (float64, error) {
	if len(series) < 2 {
		return 0, fmt.Errorf("%w: %d readings", ErrInsufficientEnergyData, len(series))
	}

	var total float64

	last := len(series) - 2

	for i := 0; i <= last; i++ {
		a, b := series[i], series[i+1]
		e1, e2 := a.value(), b.value()

		switch {
		case e2 < e1:
			total += e2
		case i == 0 && a.Timestamp.Before(from):
			total += e2 - interpolate(a, b, from)
		case i == last && b.Timestamp.After(to):
			total += interpolate(a, b, to) - e1
		default:
			total += e2 - e1
		}
	}

	return total, nil
}

// interpolate returns the linear reading between a and b at t.
func interpolate(a, b Sample, t time.Time) float64 {
	span := b.Timestamp.Sub(a.Timestamp).Seconds()
	if span == 0 {
		return b.value()
	}

	offset := t.Sub(a.Timestamp).Seconds()

	return a.value() + (b.value()-a.value())*offset/span
}
