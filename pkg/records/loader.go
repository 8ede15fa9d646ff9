package records

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// timestampLayout is the date and time columns of a record line, joined by a space.
const timestampLayout = "2006-01-02 15:04:05"

var (
	// ErrPathRequired is returned when no record file is configured
	ErrPathRequired = errors.New("record file path is required")
	// ErrFilterCodeRequired is returned when a source has no filter code
	ErrFilterCodeRequired = errors.New("record filter code is required")
	// errShortLine is returned for lines with fewer than three fields
	errShortLine = errors.New("expected at least code, date and time")
)

// Config describes where the record file lives and which codes feed each series.
type Config struct {
	Path           string `yaml:"path" default:"data/KpiData.txt"`
	EnergyCode     int    `yaml:"energyCode" default:"3016"`
	ProductionCode int    `yaml:"productionCode" default:"6008"`
}

// Validate validates the records configuration
func (c *Config) Validate() error {
	if c.Path == "" {
		return ErrPathRequired
	}

	if c.EnergyCode == 0 || c.ProductionCode == 0 {
		return ErrFilterCodeRequired
	}

	return nil
}

// Loader reads record files. Lines look like
//
//	3016 2020-01-01 06:00:00 1234.5
//
// where the value may be missing or unreadable to mark a sampling gap.
type Loader struct {
	log logrus.FieldLogger
}

// NewLoader creates a record file loader
func NewLoader(log logrus.FieldLogger) *Loader {
	return &Loader{log: log.WithField("component", "records")}
}

// LoadFile reads path and returns a stream with the points matching code.
func (l *Loader) LoadFile(name, path string, code int) (*Stream, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided record file path
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	defer f.Close()

	points, err := l.Parse(f, code)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record file %s: %w", path, err)
	}

	l.log.WithFields(logrus.Fields{
		"stream": name,
		"code":   code,
		"points": len(points),
	}).Info("Loaded record stream")

	return NewStream(name, points), nil
}

// Parse reads records for code from r. Source files are written newest first, so
// the result is reversed into ascending order. Malformed lines are logged and skipped.
func (l *Loader) Parse(r io.Reader, code int) ([]DataPoint, error) {
	var points []DataPoint

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lineCode, point, err := parseLine(line)
		if err != nil {
			l.log.WithError(err).WithField("line", lineNo).Error("Skipping malformed record line")

			continue
		}

		if lineCode != code {
			continue
		}

		points = append(points, point)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(points)

	return points, nil
}

func parseLine(line string) (int, DataPoint, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, DataPoint{}, fmt.Errorf("%w: got %d fields", errShortLine, len(fields))
	}

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, DataPoint{}, fmt.Errorf("invalid code %q: %w", fields[0], err)
	}

	ts, err := time.ParseInLocation(timestampLayout, fields[1]+" "+fields[2], time.UTC)
	if err != nil {
		return 0, DataPoint{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	// A missing or unreadable value is a sampling gap.
	point := DataPoint{Timestamp: ts, IsNull: true}

	if len(fields) > 3 {
		if value, err := strconv.ParseFloat(fields[3], 64); err == nil {
			point.Value = value
			point.IsNull = false
		}
	}

	return code, point, nil
}
