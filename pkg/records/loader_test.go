package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `3016 2020-01-02 00:00:00 200.5
6008 2020-01-02 00:00:00 12
3016 2020-01-01 12:00:00
broken
3016 not-a-date 00:00:00 1
3016 2020-01-01 00:00:00 100
`

func newTestLoader() *Loader {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return NewLoader(log)
}

func TestParseFiltersAndReverses(t *testing.T) {
	points, err := newTestLoader().Parse(strings.NewReader(sample), 3016)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), points[0].Timestamp)
	assert.InDelta(t, 100.0, points[0].Value, 1e-9)
	assert.False(t, points[0].IsNull)

	assert.Equal(t, time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC), points[1].Timestamp)
	assert.True(t, points[1].IsNull)

	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), points[2].Timestamp)
	assert.InDelta(t, 200.5, points[2].Value, 1e-9)
}

func TestParseOtherCode(t *testing.T) {
	points, err := newTestLoader().Parse(strings.NewReader(sample), 6008)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 12.0, points[0].Value, 1e-9)
}

func TestParseKeepsUnreadableValueAsGap(t *testing.T) {
	points, err := newTestLoader().Parse(strings.NewReader("3016 2020-01-01 06:00:00 n/a\n3016 2020-01-01 05:00:00 4\n"), 3016)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.False(t, points[0].IsNull)
	assert.True(t, points[1].IsNull)
	assert.Equal(t, time.Date(2020, 1, 1, 6, 0, 0, 0, time.UTC), points[1].Timestamp)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		code    int
		isNull  bool
		wantErr bool
	}{
		{name: "full line", line: "3016 2020-01-01 06:00:00 1.5", code: 3016},
		{name: "missing value", line: "6008 2020-01-01 06:00:00", code: 6008, isNull: true},
		{name: "too few fields", line: "3016 2020-01-01", wantErr: true},
		{name: "bad code", line: "x 2020-01-01 06:00:00 1", wantErr: true},
		{name: "unreadable value is a gap", line: "3016 2020-01-01 06:00:00 abc", code: 3016, isNull: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, point, err := parseLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.isNull, point.IsNull)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "KpiData.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	s, err := newTestLoader().LoadFile("energy", path, 3016)
	require.NoError(t, err)
	assert.Equal(t, "energy", s.Name())
	assert.Equal(t, 3, s.Len())

	_, err = newTestLoader().LoadFile("energy", filepath.Join(t.TempDir(), "missing.txt"), 3016)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (&Config{}).Validate(), ErrPathRequired)
	assert.ErrorIs(t, (&Config{Path: "x"}).Validate(), ErrFilterCodeRequired)
	assert.NoError(t, (&Config{Path: "x", EnergyCode: 1, ProductionCode: 2}).Validate())
}
