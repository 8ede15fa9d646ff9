package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging: debug
records:
  path: /data/KpiData.txt
storage:
  dsn: postgres://kpisim@localhost/kpisim
simulation:
  speed: 3600
server:
  docRoot: /srv/dashboard
redis:
  url: redis://localhost:6379/0
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging)
	assert.Equal(t, "/data/KpiData.txt", cfg.Records.Path)
	assert.Equal(t, 3016, cfg.Records.EnergyCode)
	assert.Equal(t, 6008, cfg.Records.ProductionCode)
	assert.Equal(t, uint64(3600), cfg.Simulation.Speed)
	assert.Equal(t, time.Second, cfg.Simulation.Cadence)
	assert.Equal(t, 336*time.Hour, cfg.Simulation.StartOffset)
	assert.Equal(t, 10, cfg.Storage.MaxOpenConns)
	assert.Equal(t, "/wsapi", cfg.Server.WSPath)
	assert.Equal(t, "/srv/dashboard", cfg.Server.Frontend.DocRoot)
	assert.Equal(t, "0 6 * * 0", cfg.KPI.Weekly)
	assert.Equal(t, int64(512), cfg.Redis.HistorySize)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulation: [1, 2"), 0o600))

	_, err = loadConfig(path)
	require.Error(t, err)
}
