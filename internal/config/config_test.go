package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "derivatives.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.MarginSweepInterval())
	assert.Equal(t, 5*time.Minute, cfg.SettlementSweepInterval())
	assert.Equal(t, 24*time.Hour, cfg.SettlementOverdueAfter())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server:
  port: "9090"
database:
  path: test.db
margin:
  sweep_interval_sec: 60
settlement:
  sweep_interval_sec: 120
  overdue_after_hours: 12
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.MarginSweepInterval())
	assert.Equal(t, 2*time.Minute, cfg.SettlementSweepInterval())
	assert.Equal(t, 12*time.Hour, cfg.SettlementOverdueAfter())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Server.JWTSecret)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadMissingFileStillValidates(t *testing.T) {
	t.Setenv("MARGIN_SWEEP_INTERVAL_SEC", "-5")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadSweepIntervalEnvOverrides(t *testing.T) {
	t.Setenv("MARGIN_SWEEP_INTERVAL_SEC", "45")
	t.Setenv("SETTLEMENT_SWEEP_INTERVAL_SEC", "90")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.MarginSweepInterval())
	assert.Equal(t, 90*time.Second, cfg.SettlementSweepInterval())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
margin:
  sweep_interval_sec: -5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
