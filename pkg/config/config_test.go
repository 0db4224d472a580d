package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "VMOPS", cfg.Instance)
	assert.Equal(t, 5, cfg.HA.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.HA.TimeToSleep())
	assert.Equal(t, time.Hour, cfg.HA.TimeBetweenFailures())
	assert.Equal(t, 24*time.Hour, cfg.HA.TimeBetweenCleanup())
	assert.False(t, cfg.HA.ForceHA)
	assert.True(t, cfg.HA.VMHaEnabled.Default)
	assert.True(t, cfg.HA.VMHaAlertsEnabled.Default)
}

func TestHasHostSideHA(t *testing.T) {
	cfg := Default().HA

	assert.True(t, cfg.HasHostSideHA(types.HypervisorVMware))
	assert.True(t, cfg.HasHostSideHA(types.HypervisorHyperV))
	assert.False(t, cfg.HasHostSideHA(types.HypervisorKVM))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	data := `
instance: prod-east
ha:
  workers: 10
  migration_max_retries: 7
  restart_retry_interval: 300
  tag: ha-capacity
  vm_ha_enabled:
    default: true
    zones:
      3: false
logger:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod-east", cfg.Instance)
	assert.Equal(t, 10, cfg.HA.Workers)
	assert.Equal(t, 7, cfg.HA.MaxRetries)
	assert.Equal(t, int64(300), cfg.HA.RestartRetryIntervalSec)
	assert.Equal(t, "ha-capacity", cfg.HA.Tag)
	assert.True(t, cfg.HA.VMHaEnabled.In(1))
	assert.False(t, cfg.HA.VMHaEnabled.In(3))
	// Unset keys keep their defaults.
	assert.Equal(t, int64(60), cfg.HA.TimeToSleepSec)
}

func TestLoadRejectsBadWorkerCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ha:\n  workers: 0\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestGatesOverrides(t *testing.T) {
	gates := NewGates(Default().HA)

	assert.True(t, gates.HAEnabledIn(7))
	gates.SetHAEnabled(7, false)
	assert.False(t, gates.HAEnabledIn(7))
	assert.True(t, gates.HAEnabledIn(8), "other zones keep the default")

	assert.True(t, gates.AlertsEnabledIn(7))
	gates.SetAlertsEnabled(7, false)
	assert.False(t, gates.AlertsEnabledIn(7))
}
