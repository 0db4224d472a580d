package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the coordinator configuration. Durations are expressed in
// seconds in the YAML file, matching the operator-facing keys.
type Config struct {
	// Instance is the peer label used in logs.
	Instance string `yaml:"instance"`

	HA     HAConfig     `yaml:"ha"`
	Logger LoggerConfig `yaml:"logger"`
}

// HAConfig carries the HA coordinator tunables.
type HAConfig struct {
	Workers int `yaml:"workers"` // worker pool size

	TimeToSleepSec         int64 `yaml:"time_to_sleep"`         // worker idle wait
	MaxRetries             int   `yaml:"migration_max_retries"` // attempts before giving up
	TimeBetweenFailuresSec int64 `yaml:"time_between_failures"` // retry carry-over and cleanup window
	TimeBetweenCleanupSec  int64 `yaml:"time_between_cleanup"`  // cleanup task period

	StopRetryIntervalSec        int64 `yaml:"stop_retry_interval"`
	RestartRetryIntervalSec     int64 `yaml:"restart_retry_interval"`
	MigrateRetryIntervalSec     int64 `yaml:"migrate_retry_interval"`
	InvestigateRetryIntervalSec int64 `yaml:"investigate_retry_interval"`

	// ForceHA restarts VMs even when they have not opted into HA.
	ForceHA bool `yaml:"force_ha"`

	// Tag is injected into start params so planners can pin HA restarts
	// to tagged capacity. Empty means no tag.
	Tag string `yaml:"tag"`

	// HostSideHAHypervisors lists hypervisor families whose host stack
	// already restarts guests; the coordinator skips HA for them.
	HostSideHAHypervisors []types.HypervisorType `yaml:"host_side_ha_hypervisors"`

	// VMHaEnabled and VMHaAlertsEnabled gate the coordinator per zone.
	// The Default entry applies to zones without an explicit override.
	VMHaEnabled       GateConfig `yaml:"vm_ha_enabled"`
	VMHaAlertsEnabled GateConfig `yaml:"vm_ha_alerts_enabled"`
}

// GateConfig is a per-zone boolean with a global default.
type GateConfig struct {
	Default bool           `yaml:"default"`
	Zones   map[int64]bool `yaml:"zones,omitempty"`
}

// In resolves the gate for a zone.
func (g GateConfig) In(zoneID int64) bool {
	if v, ok := g.Zones[zoneID]; ok {
		return v
	}
	return g.Default
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Instance: "VMOPS",
		HA: HAConfig{
			Workers:                     5,
			TimeToSleepSec:              60,
			MaxRetries:                  5,
			TimeBetweenFailuresSec:      3600,
			TimeBetweenCleanupSec:       86400,
			StopRetryIntervalSec:        120,
			RestartRetryIntervalSec:     600,
			MigrateRetryIntervalSec:     120,
			InvestigateRetryIntervalSec: 180,
			HostSideHAHypervisors:       []types.HypervisorType{types.HypervisorVMware, types.HypervisorHyperV},
			VMHaEnabled:                 GateConfig{Default: true},
			VMHaAlertsEnabled:           GateConfig{Default: true},
		},
		Logger: LoggerConfig{Level: "info"},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.HA.Workers < 1 {
		return nil, fmt.Errorf("ha.workers must be at least 1, got %d", cfg.HA.Workers)
	}
	return cfg, nil
}

// Duration accessors so callers never multiply seconds themselves.

func (h HAConfig) TimeToSleep() time.Duration {
	return time.Duration(h.TimeToSleepSec) * time.Second
}

func (h HAConfig) TimeBetweenFailures() time.Duration {
	return time.Duration(h.TimeBetweenFailuresSec) * time.Second
}

func (h HAConfig) TimeBetweenCleanup() time.Duration {
	return time.Duration(h.TimeBetweenCleanupSec) * time.Second
}

// HasHostSideHA reports whether the hypervisor family restarts guests on
// its own, making coordinator-driven HA redundant.
func (h HAConfig) HasHostSideHA(hv types.HypervisorType) bool {
	for _, t := range h.HostSideHAHypervisors {
		if t == hv {
			return true
		}
	}
	return false
}

// Gates wraps the two per-zone gates behind one value that can be swapped
// at runtime. Schedulers and workers read through it so operators can
// disable HA without restarting peers.
type Gates struct {
	mu      sync.RWMutex
	ha      GateConfig
	alerts  GateConfig
}

// NewGates builds the runtime gate view from config.
func NewGates(cfg HAConfig) *Gates {
	return &Gates{ha: cfg.VMHaEnabled, alerts: cfg.VMHaAlertsEnabled}
}

// HAEnabledIn reports whether the HA coordinator may act in the zone.
func (g *Gates) HAEnabledIn(zoneID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ha.In(zoneID)
}

// AlertsEnabledIn reports whether HA alerts may be sent for the zone.
func (g *Gates) AlertsEnabledIn(zoneID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.alerts.In(zoneID)
}

// SetHAEnabled overrides the HA gate for one zone.
func (g *Gates) SetHAEnabled(zoneID int64, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ha.Zones == nil {
		g.ha.Zones = make(map[int64]bool)
	}
	g.ha.Zones[zoneID] = enabled
}

// SetAlertsEnabled overrides the alert gate for one zone.
func (g *Gates) SetAlertsEnabled(zoneID int64, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.alerts.Zones == nil {
		g.alerts.Zones = make(map[int64]bool)
	}
	g.alerts.Zones[zoneID] = enabled
}
