package ha

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Deps bundles the collaborators the coordinator consumes. Store,
// Inventory, Orchestrator and Alerts are required; the rest may be nil
// when the deployment does not carry them.
type Deps struct {
	Store        storage.Store
	Inventory    Inventory
	Orchestrator Orchestrator
	Alerts       AlertManager

	Volumes     VolumeOrchestrator
	StoreDriver PrimaryStoreDriver
	Resources   ResourceManager

	Router     RouterManager
	Proxy      ConsoleProxyManager
	SecStorage SecondaryStorageManager
	UserVM     UserVMManager

	Investigators []Investigator
	Fencers       []Fencer
	HAPlanners    []Planner

	Events *events.Broker
}

// Manager is the HA coordinator for one management peer. It owns the
// worker pool and the cleanup task, and exposes the scheduling API. One
// Manager per process; lifecycle is Configure, Start, Stop.
type Manager struct {
	serverID string
	cfg      config.HAConfig
	gates    *config.Gates

	store storage.Store
	deps  Deps

	workers []*worker
	stopped atomic.Bool
	wg      sync.WaitGroup

	cron     *cron.Cron
	stopOnce sync.Once

	logger zerolog.Logger
}

// NewManager creates a Manager for the given peer.
func NewManager(serverID string, cfg config.HAConfig, gates *config.Gates, deps Deps) *Manager {
	m := &Manager{
		serverID: serverID,
		cfg:      cfg,
		gates:    gates,
		store:    deps.Store,
		deps:     deps,
		logger:   log.WithComponent("ha"),
	}
	m.stopped.Store(true)
	return m
}

// Configure prepares the worker pool and releases any leases a previous
// incarnation of this peer left behind.
func (m *Manager) Configure() error {
	if m.store == nil || m.deps.Inventory == nil || m.deps.Orchestrator == nil || m.deps.Alerts == nil {
		return fmt.Errorf("ha manager missing a required dependency")
	}
	if m.cfg.Workers < 1 {
		return fmt.Errorf("worker pool size must be at least 1, got %d", m.cfg.Workers)
	}

	if err := m.store.ReleaseWorkItems(m.serverID); err != nil {
		return fmt.Errorf("failed to release stale work items: %w", err)
	}

	m.workers = make([]*worker, m.cfg.Workers)
	for i := range m.workers {
		m.workers[i] = newWorker(i, m)
	}

	m.cron = cron.New()
	m.stopped.Store(true)
	return nil
}

// Start launches the workers and the cleanup task. Items left in flight by
// a crash are sent back through investigation first.
func (m *Manager) Start() error {
	if err := m.store.MarkPendingWorksAsInvestigating(); err != nil {
		return fmt.Errorf("failed to reset pending work: %w", err)
	}

	m.stopped.Store(false)

	for _, w := range m.workers {
		m.wg.Add(1)
		go w.run()
	}

	spec := fmt.Sprintf("@every %ds", m.cfg.TimeBetweenCleanupSec)
	if _, err := m.cron.AddFunc(spec, m.runCleanup); err != nil {
		return fmt.Errorf("failed to schedule cleanup task: %w", err)
	}
	m.cron.Start()

	m.logger.Info().Int("workers", len(m.workers)).Str("server_id", m.serverID).Msg("ha coordinator started")
	return nil
}

// Stop shuts the coordinator down and releases this peer's leases so
// another peer can pick the work up. Idempotent.
func (m *Manager) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		m.WakeupWorkers()

		ctx := m.cron.Stop()
		<-ctx.Done()

		m.wg.Wait()

		err = m.store.MarkServerPendingWorksAsInvestigating(m.serverID)
		m.logger.Info().Msg("ha coordinator stopped")
	})
	return err
}

// WakeupWorkers nudges every idle worker to poll the queue immediately.
// Called by every scheduling API after a persist.
func (m *Manager) WakeupWorkers() {
	m.logger.Debug().Msg("waking ha workers")
	for _, w := range m.workers {
		w.wakeup()
	}
}

// HaTag returns the capacity tag injected into HA start params, empty when
// unset.
func (m *Manager) HaTag() string {
	return m.cfg.Tag
}

// HAPlanner returns the first emergency planner, nil when none configured.
func (m *Manager) HAPlanner() Planner {
	if len(m.deps.HAPlanners) == 0 {
		return nil
	}
	return m.deps.HAPlanners[0]
}

// runCleanup purges terminal items past the retention window. Non-terminal
// items are never touched.
func (m *Manager) runCleanup() {
	m.logger.Info().Msg("ha cleanup running")
	cutoff := time.Now().Add(-m.cfg.TimeBetweenFailures())
	if err := m.store.Cleanup(cutoff); err != nil {
		m.logger.Warn().Err(err).Msg("error while cleaning up")
		return
	}
	metrics.CleanupRunsTotal.Inc()
}

// OnPeerJoined implements cluster.MembershipListener. Nothing to do: the
// new peer polls the shared queue on its own.
func (m *Manager) OnPeerJoined(peerIDs []string) {
}

// OnPeerLeft releases every lease the departed peers held, making their
// in-flight items claimable by survivors.
func (m *Manager) OnPeerLeft(peerIDs []string) {
	for _, peerID := range peerIDs {
		if peerID == m.serverID {
			continue
		}
		plog := log.WithPeerID(peerID)
		if err := m.store.ReleaseWorkItems(peerID); err != nil {
			plog.Error().Err(err).Msg("failed to release departed peer's work items")
			continue
		}
		plog.Info().Msg("released departed peer's work items")
		metrics.PeerLeasesReleasedTotal.Inc()
		m.publish(&events.Event{Type: events.EventPeerLeft, Message: peerID})
	}
	m.WakeupWorkers()
}

// OnPeerIsolated implements cluster.MembershipListener. No-op; isolation
// is resolved by the membership layer itself.
func (m *Manager) OnPeerIsolated() {
}

func (m *Manager) publish(ev *events.Event) {
	if m.deps.Events != nil {
		m.deps.Events.Publish(ev)
	}
}
