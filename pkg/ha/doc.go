/*
Package ha implements the high-availability coordinator of the Burrow
management plane.

VMs are registered for HA; requests are stored in a durable work queue
shared by every management peer. Each peer runs a pool of workers that
claim items from the queue and drive them through a per-item state
machine until the VM is recovered, the work is superseded, or the retry
budget runs out.

# Architecture

	┌───────────────────── HA COORDINATOR ─────────────────────┐
	│                                                            │
	│  Scheduler API                                             │
	│  - Investigate / ScheduleRestart(ForVmsOnHost)             │
	│  - ScheduleStop / ScheduleMigration / ScheduleDestroy      │
	│       │ persist + wakeup                                   │
	│  ┌────▼─────────────────────────────────────────┐         │
	│  │          Work Queue (pkg/storage)             │         │
	│  │  - claim/lease via Take(serverID)             │         │
	│  │  - (timeToTry, id) FIFO ordering              │         │
	│  │  - shared across management peers             │         │
	│  └────┬─────────────────────────────────────────┘         │
	│       │ Take                                               │
	│  ┌────▼─────────────────────────────────────────┐         │
	│  │          Worker Pool (N workers)              │         │
	│  │  - idle wait with wakeup nudge                │         │
	│  │  - work-<id> log correlation                  │         │
	│  └────┬─────────────────────────────────────────┘         │
	│       │ processWork                                        │
	│  ┌────▼─────────────────────────────────────────┐         │
	│  │        Recovery State Machine                 │         │
	│  │  HA:        investigate → fence → stop →      │         │
	│  │             start (planner fallback)          │         │
	│  │  Migration: migrateAway w/ capacity retry     │         │
	│  │  Stop:      plain / checked / forced          │         │
	│  │  Destroy:   stop → destroy (expunge sysvms)   │         │
	│  └────┬──────────────┬───────────────┬──────────┘         │
	│       │              │               │                     │
	│  Investigators    Fencers        Planners                  │
	│  (ordered)        (ordered)      (original + HA)           │
	└───────────────────────────────────────────────────────────┘

# The HA process

 1. The investigators are asked whether the VM is still running. The
    first one with an answer wins; ErrUnknownVM moves to the next.
 2. If the VM is alive and its host is up, nothing needs doing. Alive on
    a sick host retries later.
 3. If nobody knows, the fencers isolate the VM from shared storage and
    network so a second copy cannot corrupt anything. No fence, no
    restart: the item alerts and retries.
 4. The VM is force-stopped, then started through its type's lifecycle
    manager. Capacity exhaustion earns exactly one more attempt with the
    emergency HA planner.
 5. Items that retried past the configured budget finish as given up;
    the give-up is logged, counted in metrics and published as an event.

# Concurrency

All shared state lives in the store. A worker holds nothing between
iterations, so any peer can pick up where a crashed one left off; the
peer membership layer (pkg/cluster) calls OnPeerLeft so the survivors
release the departed peer's leases. Two items racing on one VM are safe
because every flow re-checks the VM's state and update counter against
the snapshot taken at schedule time.

# Feature gate

VM HA is gated per zone. With the gate off, scheduling persists nothing
(the bool-returning APIs return false; at most one alert per call) and
workers push claimed items back instead of executing them. Each
push-back consumes an attempt, so an item whose zone stays disabled
past the retry budget finishes as given up.

# Lifecycle

	mgr := ha.NewManager(serverID, cfg.HA, gates, deps)
	mgr.Configure()   // builds the pool, releases stale leases
	mgr.Start()       // workers + cleanup task
	...
	mgr.Stop()        // idempotent; releases this peer's leases
*/
package ha
