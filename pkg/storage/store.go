package storage

import (
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Store is the persistence contract for the shared recovery work queue.
// Every management peer points at the same store; Take is the only claim
// path and is atomic, so a lease is never granted twice.
type Store interface {
	// Persist assigns an id and saves a new work item. Step defaults to
	// Scheduled and TimeToTry to zero (eligible immediately).
	Persist(item *types.WorkItem) error

	// Take atomically claims the oldest eligible item (ServerID unset and
	// TimeToTry at or before now, ordered by TimeToTry then id) for the
	// given peer. Returns nil when no item is eligible.
	Take(serverID string) (*types.WorkItem, error)

	// Update writes back an item. The id never changes.
	Update(item *types.WorkItem) error

	// FindByID returns an item or nil.
	FindByID(id int64) (*types.WorkItem, error)

	// HasBeenScheduled reports whether a non-terminal item of the given
	// type exists for the VM.
	HasBeenScheduled(vmID int64, workType types.WorkType) (bool, error)

	ListPendingHaWorkForVm(vmID int64) ([]*types.WorkItem, error)
	ListPendingMigrationsForVm(vmID int64) ([]*types.WorkItem, error)
	FindPreviousHA(vmID int64) ([]*types.WorkItem, error)
	ListFutureHaWorkForVm(vmID, excludeID int64) ([]*types.WorkItem, error)
	ListRunningHaWorkForVm(vmID int64) ([]*types.WorkItem, error)

	// FindTakenWorkItems lists items of the given type currently leased by
	// any peer.
	FindTakenWorkItems(workType types.WorkType) ([]*types.WorkItem, error)

	// DeleteMigrationWorkItems removes pending items of the given type for
	// a host, scoped to items unleased or leased by this peer.
	DeleteMigrationWorkItems(hostID int64, workType types.WorkType, serverID string) error

	// ReleaseWorkItems clears the lease on every item owned by the peer.
	// Idempotent.
	ReleaseWorkItems(serverID string) error

	// MarkPendingWorksAsInvestigating releases every non-terminal item and
	// moves pending HA items back to Investigating. Called on startup so
	// work abandoned by a crash is re-evaluated rather than blindly rerun.
	MarkPendingWorksAsInvestigating() error

	// MarkServerPendingWorksAsInvestigating is the graceful-shutdown
	// variant, scoped to items this peer holds.
	MarkServerPendingWorksAsInvestigating(serverID string) error

	// Cleanup purges terminal items completed before the cutoff.
	Cleanup(olderThan time.Time) error

	// ExpungeByVmList removes all items for the given VMs in batches and
	// returns the number removed.
	ExpungeByVmList(vmIDs []int64, batchSize int) (int, error)

	// Delete removes non-terminal items of the given type for a VM.
	Delete(vmID int64, workType types.WorkType) error

	Close() error
}
