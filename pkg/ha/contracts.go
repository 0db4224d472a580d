package ha

import (
	"github.com/cuemby/burrow/pkg/types"
)

// StartParams carries named parameters into a start attempt.
type StartParams map[string]interface{}

// Parameter keys understood by the orchestrator.
const (
	ParamHATag       = "ha.tag"
	ParamHAOperation = "ha.operation"
)

// Inventory provides read access to management-plane records. Lookups
// return nil (not an error) when the record does not exist.
type Inventory interface {
	HostByID(id int64) (*types.Host, error)
	HostByIDIncludingRemoved(id int64) (*types.Host, error)
	VMByID(id int64) (*types.VirtualMachine, error)
	VMByUUID(uuid string) (*types.VirtualMachine, error)
	VMsOnHost(hostID int64) ([]*types.VirtualMachine, error)
	ZoneByID(id int64) (*types.Zone, error)
	PodByID(id int64) (*types.Pod, error)
	VolumesByVM(vmID int64) ([]*types.Volume, error)
}

// Orchestrator drives VM lifecycle transitions. All calls may block on
// hypervisor round-trips and fail with the error kinds in errors.go.
type Orchestrator interface {
	// AdvanceStop stops the VM. With force, the orchestrator is expected
	// to absorb agent failures itself; an error from a forced stop is
	// treated as exceptional by the state machine.
	AdvanceStop(uuid string, force bool) error

	// AdvanceStart starts the VM with the given planner; nil means the
	// VM's original planner.
	AdvanceStart(uuid string, params StartParams, planner Planner) error

	// MigrateAway moves the VM off the source host.
	MigrateAway(uuid string, srcHostID int64) error

	// Destroy removes the VM, expunging its resources when asked.
	Destroy(uuid string, expunge bool) error

	// IsRootVolumeOnLocalStorage reports whether the VM's root disk is
	// tied to its host.
	IsRootVolumeOnLocalStorage(vmID int64) (bool, error)
}

// Dedicated lifecycle managers for system VM types. Restart routes through
// them so type-specific wiring (network config, certificates) happens.

type RouterManager interface {
	StartRouterForHA(vm *types.VirtualMachine, params StartParams, planner Planner) error
}

type ConsoleProxyManager interface {
	StartProxyForHA(vm *types.VirtualMachine, params StartParams, planner Planner) error
	DestroyProxy(vmID int64) error
}

type SecondaryStorageManager interface {
	StartSecStorageVMForHA(vm *types.VirtualMachine, params StartParams, planner Planner) error
	DestroySecStorageVM(vmID int64) error
}

type UserVMManager interface {
	StartVirtualMachineForHA(vm *types.VirtualMachine, params StartParams, planner Planner) error
}

// VolumeOrchestrator answers storage-placement questions.
type VolumeOrchestrator interface {
	// CanVmRestartOnAnotherServer reports whether all of the VM's volumes
	// are reachable from some other host.
	CanVmRestartOnAnotherServer(vmID int64) bool
}

// PrimaryStoreDriver abstracts the primary-storage driver operations the
// restart path needs. Pools whose driver keeps per-node attachments must
// be detached everywhere before the VM starts on a new host, or the stale
// export blocks the attach.
type PrimaryStoreDriver interface {
	RequiresPreDetach(pool types.StoragePoolType) bool
	DetachVolumeFromAllStorageNodes(vol *types.Volume) error
}

// ResourceManager is notified when a migration fails for capacity so it
// can adjust host bookkeeping.
type ResourceManager interface {
	MigrateAwayFailed(hostID, vmID int64)
}

// AlertType routes an alert to the right operator channel.
type AlertType string

const (
	AlertUserVM       AlertType = "uservm"
	AlertDomainRouter AlertType = "domain-router"
	AlertConsoleProxy AlertType = "console-proxy"
	AlertSSVM         AlertType = "ssvm"
	AlertHost         AlertType = "host"
)

// AlertManager delivers operator alerts. Implementations must be safe for
// concurrent use; workers and schedulers call it directly.
type AlertManager interface {
	SendAlert(alertType AlertType, zoneID, podID int64, subject, body string)
}
