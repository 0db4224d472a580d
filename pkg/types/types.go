package types

import (
	"time"
)

// VirtualMachine is the management-plane view of a guest VM. Burrow never
// touches the hypervisor directly; it reads this record and drives the
// orchestrator contracts in pkg/ha.
type VirtualMachine struct {
	ID         int64
	UUID       string
	Name       string
	Type       InstanceType
	State      VMState
	Hypervisor HypervisorType

	// HostID is the host the VM currently runs on; nil when stopped.
	HostID     *int64
	LastHostID *int64

	ZoneID int64
	PodID  int64

	// Updated is a monotonic counter bumped on every state transition.
	// Work items capture it at schedule time to detect concurrent changes.
	Updated int64

	HAEnabled bool
}

// InstanceType classifies a VM by its lifecycle owner.
type InstanceType string

const (
	InstanceUser               InstanceType = "user"
	InstanceDomainRouter       InstanceType = "domain-router"
	InstanceConsoleProxy       InstanceType = "console-proxy"
	InstanceSecondaryStorageVM InstanceType = "secondary-storage-vm"
	InstanceOther              InstanceType = "other"
)

// IsSystem reports whether the VM is infrastructure managed by a dedicated
// lifecycle manager rather than a user.
func (t InstanceType) IsSystem() bool {
	return t == InstanceDomainRouter || t == InstanceConsoleProxy || t == InstanceSecondaryStorageVM
}

// VMState represents the orchestrator-visible state of a VM.
type VMState string

const (
	VMStateStarting  VMState = "starting"
	VMStateRunning   VMState = "running"
	VMStateStopping  VMState = "stopping"
	VMStateStopped   VMState = "stopped"
	VMStateMigrating VMState = "migrating"
	VMStateDestroyed VMState = "destroyed"
	VMStateExpunging VMState = "expunging"
	VMStateError     VMState = "error"
)

// HypervisorType identifies the host virtualization stack.
type HypervisorType string

const (
	HypervisorKVM       HypervisorType = "kvm"
	HypervisorVMware    HypervisorType = "vmware"
	HypervisorHyperV    HypervisorType = "hyperv"
	HypervisorXenServer HypervisorType = "xenserver"
	HypervisorSimulator HypervisorType = "simulator"
)

// Host is a hypervisor node known to the management plane.
type Host struct {
	ID         int64
	Name       string
	Type       HostType
	Hypervisor HypervisorType
	Status     HostStatus
	ZoneID     int64
	PodID      int64
	Removed    *time.Time
}

// HostType distinguishes compute hosts from auxiliary ones.
type HostType string

const (
	HostTypeRouting HostType = "routing"
	HostTypeStorage HostType = "storage"
	HostTypeConsole HostType = "console"
)

// HostStatus is the liveness verdict for a host agent.
type HostStatus string

const (
	HostUp           HostStatus = "up"
	HostDown         HostStatus = "down"
	HostDisconnected HostStatus = "disconnected"
	HostAlert        HostStatus = "alert"
	HostUnknown      HostStatus = "unknown"
)

// Zone is the top-level failure and administrative domain. Feature and
// alert gates are scoped to it.
type Zone struct {
	ID   int64
	Name string
}

// Pod groups hosts inside a zone.
type Pod struct {
	ID     int64
	Name   string
	ZoneID int64
}

// Volume is a VM disk as seen by the coordinator. Only the fields the
// restart pre-detach step needs are carried.
type Volume struct {
	ID       int64
	VMID     int64
	PoolType StoragePoolType
	RootDisk bool
}

// StoragePoolType names the backing primary storage implementation.
type StoragePoolType string

const (
	PoolNFS         StoragePoolType = "nfs"
	PoolLocal       StoragePoolType = "local"
	PoolSharedMount StoragePoolType = "shared-mount"
	PoolStorPool    StoragePoolType = "storpool"
)

// WorkType is the kind of recovery work a WorkItem carries.
type WorkType string

const (
	WorkHA        WorkType = "ha"
	WorkMigration WorkType = "migration"
	WorkStop      WorkType = "stop"
	WorkCheckStop WorkType = "check-stop"
	WorkForceStop WorkType = "force-stop"
	WorkDestroy   WorkType = "destroy"
)

// Step is the position of a WorkItem in its state machine.
type Step string

const (
	StepScheduled     Step = "scheduled"
	StepInvestigating Step = "investigating"
	StepFencing       Step = "fencing"
	StepMigrating     Step = "migrating"
	StepDone          Step = "done"
	StepCancelled     Step = "cancelled"
	StepError         Step = "error"
)

// Terminal reports whether the step never re-executes.
func (s Step) Terminal() bool {
	return s == StepDone || s == StepCancelled || s == StepError
}

// ReasonType records why recovery work was scheduled.
type ReasonType string

const (
	ReasonHostMaintenance ReasonType = "host-maintenance"
	ReasonHostDown        ReasonType = "host-down"
	ReasonHostDegraded    ReasonType = "host-degraded"
	ReasonVMStopped       ReasonType = "vm-stopped"
	ReasonUserRequested   ReasonType = "user-requested"
	ReasonUnknown         ReasonType = "unknown"
)

// WorkItem is the durable unit of recovery work. It is the only persistent
// entity of the coordinator; every peer shares one queue of them.
type WorkItem struct {
	ID           int64
	InstanceID   int64
	InstanceType InstanceType
	WorkType     WorkType
	Step         Step
	HostID       int64

	// PreviousState and UpdateTime capture the VM at schedule time. The
	// state machine compares them against the live VM to detect user or
	// orchestrator actions that race with recovery.
	PreviousState VMState
	UpdateTime    int64

	TimesTried int

	// TimeToTry is the earliest epoch-seconds at which the item is
	// eligible. Zero means immediately.
	TimeToTry int64

	// DateTaken and ServerID form the lease. Both set on claim, both
	// cleared on release.
	DateTaken *time.Time
	ServerID  *string

	Reason ReasonType

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Taken reports whether a peer currently holds the lease.
func (w *WorkItem) Taken() bool {
	return w.ServerID != nil
}

// CanScheduleNew reports whether enough time has passed since this item
// was last taken for a fresh retry budget. Used when carrying timesTried
// forward onto newly scheduled HA work for a flapping VM.
func (w *WorkItem) CanScheduleNew(timeBetweenFailures time.Duration) bool {
	if w.DateTaken == nil {
		return true
	}
	return time.Since(*w.DateTaken) > timeBetweenFailures
}
