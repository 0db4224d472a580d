package simulator

import (
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Backend is an in-memory management plane used for development and tests.
// It implements the coordinator's collaborator contracts with simple state
// transitions: stops stop, starts place the VM on any Up routing host,
// migrations move it to another Up host.
type Backend struct {
	mu      sync.RWMutex
	hosts   map[int64]*types.Host
	vms     map[int64]*types.VirtualMachine
	byUUID  map[string]int64
	volumes map[int64][]*types.Volume
	zones   map[int64]*types.Zone
	pods    map[int64]*types.Pod
}

// NewBackend creates an empty simulated management plane.
func NewBackend() *Backend {
	return &Backend{
		hosts:   make(map[int64]*types.Host),
		vms:     make(map[int64]*types.VirtualMachine),
		byUUID:  make(map[string]int64),
		volumes: make(map[int64][]*types.Volume),
		zones:   make(map[int64]*types.Zone),
		pods:    make(map[int64]*types.Pod),
	}
}

// AddZone registers a zone.
func (b *Backend) AddZone(zone *types.Zone) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zones[zone.ID] = zone
}

// AddPod registers a pod.
func (b *Backend) AddPod(pod *types.Pod) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pods[pod.ID] = pod
}

// AddHost registers a host.
func (b *Backend) AddHost(host *types.Host) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[host.ID] = host
}

// AddVM registers a VM, optionally with volumes.
func (b *Backend) AddVM(vm *types.VirtualMachine, vols ...*types.Volume) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vms[vm.ID] = vm
	b.byUUID[vm.UUID] = vm.ID
	if len(vols) > 0 {
		b.volumes[vm.ID] = vols
	}
}

// SetHostStatus flips a host's liveness verdict.
func (b *Backend) SetHostStatus(hostID int64, status types.HostStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.hosts[hostID]; ok {
		h.Status = status
	}
}

// Inventory contract.

func (b *Backend) HostByID(id int64) (*types.Host, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.hosts[id]
	if !ok || h.Removed != nil {
		return nil, nil
	}
	return h, nil
}

func (b *Backend) HostByIDIncludingRemoved(id int64) (*types.Host, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hosts[id], nil
}

func (b *Backend) VMByID(id int64) (*types.VirtualMachine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vms[id], nil
}

func (b *Backend) VMByUUID(uuid string) (*types.VirtualMachine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byUUID[uuid]
	if !ok {
		return nil, nil
	}
	return b.vms[id], nil
}

func (b *Backend) VMsOnHost(hostID int64) ([]*types.VirtualMachine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*types.VirtualMachine
	for _, vm := range b.vms {
		if vm.HostID != nil && *vm.HostID == hostID {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (b *Backend) ZoneByID(id int64) (*types.Zone, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.zones[id], nil
}

func (b *Backend) PodByID(id int64) (*types.Pod, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pods[id], nil
}

func (b *Backend) VolumesByVM(vmID int64) ([]*types.Volume, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volumes[vmID], nil
}

// Orchestrator contract.

func (b *Backend) AdvanceStop(uuid string, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.lookup(uuid)
	if vm == nil {
		return fmt.Errorf("vm %s: %w", uuid, ha.ErrResourceUnavailable)
	}
	vm.State = types.VMStateStopped
	vm.LastHostID = vm.HostID
	vm.HostID = nil
	vm.Updated++
	return nil
}

func (b *Backend) AdvanceStart(uuid string, params ha.StartParams, planner ha.Planner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.lookup(uuid)
	if vm == nil {
		return fmt.Errorf("vm %s: %w", uuid, ha.ErrResourceUnavailable)
	}
	host := b.pickUpHost()
	if host == nil {
		return fmt.Errorf("no host has room for %s: %w", uuid, ha.ErrInsufficientCapacity)
	}
	id := host.ID
	vm.HostID = &id
	vm.State = types.VMStateRunning
	vm.Updated++
	return nil
}

func (b *Backend) MigrateAway(uuid string, srcHostID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.lookup(uuid)
	if vm == nil {
		return fmt.Errorf("vm %s: %w", uuid, ha.ErrResourceUnavailable)
	}
	for _, h := range b.hosts {
		if h.ID != srcHostID && h.Status == types.HostUp && h.Type == types.HostTypeRouting {
			id := h.ID
			vm.LastHostID = vm.HostID
			vm.HostID = &id
			vm.Updated++
			return nil
		}
	}
	return fmt.Errorf("no migration target for %s: %w", uuid, ha.ErrInsufficientServerCapacity)
}

func (b *Backend) Destroy(uuid string, expunge bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	vm := b.lookup(uuid)
	if vm == nil {
		return nil
	}
	if expunge {
		vm.State = types.VMStateExpunging
	} else {
		vm.State = types.VMStateDestroyed
	}
	vm.HostID = nil
	vm.Updated++
	return nil
}

func (b *Backend) IsRootVolumeOnLocalStorage(vmID int64) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, vol := range b.volumes[vmID] {
		if vol.RootDisk && vol.PoolType == types.PoolLocal {
			return true, nil
		}
	}
	return false, nil
}

// CanVmRestartOnAnotherServer implements ha.VolumeOrchestrator: local
// root disks pin the VM to its host.
func (b *Backend) CanVmRestartOnAnotherServer(vmID int64) bool {
	local, _ := b.IsRootVolumeOnLocalStorage(vmID)
	return !local
}

// MigrateAwayFailed implements ha.ResourceManager.
func (b *Backend) MigrateAwayFailed(hostID, vmID int64) {
	hlog := log.WithHostID(hostID)
	hlog.Debug().Int64("vm_id", vmID).Msg("noted failed evacuation")
}

func (b *Backend) lookup(uuid string) *types.VirtualMachine {
	id, ok := b.byUUID[uuid]
	if !ok {
		return nil
	}
	return b.vms[id]
}

func (b *Backend) pickUpHost() *types.Host {
	for _, h := range b.hosts {
		if h.Status == types.HostUp && h.Type == types.HostTypeRouting {
			return h
		}
	}
	return nil
}

// AgentInvestigator is a simulator liveness oracle: it answers straight
// from the backend's host status table.
type AgentInvestigator struct {
	Backend *Backend
}

func (i *AgentInvestigator) Name() string { return "simulator-agent" }

func (i *AgentInvestigator) IsAgentAlive(host *types.Host) (types.HostStatus, bool) {
	i.Backend.mu.RLock()
	defer i.Backend.mu.RUnlock()
	h, ok := i.Backend.hosts[host.ID]
	if !ok {
		return types.HostUnknown, false
	}
	return h.Status, true
}

func (i *AgentInvestigator) IsVMAlive(vm *types.VirtualMachine, host *types.Host) (bool, error) {
	i.Backend.mu.RLock()
	defer i.Backend.mu.RUnlock()
	cur, ok := i.Backend.vms[vm.ID]
	if !ok {
		return false, ha.ErrUnknownVM
	}
	h := i.Backend.hosts[host.ID]
	if h == nil || h.Status != types.HostUp {
		return false, nil
	}
	return cur.State == types.VMStateRunning, nil
}

// NullFencer always succeeds: in the simulator there is no real storage to
// isolate.
type NullFencer struct{}

func (f *NullFencer) Name() string { return "simulator-fencer" }

func (f *NullFencer) FenceOff(vm *types.VirtualMachine, host *types.Host) ha.FenceResult {
	return ha.FenceSucceeded
}

// LogAlerter writes alerts to the log instead of paging anyone.
type LogAlerter struct{}

func (a *LogAlerter) SendAlert(alertType ha.AlertType, zoneID, podID int64, subject, body string) {
	alog := log.WithComponent("alerts")
	alog.Warn().
		Str("type", string(alertType)).Int64("zone", zoneID).Int64("pod", podID).
		Str("subject", subject).Msg(body)
}

// FirstFitPlanner is the emergency planner handed to restart retries.
type FirstFitPlanner struct{}

func (p *FirstFitPlanner) Name() string { return "first-fit-ha" }
