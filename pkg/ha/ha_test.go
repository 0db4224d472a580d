package ha

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

// fakeInventory is an in-memory Inventory for tests.
type fakeInventory struct {
	mu      sync.RWMutex
	hosts   map[int64]*types.Host
	removed map[int64]*types.Host
	vms     map[int64]*types.VirtualMachine
	byUUID  map[string]int64
	vols    map[int64][]*types.Volume
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		hosts:   make(map[int64]*types.Host),
		removed: make(map[int64]*types.Host),
		vms:     make(map[int64]*types.VirtualMachine),
		byUUID:  make(map[string]int64),
		vols:    make(map[int64][]*types.Volume),
	}
}

func (f *fakeInventory) addHost(h *types.Host) *types.Host {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts[h.ID] = h
	return h
}

func (f *fakeInventory) removeHost(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.hosts[id]; ok {
		f.removed[id] = h
		delete(f.hosts, id)
	}
}

func (f *fakeInventory) addVM(vm *types.VirtualMachine) *types.VirtualMachine {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vms[vm.ID] = vm
	f.byUUID[vm.UUID] = vm.ID
	return vm
}

func (f *fakeInventory) HostByID(id int64) (*types.Host, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hosts[id], nil
}

func (f *fakeInventory) HostByIDIncludingRemoved(id int64) (*types.Host, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if h, ok := f.hosts[id]; ok {
		return h, nil
	}
	return f.removed[id], nil
}

func (f *fakeInventory) VMByID(id int64) (*types.VirtualMachine, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.vms[id], nil
}

func (f *fakeInventory) VMByUUID(uuid string) (*types.VirtualMachine, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byUUID[uuid]
	if !ok {
		return nil, nil
	}
	return f.vms[id], nil
}

func (f *fakeInventory) VMsOnHost(hostID int64) ([]*types.VirtualMachine, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*types.VirtualMachine
	for _, vm := range f.vms {
		if vm.HostID != nil && *vm.HostID == hostID {
			out = append(out, vm)
		}
	}
	return out, nil
}

func (f *fakeInventory) ZoneByID(id int64) (*types.Zone, error) {
	return &types.Zone{ID: id, Name: fmt.Sprintf("zone%d", id)}, nil
}

func (f *fakeInventory) PodByID(id int64) (*types.Pod, error) {
	return &types.Pod{ID: id, Name: fmt.Sprintf("pod%d", id)}, nil
}

func (f *fakeInventory) VolumesByVM(vmID int64) ([]*types.Volume, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.vols[vmID], nil
}

type stopCall struct {
	uuid  string
	force bool
}

type startCall struct {
	uuid    string
	planner Planner
}

// fakeOrchestrator records lifecycle calls and fails them on demand.
type fakeOrchestrator struct {
	mu sync.Mutex

	stops      []stopCall
	starts     []startCall
	migrations []string
	destroys   []string

	stopErr    error
	startErrs  []error // popped per call; nil entry means success
	migrateErr error
	destroyErr error

	localStorage map[int64]bool

	// onStart mutates inventory state when a start succeeds, standing in
	// for the orchestrator actually placing the VM.
	onStart func(uuid string)
	// onStop mirrors a successful stop into inventory state.
	onStop func(uuid string)
}

func (f *fakeOrchestrator) AdvanceStop(uuid string, force bool) error {
	f.mu.Lock()
	f.stops = append(f.stops, stopCall{uuid, force})
	err := f.stopErr
	onStop := f.onStop
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onStop != nil {
		onStop(uuid)
	}
	return nil
}

func (f *fakeOrchestrator) AdvanceStart(uuid string, params StartParams, planner Planner) error {
	f.mu.Lock()
	f.starts = append(f.starts, startCall{uuid, planner})
	var err error
	if len(f.startErrs) > 0 {
		err = f.startErrs[0]
		f.startErrs = f.startErrs[1:]
	}
	onStart := f.onStart
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if onStart != nil {
		onStart(uuid)
	}
	return nil
}

func (f *fakeOrchestrator) MigrateAway(uuid string, srcHostID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.migrations = append(f.migrations, uuid)
	return f.migrateErr
}

func (f *fakeOrchestrator) Destroy(uuid string, expunge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys = append(f.destroys, uuid)
	return f.destroyErr
}

func (f *fakeOrchestrator) IsRootVolumeOnLocalStorage(vmID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localStorage[vmID], nil
}

type alertRecord struct {
	alertType AlertType
	subject   string
}

// fakeAlerts records alerts.
type fakeAlerts struct {
	mu     sync.Mutex
	alerts []alertRecord
}

func (f *fakeAlerts) SendAlert(alertType AlertType, zoneID, podID int64, subject, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alertRecord{alertType, subject})
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

// fakeInvestigator answers from fixed fields.
type fakeInvestigator struct {
	name       string
	hostStatus types.HostStatus
	hostKnown  bool
	vmAlive    bool
	vmErr      error
}

func (f *fakeInvestigator) Name() string { return f.name }

func (f *fakeInvestigator) IsAgentAlive(host *types.Host) (types.HostStatus, bool) {
	return f.hostStatus, f.hostKnown
}

func (f *fakeInvestigator) IsVMAlive(vm *types.VirtualMachine, host *types.Host) (bool, error) {
	if f.vmErr != nil {
		return false, f.vmErr
	}
	return f.vmAlive, nil
}

// fakeFencer returns a fixed result and counts invocations.
type fakeFencer struct {
	name   string
	result FenceResult
	calls  int
}

func (f *fakeFencer) Name() string { return f.name }

func (f *fakeFencer) FenceOff(vm *types.VirtualMachine, host *types.Host) FenceResult {
	f.calls++
	return f.result
}

type fakePlanner struct{ name string }

func (p *fakePlanner) Name() string { return p.name }

// fakeVolumes answers CanVmRestartOnAnotherServer from a set.
type fakeVolumes struct {
	pinned map[int64]bool
}

func (f *fakeVolumes) CanVmRestartOnAnotherServer(vmID int64) bool {
	return !f.pinned[vmID]
}

// fakeResources records failed evacuations.
type fakeResources struct {
	mu     sync.Mutex
	failed []int64
}

func (f *fakeResources) MigrateAwayFailed(hostID, vmID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, vmID)
}

// testRig bundles a Manager with all its fakes.
type testRig struct {
	m     *Manager
	store storage.Store
	inv   *fakeInventory
	orch  *fakeOrchestrator
	alert *fakeAlerts
	res   *fakeResources
	gates *config.Gates
	cfg   config.HAConfig
}

func newTestRig(t *testing.T, mutate ...func(*Deps, *config.HAConfig)) *testRig {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	inv := newFakeInventory()
	orch := &fakeOrchestrator{localStorage: make(map[int64]bool)}
	alert := &fakeAlerts{}
	res := &fakeResources{}

	cfg := config.Default().HA
	cfg.Workers = 1
	cfg.TimeToSleepSec = 1

	deps := Deps{
		Store:        store,
		Inventory:    inv,
		Orchestrator: orch,
		Alerts:       alert,
		Resources:    res,
		Volumes:      &fakeVolumes{pinned: make(map[int64]bool)},
		HAPlanners:   []Planner{&fakePlanner{name: "ha-planner"}},
	}
	for _, fn := range mutate {
		fn(&deps, &cfg)
	}

	gates := config.NewGates(cfg)
	m := NewManager("ms-1", cfg, gates, deps)
	require.NoError(t, m.Configure())

	return &testRig{m: m, store: store, inv: inv, orch: orch, alert: alert, res: res, gates: gates, cfg: cfg}
}

func int64ptr(v int64) *int64 { return &v }

// runningVM builds a running HA-enabled VM on the given host.
func runningVM(id int64, hostID int64) *types.VirtualMachine {
	return &types.VirtualMachine{
		ID:         id,
		UUID:       fmt.Sprintf("vm-uuid-%d", id),
		Name:       fmt.Sprintf("vm-%d", id),
		Type:       types.InstanceUser,
		State:      types.VMStateRunning,
		Hypervisor: types.HypervisorKVM,
		HostID:     int64ptr(hostID),
		ZoneID:     1,
		PodID:      1,
		Updated:    7,
		HAEnabled:  true,
	}
}

func routingHost(id int64, status types.HostStatus) *types.Host {
	return &types.Host{
		ID:         id,
		Name:       fmt.Sprintf("host-%d", id),
		Type:       types.HostTypeRouting,
		Hypervisor: types.HypervisorKVM,
		Status:     status,
		ZoneID:     1,
		PodID:      1,
	}
}

// takeWork claims the single eligible work item for the rig's peer.
func (r *testRig) takeWork(t *testing.T) *types.WorkItem {
	t.Helper()
	work, err := r.store.Take("ms-1")
	require.NoError(t, err)
	require.NotNil(t, work)
	return work
}

// reload fetches the current persisted copy of a work item.
func (r *testRig) reload(t *testing.T, id int64) *types.WorkItem {
	t.Helper()
	work, err := r.store.FindByID(id)
	require.NoError(t, err)
	require.NotNil(t, work)
	return work
}
