package simulator

import (
	"errors"
	"io"
	"testing"

	"github.com/cuemby/burrow/pkg/ha"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

func seeded() *Backend {
	b := NewBackend()
	b.AddZone(&types.Zone{ID: 1, Name: "zone1"})
	b.AddPod(&types.Pod{ID: 1, Name: "pod1", ZoneID: 1})
	b.AddHost(&types.Host{ID: 1, Name: "h1", Type: types.HostTypeRouting, Status: types.HostUp, ZoneID: 1, PodID: 1})
	b.AddHost(&types.Host{ID: 2, Name: "h2", Type: types.HostTypeRouting, Status: types.HostUp, ZoneID: 1, PodID: 1})
	host := int64(1)
	b.AddVM(&types.VirtualMachine{
		ID: 10, UUID: "u-10", Name: "vm10", Type: types.InstanceUser,
		State: types.VMStateRunning, HostID: &host, ZoneID: 1, PodID: 1, HAEnabled: true,
	})
	return b
}

func TestStopAndStartTransitions(t *testing.T) {
	b := seeded()

	require.NoError(t, b.AdvanceStop("u-10", true))
	vm, _ := b.VMByUUID("u-10")
	assert.Equal(t, types.VMStateStopped, vm.State)
	assert.Nil(t, vm.HostID)

	require.NoError(t, b.AdvanceStart("u-10", nil, nil))
	vm, _ = b.VMByUUID("u-10")
	assert.Equal(t, types.VMStateRunning, vm.State)
	require.NotNil(t, vm.HostID)
}

func TestStartFailsWithNoCapacity(t *testing.T) {
	b := seeded()
	b.SetHostStatus(1, types.HostDown)
	b.SetHostStatus(2, types.HostDown)
	require.NoError(t, b.AdvanceStop("u-10", true))

	err := b.AdvanceStart("u-10", nil, nil)
	assert.True(t, errors.Is(err, ha.ErrInsufficientCapacity))
}

func TestMigrateAwayMovesOffSource(t *testing.T) {
	b := seeded()

	require.NoError(t, b.MigrateAway("u-10", 1))
	vm, _ := b.VMByUUID("u-10")
	require.NotNil(t, vm.HostID)
	assert.Equal(t, int64(2), *vm.HostID)

	b.SetHostStatus(1, types.HostDown)
	err := b.MigrateAway("u-10", 2)
	assert.True(t, errors.Is(err, ha.ErrInsufficientServerCapacity))
}

func TestInvestigatorAnswersFromHostTable(t *testing.T) {
	b := seeded()
	inv := &AgentInvestigator{Backend: b}

	host, _ := b.HostByID(1)
	status, ok := inv.IsAgentAlive(host)
	require.True(t, ok)
	assert.Equal(t, types.HostUp, status)

	vm, _ := b.VMByID(10)
	alive, err := inv.IsVMAlive(vm, host)
	require.NoError(t, err)
	assert.True(t, alive)

	b.SetHostStatus(1, types.HostDown)
	alive, err = inv.IsVMAlive(vm, host)
	require.NoError(t, err)
	assert.False(t, alive)

	_, err = inv.IsVMAlive(&types.VirtualMachine{ID: 999}, host)
	assert.True(t, errors.Is(err, ha.ErrUnknownVM))
}

func TestLocalRootDiskPinsVM(t *testing.T) {
	b := seeded()
	host := int64(1)
	b.AddVM(&types.VirtualMachine{
		ID: 11, UUID: "u-11", Name: "vm11", Type: types.InstanceUser,
		State: types.VMStateRunning, HostID: &host, ZoneID: 1, PodID: 1,
	}, &types.Volume{ID: 1, VMID: 11, PoolType: types.PoolLocal, RootDisk: true})

	assert.False(t, b.CanVmRestartOnAnotherServer(11))
	assert.True(t, b.CanVmRestartOnAnotherServer(10))
}
