package ha

import (
	"fmt"
	"testing"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleStop(t *testing.T, rig *testRig, vm *types.VirtualMachine, workType types.WorkType) *types.WorkItem {
	t.Helper()
	require.True(t, rig.m.ScheduleStop(vm, *vm.HostID, workType, types.ReasonUnknown))
	return rig.takeWork(t)
}

// TestStopUnconditional: a plain Stop runs without guards.
func TestStopUnconditional(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))

	work := scheduleStop(t, rig, vm, types.WorkStop)
	rig.m.processWork(work, log.WithWorkID(work.ID))

	require.Len(t, rig.orch.stops, 1)
	assert.False(t, rig.orch.stops[0].force)
	assert.Equal(t, types.StepDone, rig.reload(t, work.ID).Step)
}

// TestCheckStopGuard: CheckStop never stops once the VM drifted from its
// schedule-time snapshot.
func TestCheckStopGuard(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(vm *types.VirtualMachine)
	}{
		{
			name:   "state changed",
			mutate: func(vm *types.VirtualMachine) { vm.State = types.VMStateStopping },
		},
		{
			name:   "update counter bumped",
			mutate: func(vm *types.VirtualMachine) { vm.Updated++ },
		},
		{
			name:   "vm moved to another host",
			mutate: func(vm *types.VirtualMachine) { vm.HostID = int64ptr(9) },
		},
		{
			name:   "vm lost its host",
			mutate: func(vm *types.VirtualMachine) { vm.HostID = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.inv.addHost(routingHost(1, types.HostUp))
			vm := rig.inv.addVM(runningVM(30, 1))

			work := scheduleStop(t, rig, vm, types.WorkCheckStop)
			tt.mutate(vm)
			rig.m.processWork(work, log.WithWorkID(work.ID))

			assert.Empty(t, rig.orch.stops)
			assert.Equal(t, types.StepDone, rig.reload(t, work.ID).Step)
		})
	}
}

// TestCheckStopRuns: with an unchanged VM the stop goes through without
// force.
func TestCheckStopRuns(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))

	work := scheduleStop(t, rig, vm, types.WorkCheckStop)
	rig.m.processWork(work, log.WithWorkID(work.ID))

	require.Len(t, rig.orch.stops, 1)
	assert.False(t, rig.orch.stops[0].force)
	assert.Equal(t, types.StepDone, rig.reload(t, work.ID).Step)
}

// TestForceStopRuns: same guard as CheckStop but the stop is forced.
func TestForceStopRuns(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))

	work := scheduleStop(t, rig, vm, types.WorkForceStop)
	rig.m.processWork(work, log.WithWorkID(work.ID))

	require.Len(t, rig.orch.stops, 1)
	assert.True(t, rig.orch.stops[0].force)
	assert.Equal(t, types.StepDone, rig.reload(t, work.ID).Step)
}

// TestStopRetriesOnAgentFailure: transient collaborator failures cost one
// attempt and reschedule on the stop interval.
func TestStopRetriesOnAgentFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))
	rig.orch.stopErr = fmt.Errorf("agent on host 1: %w", ErrOperationTimedOut)

	work := scheduleStop(t, rig, vm, types.WorkStop)
	rig.m.processWork(work, log.WithWorkID(work.ID))

	final := rig.reload(t, work.ID)
	assert.Equal(t, types.StepScheduled, final.Step)
	assert.Equal(t, 1, final.TimesTried)
	assert.Nil(t, final.ServerID)
	assert.Nil(t, final.DateTaken)
}

// TestStopGoneVM: work for a VM that no longer exists is thrown away.
func TestStopGoneVM(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))

	work := scheduleStop(t, rig, vm, types.WorkStop)
	delete(rig.inv.vms, vm.ID)

	rig.m.processWork(work, log.WithWorkID(work.ID))

	assert.Empty(t, rig.orch.stops)
	assert.Equal(t, types.StepDone, rig.reload(t, work.ID).Step)
}

// TestScheduleStopRejectsWrongType only stop flavors are accepted.
func TestScheduleStopRejectsWrongType(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(30, 1))

	assert.False(t, rig.m.ScheduleStop(vm, 1, types.WorkMigration, types.ReasonUnknown))
	assert.False(t, rig.m.ScheduleStop(vm, 1, types.WorkHA, types.ReasonUnknown))
}
