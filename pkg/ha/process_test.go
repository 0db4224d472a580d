package ha

import (
	"fmt"
	"testing"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProcessWorkGateOffReschedules: a claimed item in a disabled zone is
// pushed back instead of executed, so disabling loses no work.
func TestProcessWorkGateOffReschedules(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(60, 1))

	require.True(t, rig.m.ScheduleStop(vm, 1, types.WorkStop, types.ReasonUnknown))
	work := rig.takeWork(t)

	// Operator disables the zone between claim and execution.
	rig.gates.SetHAEnabled(1, false)

	rig.m.processWork(work, log.WithWorkID(work.ID))

	assert.Empty(t, rig.orch.stops)

	final := rig.reload(t, work.ID)
	assert.Equal(t, types.StepScheduled, final.Step)
	assert.Equal(t, 1, final.TimesTried)
	assert.Greater(t, final.TimeToTry, int64(0))
	assert.Nil(t, final.ServerID)
}

// TestProcessWorkGivesUp: the retry budget is a hard ceiling; on reaching
// it the item finishes as given up.
func TestProcessWorkGivesUp(t *testing.T) {
	rig := newTestRig(t, func(d *Deps, cfg *config.HAConfig) {
		cfg.MaxRetries = 2
	})
	rig.inv.addHost(routingHost(1, types.HostUp))
	vm := rig.inv.addVM(runningVM(60, 1))
	rig.orch.stopErr = fmt.Errorf("agent: %w", ErrAgentUnavailable)

	require.True(t, rig.m.ScheduleStop(vm, 1, types.WorkStop, types.ReasonUnknown))
	work := rig.takeWork(t)

	// Attempt 1: rescheduled.
	rig.m.processWork(work, log.WithWorkID(work.ID))
	mid := rig.reload(t, work.ID)
	require.Equal(t, 1, mid.TimesTried)
	require.False(t, mid.Step.Terminal())

	mid.TimeToTry = 0
	require.NoError(t, rig.store.Update(mid))
	work = rig.takeWork(t)

	// Attempt 2 hits the ceiling.
	rig.m.processWork(work, log.WithWorkID(work.ID))
	final := rig.reload(t, work.ID)
	assert.Equal(t, types.StepDone, final.Step)
	assert.Equal(t, 2, final.TimesTried)
	assert.LessOrEqual(t, final.TimesTried, rig.m.cfg.MaxRetries)
}

// TestProcessWorkUnexpectedErrorRefreshesSnapshot: a step that dies
// mid-flight reschedules generically and recaptures the VM state so the
// retry's staleness checks work against reality.
func TestProcessWorkUnexpectedErrorRefreshesSnapshot(t *testing.T) {
	rig := newTestRig(t)
	rig.inv.addHost(routingHost(2, types.HostUp))
	vm := rig.inv.addVM(runningVM(61, 2))
	rig.orch.migrateErr = fmt.Errorf("wire torn in half")

	require.True(t, rig.m.ScheduleMigration(vm, types.ReasonHostMaintenance))
	work := rig.takeWork(t)

	// The failed attempt leaves the VM changed.
	vm.Updated = 99

	rig.m.processWork(work, log.WithWorkID(work.ID))

	final := rig.reload(t, work.ID)
	assert.False(t, final.Step.Terminal())
	assert.Equal(t, 1, final.TimesTried)
	assert.Equal(t, int64(99), final.UpdateTime)
	assert.Equal(t, vm.State, final.PreviousState)
}

// TestProcessWorkPanicIsOneAttempt: a panicking collaborator costs one
// retry, not the worker.
func TestProcessWorkPanicIsOneAttempt(t *testing.T) {
	rig := newTestRig(t, func(d *Deps, cfg *config.HAConfig) {
		d.Investigators = []Investigator{&panickyInvestigator{}}
	})
	rig.inv.addHost(routingHost(1, types.HostDown))
	vm := rig.inv.addVM(runningVM(62, 1))

	rig.m.ScheduleRestart(vm, true, types.ReasonHostDown)
	work := rig.takeWork(t)

	rig.m.processWork(work, log.WithWorkID(work.ID))

	final := rig.reload(t, work.ID)
	assert.False(t, final.Step.Terminal())
	assert.Equal(t, 1, final.TimesTried)
}

type panickyInvestigator struct{}

func (p *panickyInvestigator) Name() string { return "panicky" }

func (p *panickyInvestigator) IsAgentAlive(host *types.Host) (types.HostStatus, bool) {
	return types.HostUnknown, false
}

func (p *panickyInvestigator) IsVMAlive(vm *types.VirtualMachine, host *types.Host) (bool, error) {
	panic("investigator lost its mind")
}
