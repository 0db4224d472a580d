package ha

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// stopVM executes the Stop, CheckStop and ForceStop flows. The checked
// variants only act when the VM still looks exactly as it did at schedule
// time; any observed change means someone else already handled it.
func (m *Manager) stopVM(work *types.WorkItem, logger zerolog.Logger) (*int64, error) {
	vm, err := m.deps.Inventory.VMByID(work.InstanceID)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		logger.Info().Int64("vm_id", work.InstanceID).Msg("no longer can find the vm, throwing away the work")
		return nil, nil
	}

	if m.checkAndCancelWorkIfNeeded(work, logger) {
		return nil, nil
	}

	logger.Info().Str("vm", vm.Name).Msg("stopping vm")

	var stopErr error
	switch work.WorkType {
	case types.WorkStop:
		stopErr = m.deps.Orchestrator.AdvanceStop(vm.UUID, false)

	case types.WorkCheckStop:
		if stopGuardFails(vm, work) {
			logger.Info().Str("state", string(vm.State)).Msg("vm is different now, skipping stop")
			return nil, nil
		}
		stopErr = m.deps.Orchestrator.AdvanceStop(vm.UUID, false)

	case types.WorkForceStop:
		if stopGuardFails(vm, work) {
			logger.Info().Str("state", string(vm.State)).Msg("vm is different now, skipping stop")
			return nil, nil
		}
		stopErr = m.deps.Orchestrator.AdvanceStop(vm.UUID, true)

	default:
		return nil, fmt.Errorf("work type %q reached the stop path", work.WorkType)
	}

	if stopErr == nil {
		logger.Info().Msg("stop was successful")
		return nil, nil
	}
	if retryable(stopErr) {
		logger.Debug().Err(stopErr).Msg("stop failed, will retry")
		return next(m.cfg.StopRetryIntervalSec), nil
	}
	return nil, stopErr
}

// stopGuardFails reports whether the VM drifted from its schedule-time
// snapshot: different state, different update counter, or a different (or
// no) host.
func stopGuardFails(vm *types.VirtualMachine, work *types.WorkItem) bool {
	return vm.State != work.PreviousState ||
		vm.Updated != work.UpdateTime ||
		vm.HostID == nil ||
		*vm.HostID != work.HostID
}
