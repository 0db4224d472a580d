package ha

import (
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// destroyVM removes a VM, stopping it first when it was still running.
// System VM types are expunged, console proxies and secondary-storage VMs
// through their dedicated managers; user VMs are destroyed recoverably.
func (m *Manager) destroyVM(work *types.WorkItem, logger zerolog.Logger) (*int64, error) {
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

	expunge := vm.Type.IsSystem()
	if !expunge && work.PreviousState == types.VMStateDestroyed {
		logger.Info().Str("state", string(vm.State)).Msg("vm already destroyed, throwing away the work")
		return nil, nil
	}

	destroyErr := func() error {
		if work.PreviousState == types.VMStateRunning {
			if err := m.deps.Orchestrator.AdvanceStop(vm.UUID, true); err != nil {
				return err
			}
		}
		if work.PreviousState == types.VMStateExpunging {
			logger.Info().Str("state", string(vm.State)).Msg("vm still expunging")
			return errStillExpunging
		}

		logger.Info().Str("vm", vm.Name).Msg("destroying vm")
		switch vm.Type {
		case types.InstanceConsoleProxy:
			if m.deps.Proxy != nil {
				return m.deps.Proxy.DestroyProxy(vm.ID)
			}
		case types.InstanceSecondaryStorageVM:
			if m.deps.SecStorage != nil {
				return m.deps.SecStorage.DestroySecStorageVM(vm.ID)
			}
		}
		return m.deps.Orchestrator.Destroy(vm.UUID, expunge)
	}()

	if destroyErr == nil {
		return nil, nil
	}
	if destroyErr == errStillExpunging || retryable(destroyErr) {
		logger.Debug().Err(destroyErr).Msg("destroy not finished, will retry")
		return next(m.cfg.StopRetryIntervalSec), nil
	}
	return nil, destroyErr
}

// errStillExpunging marks the wait-for-expunge retry path; it never leaves
// this file.
var errStillExpunging = &stillExpungingError{}

type stillExpungingError struct{}

func (e *stillExpungingError) Error() string { return "vm still expunging" }
