package ha

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// restart drives the HA flow for one claimed item: investigate the VM,
// fence it if its state cannot be determined, force-stop it, then start it
// on surviving capacity. Returns the next retry time, or nil when the item
// is finished.
func (m *Manager) restart(work *types.WorkItem, logger zerolog.Logger) (*int64, error) {
	// Newer HA work for the same VM supersedes this item.
	future, err := m.store.ListFutureHaWorkForVm(work.InstanceID, work.ID)
	if err != nil {
		return nil, err
	}
	if len(future) > 0 {
		ids := make([]int64, 0, len(future))
		for _, item := range future {
			ids = append(ids, item.ID)
		}
		logger.Info().Ints64("newer_work", ids).Msg("cancelling this work item because newer ones have been scheduled")
		markTerminal(work, types.StepCancelled)
		return nil, nil
	}

	// Serialize: only one HA item per VM executes at a time.
	running, err := m.store.ListRunningHaWorkForVm(work.InstanceID)
	if err != nil {
		return nil, err
	}
	others := 0
	for _, item := range running {
		if item.ID != work.ID {
			others++
		}
	}
	if others > 0 {
		logger.Info().Msg("waiting, HA work for this VM is being executed elsewhere")
		return next(m.cfg.InvestigateRetryIntervalSec), nil
	}

	vm, err := m.deps.Inventory.VMByID(work.InstanceID)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		logger.Info().Int64("vm_id", work.InstanceID).Msg("unable to find vm")
		return nil, nil
	}

	if m.checkAndCancelWorkIfNeeded(work, logger) {
		return nil, nil
	}

	logger.Info().Str("vm", vm.Name).Msg("HA on VM")
	if vm.State != work.PreviousState || vm.Updated != work.UpdateTime {
		logger.Info().Str("state", string(vm.State)).Str("previous_state", string(work.PreviousState)).
			Int64("updated", vm.Updated).Int64("previous_updated", work.UpdateTime).
			Msg("VM has been changed, nothing to do")
		return nil, nil
	}

	alertType := alertTypeFor(vm.Type)

	host, err := m.deps.Inventory.HostByID(work.HostID)
	if err != nil {
		return nil, err
	}
	isHostRemoved := false
	if host == nil {
		host, err = m.deps.Inventory.HostByIDIncludingRemoved(work.HostID)
		if err != nil {
			return nil, err
		}
		if host != nil {
			logger.Debug().Int64("host_id", work.HostID).Msg("VM is no longer on its host, the host is removed")
			isHostRemoved = true
		}
	}
	if host == nil {
		return nil, fmt.Errorf("host %d is gone without a trace", work.HostID)
	}

	hostDesc := m.hostDesc(host)

	var alive *bool
	if work.Step == types.StepInvestigating {
		if !isHostRemoved {
			if vm.HostID == nil || *vm.HostID != work.HostID {
				logger.Info().Msg("VM is no longer on the host under investigation")
				return nil, nil
			}

			var investigator Investigator
			for _, it := range m.deps.Investigators {
				investigator = it
				result, ierr := it.IsVMAlive(vm, host)
				if ierr != nil {
					if errors.Is(ierr, ErrUnknownVM) {
						logger.Info().Str("investigator", it.Name()).Msg("investigator could not find the VM")
						continue
					}
					return nil, ierr
				}
				logger.Info().Str("investigator", it.Name()).Bool("alive", result).Msg("investigator verdict")
				alive = &result
				break
			}

			fenced := false
			if alive == nil {
				logger.Debug().Msg("fencing off VM that we don't know the state of")
				for _, fb := range m.deps.Fencers {
					result := fb.FenceOff(vm, host)
					logger.Info().Str("fencer", fb.Name()).Int("result", int(result)).Msg("fencer returned")
					if result == FenceSucceeded {
						fenced = true
						break
					}
				}
			} else if !*alive {
				fenced = true
			} else {
				logger.Debug().Str("investigator", investigator.Name()).Msg("VM is found to be alive")
				if host.Status == types.HostUp {
					logger.Info().Msg("VM is alive and the host is up, no need to restart it")
					return nil, nil
				}
				logger.Debug().Msg("rescheduling because the host is not up but the vm is alive")
				return next(m.cfg.InvestigateRetryIntervalSec), nil
			}

			if !fenced {
				logger.Debug().Msg("we were unable to fence off the VM")
				m.deps.Alerts.SendAlert(alertType, vm.ZoneID, vm.PodID,
					fmt.Sprintf("Unable to restart %s which was running on host %s", vm.Name, hostDesc),
					fmt.Sprintf("Unable to fence off VM, name: %s, id: %d which was running on host %s", vm.Name, vm.ID, hostDesc))
				return next(m.cfg.RestartRetryIntervalSec), nil
			}

			if err := m.deps.Orchestrator.AdvanceStop(vm.UUID, true); err != nil {
				return nil, fmt.Errorf("forced stop failed even though it handles its own errors: %w", err)
			}

			work.Step = types.StepScheduled
			if err := m.store.Update(work); err != nil {
				return nil, err
			}
		} else {
			logger.Debug().Msg("step is investigating but the host is removed, calling forced stop anyway")
			if err := m.deps.Orchestrator.AdvanceStop(vm.UUID, true); err != nil {
				return nil, fmt.Errorf("forced stop failed even though it handles its own errors: %w", err)
			}

			work.Step = types.StepScheduled
			if err := m.store.Update(work); err != nil {
				return nil, err
			}
		}
	}

	vm, err = m.deps.Inventory.VMByID(work.InstanceID)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		return nil, nil
	}

	if !m.cfg.ForceHA && !vm.HAEnabled {
		logger.Debug().Msg("VM is not HA enabled so we're done")
		return nil, nil
	}

	hostLost := isHostRemoved || host.Removed != nil || host.Status != types.HostUp
	if hostLost && m.deps.Volumes != nil && !m.deps.Volumes.CanVmRestartOnAnotherServer(vm.ID) {
		logger.Debug().Msg("VM can not restart on another server")
		return nil, nil
	}

	params := StartParams{}
	if m.cfg.Tag != "" {
		params[ParamHATag] = m.cfg.Tag
	}
	if work.WorkType == types.WorkHA {
		params[ParamHAOperation] = true
	}

	startErr := func() error {
		// Pools that keep per-node attachments must be detached everywhere
		// first, or the stale export blocks the attach on the new host.
		if host.Hypervisor == types.HypervisorKVM && m.deps.StoreDriver != nil {
			vols, verr := m.deps.Inventory.VolumesByVM(vm.ID)
			if verr != nil {
				return verr
			}
			for _, vol := range vols {
				if m.deps.StoreDriver.RequiresPreDetach(vol.PoolType) {
					if derr := m.deps.StoreDriver.DetachVolumeFromAllStorageNodes(vol); derr != nil {
						return derr
					}
				}
			}
		}
		return m.startVM(vm, params, nil)
	}()

	if errors.Is(startErr, ErrInsufficientCapacity) {
		// Original planner had no room; retry once on emergency capacity.
		logger.Warn().Msg("failed to deploy VM with original planner, sending HA planner")
		startErr = m.startVM(vm, params, m.HAPlanner())
	}

	if startErr == nil {
		started, serr := m.deps.Inventory.VMByID(vm.ID)
		if serr == nil && started != nil && started.State == types.VMStateRunning {
			message := fmt.Sprintf("HA starting VM: %s (%s)", started.Name, started.UUID)
			logger.Info().Str("vm", started.Name).Msg("HA is now restarting VM")
			m.deps.Alerts.SendAlert(alertType, vm.ZoneID, vm.PodID, message, message)
			return nil, nil
		}
		logger.Debug().Int64("retry_in", m.cfg.RestartRetryIntervalSec).Msg("VM is not running after start, rescheduling")
	} else {
		var subject, body string
		switch {
		case errors.Is(startErr, ErrInsufficientCapacity) || errors.Is(startErr, ErrInsufficientServerCapacity):
			subject = fmt.Sprintf("Unable to restart %s which was running on host %s", vm.Name, hostDesc)
			body = fmt.Sprintf("Insufficient capacity to restart VM, name: %s, id: %d uuid: %s which was running on host %s", vm.Name, vm.ID, vm.UUID, hostDesc)
		case errors.Is(startErr, ErrResourceUnavailable):
			subject = fmt.Sprintf("Unable to restart %s which was running on host %s", vm.Name, hostDesc)
			body = fmt.Sprintf("The resource is unavailable for trying to restart VM, name: %s, id: %d uuid: %s which was running on host %s", vm.Name, vm.ID, vm.UUID, hostDesc)
		case errors.Is(startErr, ErrConcurrentOperation):
			subject = fmt.Sprintf("Unable to restart %s which was running on host %s", vm.Name, hostDesc)
			body = fmt.Sprintf("Another operation is in the way of restarting VM, name: %s, id: %d uuid: %s which was running on host %s", vm.Name, vm.ID, vm.UUID, hostDesc)
		case errors.Is(startErr, ErrOperationTimedOut):
			subject = fmt.Sprintf("Unable to restart %s which was running on host %s", vm.Name, hostDesc)
			body = fmt.Sprintf("The operation timed out while trying to restart VM, name: %s, id: %d uuid: %s which was running on host %s", vm.Name, vm.ID, vm.UUID, hostDesc)
		default:
			return nil, startErr
		}
		logger.Warn().Err(startErr).Msg("unable to restart VM")
		m.deps.Alerts.SendAlert(alertType, vm.ZoneID, vm.PodID, subject, body)
	}

	// Refresh the schedule-time snapshot so the retry's staleness check
	// compares against what the failed attempt left behind.
	if vm, err = m.deps.Inventory.VMByID(work.InstanceID); err == nil && vm != nil {
		work.UpdateTime = vm.Updated
		work.PreviousState = vm.State
	}
	return next(m.cfg.RestartRetryIntervalSec), nil
}

// startVM routes the start through the VM type's dedicated lifecycle
// manager, falling back to the orchestrator for plain starts.
func (m *Manager) startVM(vm *types.VirtualMachine, params StartParams, planner Planner) error {
	switch vm.Type {
	case types.InstanceDomainRouter:
		if m.deps.Router != nil {
			return m.deps.Router.StartRouterForHA(vm, params, planner)
		}
	case types.InstanceConsoleProxy:
		if m.deps.Proxy != nil {
			return m.deps.Proxy.StartProxyForHA(vm, params, planner)
		}
	case types.InstanceSecondaryStorageVM:
		if m.deps.SecStorage != nil {
			return m.deps.SecStorage.StartSecStorageVMForHA(vm, params, planner)
		}
	case types.InstanceUser:
		if m.deps.UserVM != nil {
			return m.deps.UserVM.StartVirtualMachineForHA(vm, params, planner)
		}
	}
	return m.deps.Orchestrator.AdvanceStart(vm.UUID, params, planner)
}

// next converts a retry interval into an absolute epoch-seconds time.
func next(intervalSec int64) *int64 {
	t := time.Now().Unix() + intervalSec
	return &t
}
