package ha

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Investigate synchronously asks the investigators for the host's status.
// Returns Alert when the host is unknown or the feature gate is off, and
// Unknown when no investigator has an answer.
func (m *Manager) Investigate(hostID int64) types.HostStatus {
	host, err := m.deps.Inventory.HostByID(hostID)
	if err != nil || host == nil {
		return types.HostAlert
	}

	if !m.gates.HAEnabledIn(host.ZoneID) {
		msg := fmt.Sprintf("Unable to investigate host %s (%d), VM high availability manager is disabled", host.Name, hostID)
		m.logger.Debug().Msg(msg)
		m.sendHostAlert(host, msg)
		return types.HostAlert
	}

	hlog := log.WithHostID(hostID)
	for _, inv := range m.deps.Investigators {
		if status, ok := inv.IsAgentAlive(host); ok {
			hlog.Debug().Str("investigator", inv.Name()).Str("status", string(status)).Msg("investigator determined host status")
			return status
		}
		hlog.Debug().Str("investigator", inv.Name()).Msg("unable to determine host status, moving on")
	}

	return types.HostUnknown
}

// ScheduleRestartForVmsOnHost schedules HA restart for every eligible VM
// on a failed host and sends the aggregate host-down alert. System VMs are
// scheduled before user VMs so the infrastructure they provide comes back
// first.
func (m *Manager) ScheduleRestartForVmsOnHost(host *types.Host, investigate bool, reason types.ReasonType) {
	if host.Type != types.HostTypeRouting {
		return
	}

	hlog := log.WithHostID(host.ID)
	if m.cfg.HasHostSideHA(host.Hypervisor) {
		hlog.Info().Str("hypervisor", string(host.Hypervisor)).Msg("not restarting VMs, the host stack handles HA itself")
		return
	}

	if !m.gates.HAEnabledIn(host.ZoneID) {
		msg := fmt.Sprintf("Unable to schedule restart for VMs on host %s, VM high availability manager is disabled", host.Name)
		hlog.Debug().Msg(msg)
		m.sendHostAlert(host, msg)
		return
	}

	hlog.Warn().Msg("scheduling restart for VMs on host")

	vms, err := m.deps.Inventory.VMsOnHost(host.ID)
	if err != nil {
		hlog.Error().Err(err).Msg("failed to list VMs on host")
		return
	}

	// Collect HA-enabled VM names for the alert and reorder so system VMs
	// come first.
	var haNames []string
	reordered := make([]*types.VirtualMachine, 0, len(vms))
	for _, vm := range vms {
		if vm.Type == types.InstanceUser {
			reordered = append(reordered, vm)
		} else {
			reordered = append([]*types.VirtualMachine{vm}, reordered...)
		}
		if vm.HAEnabled {
			haNames = append(haNames, vm.Name)
		}
	}

	hostDesc := m.hostDesc(host)
	body := fmt.Sprintf("Host [%s] is down.", hostDesc)
	if len(haNames) > 0 {
		body += " Starting HA on the following VMs:"
		for _, name := range haNames {
			body += " " + name
		}
	}
	m.deps.Alerts.SendAlert(AlertHost, host.ZoneID, host.PodID, "Host is down, "+hostDesc, body)

	for _, vm := range reordered {
		local, err := m.deps.Orchestrator.IsRootVolumeOnLocalStorage(vm.ID)
		if err == nil && local {
			hlog.Debug().Int64("vm_id", vm.ID).Msg("skipping HA, VM uses local storage and its fate is tied to the host")
			continue
		}

		// Re-resolve; the VM may already have moved on.
		vm, err = m.deps.Inventory.VMByUUID(vm.UUID)
		if err != nil || vm == nil {
			continue
		}
		if vm.HostID != nil && *vm.HostID != host.ID {
			hlog.Debug().Int64("vm_id", vm.ID).Int64("current_host", *vm.HostID).Msg("VM is no longer on the down host, HA is done")
			continue
		}
		m.ScheduleRestart(vm, investigate, reason)
	}
}

// ScheduleRestart enqueues HA restart work for one VM. When investigate is
// false the VM is known dead and is force-stopped up front to normalize
// its state.
func (m *Manager) ScheduleRestart(vm *types.VirtualMachine, investigate bool, reason types.ReasonType) {
	vlog := log.WithVMID(vm.ID)

	if !m.gates.HAEnabledIn(vm.ZoneID) {
		msg := fmt.Sprintf("Unable to schedule restart for VM %s (%d), VM high availability manager is disabled", vm.Name, vm.ID)
		vlog.Debug().Msg(msg)
		m.sendVMAlert(vm, msg)
		return
	}

	if m.cfg.HasHostSideHA(vm.Hypervisor) {
		vlog.Info().Str("hypervisor", string(vm.Hypervisor)).Msg("skipping HA, the host stack restarts this VM itself")
		return
	}

	hostID := vm.HostID

	if !investigate {
		vlog.Debug().Msg("VM does not require investigation, marking it as stopped")

		if !m.cfg.ForceHA && !vm.HAEnabled {
			hostDesc := fmt.Sprintf("id: %v, availability zone id: %d, pod id: %d", hostID, vm.ZoneID, vm.PodID)
			m.deps.Alerts.SendAlert(alertTypeFor(vm.Type), vm.ZoneID, vm.PodID,
				fmt.Sprintf("VM (name: %s, id: %d) stopped unexpectedly on host %s", vm.Name, vm.ID, hostDesc),
				fmt.Sprintf("Virtual Machine %s (id: %d) running on host [%v] stopped unexpectedly.", vm.Name, vm.ID, hostID))
			vlog.Debug().Msg("VM is not HA enabled, alert sent")
		}

		if err := m.deps.Orchestrator.AdvanceStop(vm.UUID, true); err != nil {
			vlog.Error().Err(err).Msg("forced stop failed while normalizing VM state, not scheduling restart")
			return
		}
		reloaded, err := m.deps.Inventory.VMByUUID(vm.UUID)
		if err != nil || reloaded == nil {
			vlog.Warn().Msg("VM disappeared after forced stop, not scheduling restart")
			return
		}
		vm = reloaded
	}

	// A VM that failed recently keeps its consumed retry budget, so a
	// flapping VM cannot reset the counter by being rescheduled.
	previous, err := m.store.FindPreviousHA(vm.ID)
	if err != nil {
		vlog.Error().Err(err).Msg("failed to look up previous HA work")
		return
	}
	timesTried := 0
	for _, item := range previous {
		if timesTried < item.TimesTried && !item.CanScheduleNew(m.cfg.TimeBetweenFailures()) {
			timesTried = item.TimesTried
			break
		}
	}

	if hostID == nil {
		hostID = vm.LastHostID
	}
	var workHostID int64
	if hostID != nil {
		workHostID = *hostID
	}

	step := types.StepScheduled
	if investigate {
		step = types.StepInvestigating
	}

	work := &types.WorkItem{
		InstanceID:    vm.ID,
		InstanceType:  vm.Type,
		WorkType:      types.WorkHA,
		Step:          step,
		HostID:        workHostID,
		PreviousState: vm.State,
		TimesTried:    timesTried,
		UpdateTime:    vm.Updated,
		Reason:        reason,
	}
	if err := m.store.Persist(work); err != nil {
		vlog.Error().Err(err).Msg("failed to persist HA work")
		return
	}

	vlog.Info().Int64("work_id", work.ID).Msg("scheduled VM for HA")
	metrics.WorkScheduledTotal.WithLabelValues(string(types.WorkHA)).Inc()
	m.publish(&events.Event{Type: events.EventWorkScheduled, WorkID: work.ID, VMID: vm.ID})
	m.WakeupWorkers()
}

// ScheduleStop enqueues a stop of the given flavor. Returns false when an
// identical stop is already pending or the gate is off.
func (m *Manager) ScheduleStop(vm *types.VirtualMachine, hostID int64, workType types.WorkType, reason types.ReasonType) bool {
	if workType != types.WorkStop && workType != types.WorkCheckStop && workType != types.WorkForceStop {
		m.logger.Error().Str("work_type", string(workType)).Msg("ScheduleStop called with a non-stop work type")
		return false
	}

	vlog := log.WithVMID(vm.ID)

	scheduled, err := m.store.HasBeenScheduled(vm.ID, workType)
	if err != nil {
		vlog.Error().Err(err).Msg("failed to check for scheduled stop")
		return false
	}
	if scheduled {
		vlog.Info().Str("work_type", string(workType)).Msg("there is already a job scheduled to stop this VM")
		return false
	}

	if !m.gates.HAEnabledIn(vm.ZoneID) {
		msg := fmt.Sprintf("Unable to schedule stop for VM %s (%d) on host %d, VM high availability manager is disabled", vm.Name, vm.ID, hostID)
		vlog.Debug().Msg(msg)
		m.sendVMAlert(vm, msg)
		return false
	}

	work := &types.WorkItem{
		InstanceID:    vm.ID,
		InstanceType:  vm.Type,
		WorkType:      workType,
		Step:          types.StepScheduled,
		HostID:        hostID,
		PreviousState: vm.State,
		UpdateTime:    vm.Updated,
		Reason:        reason,
	}
	if err := m.store.Persist(work); err != nil {
		vlog.Error().Err(err).Msg("failed to persist stop work")
		return false
	}

	vlog.Debug().Int64("work_id", work.ID).Str("work_type", string(workType)).Msg("scheduled stop")
	metrics.WorkScheduledTotal.WithLabelValues(string(workType)).Inc()
	m.publish(&events.Event{Type: events.EventWorkScheduled, WorkID: work.ID, VMID: vm.ID})
	m.WakeupWorkers()
	return true
}

// ScheduleMigration enqueues an evacuation of the VM off its host. No-op
// for VMs without a host. A VM already mid-migration is evacuated from the
// host it is leaving.
func (m *Manager) ScheduleMigration(vm *types.VirtualMachine, reason types.ReasonType) bool {
	if vm.HostID == nil {
		return false
	}

	vlog := log.WithVMID(vm.ID)
	if !m.gates.HAEnabledIn(vm.ZoneID) {
		msg := fmt.Sprintf("Unable to schedule migration for VM %s on host %d, VM high availability manager is disabled", vm.Name, *vm.HostID)
		vlog.Debug().Msg(msg)
		m.sendVMAlert(vm, msg)
		return false
	}

	srcHostID := *vm.HostID
	if vm.State == types.VMStateMigrating && vm.LastHostID != nil {
		srcHostID = *vm.LastHostID
	}

	work := &types.WorkItem{
		InstanceID:    vm.ID,
		InstanceType:  vm.Type,
		WorkType:      types.WorkMigration,
		Step:          types.StepScheduled,
		HostID:        srcHostID,
		PreviousState: vm.State,
		UpdateTime:    vm.Updated,
		Reason:        reason,
	}
	if err := m.store.Persist(work); err != nil {
		vlog.Error().Err(err).Msg("failed to persist migration work")
		return false
	}

	vlog.Info().Int64("work_id", work.ID).Int64("src_host", srcHostID).Msg("scheduled migration work")
	metrics.WorkScheduledTotal.WithLabelValues(string(types.WorkMigration)).Inc()
	m.publish(&events.Event{Type: events.EventWorkScheduled, WorkID: work.ID, VMID: vm.ID})
	m.WakeupWorkers()
	return true
}

// ScheduleDestroy enqueues destruction of the VM.
func (m *Manager) ScheduleDestroy(vm *types.VirtualMachine, hostID int64, reason types.ReasonType) bool {
	vlog := log.WithVMID(vm.ID)
	if !m.gates.HAEnabledIn(vm.ZoneID) {
		msg := fmt.Sprintf("Unable to schedule destroy for VM %s (%d) on host %d, VM high availability manager is disabled", vm.Name, vm.ID, hostID)
		vlog.Debug().Msg(msg)
		m.sendVMAlert(vm, msg)
		return false
	}

	work := &types.WorkItem{
		InstanceID:    vm.ID,
		InstanceType:  vm.Type,
		WorkType:      types.WorkDestroy,
		Step:          types.StepScheduled,
		HostID:        hostID,
		PreviousState: vm.State,
		UpdateTime:    vm.Updated,
		Reason:        reason,
	}
	if err := m.store.Persist(work); err != nil {
		vlog.Error().Err(err).Msg("failed to persist destroy work")
		return false
	}

	vlog.Debug().Int64("work_id", work.ID).Msg("scheduled destroy")
	metrics.WorkScheduledTotal.WithLabelValues(string(types.WorkDestroy)).Inc()
	m.publish(&events.Event{Type: events.EventWorkScheduled, WorkID: work.ID, VMID: vm.ID})
	m.WakeupWorkers()
	return true
}

// CancelDestroy drops any pending destroy work for the VM.
func (m *Manager) CancelDestroy(vm *types.VirtualMachine, hostID int64) {
	if err := m.store.Delete(vm.ID, types.WorkDestroy); err != nil {
		vlog := log.WithVMID(vm.ID)
		vlog.Error().Err(err).Msg("failed to cancel destroy work")
	}
}

// CancelScheduledMigrations drops this peer's pending evacuation work for
// a host being taken out of service. Storage hosts queue Stop work instead
// of Migration work, so the type follows the host type.
func (m *Manager) CancelScheduledMigrations(host *types.Host) {
	workType := types.WorkMigration
	if host.Type == types.HostTypeStorage {
		workType = types.WorkStop
	}
	hlog := log.WithHostID(host.ID)
	hlog.Info().Msg("cancelling all scheduled migrations from host")
	if err := m.store.DeleteMigrationWorkItems(host.ID, workType, m.serverID); err != nil {
		hlog.Error().Err(err).Msg("failed to cancel scheduled migrations")
	}
}

// FindTakenMigrationWork lists the VMs whose migration work is currently
// leased by any peer.
func (m *Manager) FindTakenMigrationWork() ([]*types.VirtualMachine, error) {
	works, err := m.store.FindTakenWorkItems(types.WorkMigration)
	if err != nil {
		return nil, err
	}
	vms := make([]*types.VirtualMachine, 0, len(works))
	for _, work := range works {
		vm, err := m.deps.Inventory.VMByID(work.InstanceID)
		if err == nil && vm != nil {
			vms = append(vms, vm)
		}
	}
	return vms, nil
}

// ExpungeWorkItemsByVmList bulk-purges work for removed VMs.
func (m *Manager) ExpungeWorkItemsByVmList(vmIDs []int64, batchSize int) (int, error) {
	return m.store.ExpungeByVmList(vmIDs, batchSize)
}

// HasPendingHaWork reports whether the VM has non-terminal HA work.
func (m *Manager) HasPendingHaWork(vmID int64) bool {
	works, err := m.store.ListPendingHaWorkForVm(vmID)
	if err != nil {
		m.logger.Error().Err(err).Int64("vm_id", vmID).Msg("failed to list pending HA work")
		return false
	}
	return len(works) > 0
}

// HasPendingMigrationsWork reports whether the VM has migration work still
// inside its retry budget.
func (m *Manager) HasPendingMigrationsWork(vmID int64) bool {
	works, err := m.store.ListPendingMigrationsForVm(vmID)
	if err != nil {
		m.logger.Error().Err(err).Int64("vm_id", vmID).Msg("failed to list pending migrations")
		return false
	}
	for _, work := range works {
		if work.TimesTried <= m.cfg.MaxRetries {
			return true
		}
		m.logger.Warn().Int64("work_id", work.ID).Int("times_tried", work.TimesTried).
			Msg("migration work exceeded max retries but is still not terminal")
	}
	return false
}
