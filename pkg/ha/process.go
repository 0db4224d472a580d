package ha

import (
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// rescheduleWork pushes the item back into the eligible pool at nextTime,
// consuming one attempt and releasing the lease.
func rescheduleWork(work *types.WorkItem, nextTime int64) {
	work.TimeToTry = nextTime
	work.TimesTried++
	work.ServerID = nil
	work.DateTaken = nil
}

// rescheduleTime returns the standard retry time for a work type.
func (m *Manager) rescheduleTime(workType types.WorkType) int64 {
	now := time.Now().Unix()
	switch workType {
	case types.WorkMigration:
		return now + m.cfg.MigrateRetryIntervalSec
	case types.WorkHA:
		return now + m.cfg.RestartRetryIntervalSec
	case types.WorkStop, types.WorkCheckStop, types.WorkForceStop, types.WorkDestroy:
		return now + m.cfg.StopRetryIntervalSec
	}
	return now
}

// markTerminal stamps the item with a terminal step and completion time.
func markTerminal(work *types.WorkItem, step types.Step) {
	work.Step = step
	now := time.Now()
	work.CompletedAt = &now
}

// processWork runs one claimed item through its state machine and writes
// the outcome back. A step returning no next time means the item is
// finished; a next time reschedules it; an error reschedules it on the
// standard interval for its type with the VM state refreshed, so the next
// attempt sees what actually happened.
func (m *Manager) processWork(work *types.WorkItem, logger zerolog.Logger) {
	workType := work.WorkType
	vm, _ := m.deps.Inventory.VMByID(work.InstanceID)

	if vm != nil && !m.gates.HAEnabledIn(vm.ZoneID) {
		// Disabled zones keep their work; it retries until the gate comes
		// back or the retry budget runs out.
		logger.Debug().Msg("VM high availability manager is disabled, rescheduling to retry later")
		rescheduleWork(work, m.rescheduleTime(workType))
		m.finishWork(work, logger)
		return
	}

	nextTime, err := m.runStep(work, logger)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("unhandled error during HA process, rescheduling work")
		rescheduleWork(work, m.rescheduleTime(workType))
		// The step may have died mid-flight after changing the VM;
		// recapture its state so the retry's staleness checks pass.
		if vm, ferr := m.deps.Inventory.VMByID(work.InstanceID); ferr == nil && vm != nil {
			work.UpdateTime = vm.Updated
			work.PreviousState = vm.State
		}
	case nextTime == nil:
		if !work.Step.Terminal() {
			logger.Info().Int("attempts", work.TimesTried+1).Int("max", m.cfg.MaxRetries).Msg("completed work")
			markTerminal(work, types.StepDone)
		}
	default:
		rescheduleWork(work, *nextTime)
	}

	m.finishWork(work, logger)
}

// runStep dispatches to the per-type state machine, converting panics into
// errors so a misbehaving collaborator only costs one attempt.
func (m *Manager) runStep(work *types.WorkItem, logger zerolog.Logger) (nextTime *int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			nextTime = nil
			err = fmt.Errorf("panic in %s step: %v", work.WorkType, r)
		}
	}()

	switch work.WorkType {
	case types.WorkMigration:
		return m.migrate(work, logger)
	case types.WorkHA:
		return m.restart(work, logger)
	case types.WorkStop, types.WorkCheckStop, types.WorkForceStop:
		return m.stopVM(work, logger)
	case types.WorkDestroy:
		return m.destroyVM(work, logger)
	default:
		return nil, fmt.Errorf("unknown work type %q", work.WorkType)
	}
}

// finishWork applies the give-up rule and persists the item.
func (m *Manager) finishWork(work *types.WorkItem, logger zerolog.Logger) {
	if !work.Step.Terminal() {
		if work.TimesTried >= m.cfg.MaxRetries {
			logger.Warn().Int("times_tried", work.TimesTried).Int("max", m.cfg.MaxRetries).Msg("giving up after max retries")
			markTerminal(work, types.StepDone)
			metrics.WorkCompletedTotal.WithLabelValues(string(work.WorkType), "gaveup").Inc()
			m.publish(&events.Event{Type: events.EventWorkGaveUp, WorkID: work.ID, VMID: work.InstanceID})
		} else {
			logger.Warn().Time("retry_at", time.Unix(work.TimeToTry, 0)).
				Int("attempt", work.TimesTried).Int("max", m.cfg.MaxRetries).Msg("rescheduling work")
			metrics.WorkReschedulesTotal.WithLabelValues(string(work.WorkType)).Inc()
			m.publish(&events.Event{Type: events.EventWorkRescheduled, WorkID: work.ID, VMID: work.InstanceID})
		}
	} else {
		switch work.Step {
		case types.StepCancelled:
			metrics.WorkCompletedTotal.WithLabelValues(string(work.WorkType), "cancelled").Inc()
			m.publish(&events.Event{Type: events.EventWorkCancelled, WorkID: work.ID, VMID: work.InstanceID})
		case types.StepDone:
			metrics.WorkCompletedTotal.WithLabelValues(string(work.WorkType), "done").Inc()
			m.publish(&events.Event{Type: events.EventWorkDone, WorkID: work.ID, VMID: work.InstanceID})
		}
		// Terminal items keep their lease fields cleared for audit.
		work.ServerID = nil
		work.DateTaken = nil
	}

	if err := m.store.Update(work); err != nil {
		logger.Error().Err(err).Msg("failed to write back work item")
	}
}

// checkAndCancelWorkIfNeeded cancels investigation-stage work whose reason
// has evaporated: if the host that prompted it is back Up, recovery would
// only disrupt a healthy VM.
func (m *Manager) checkAndCancelWorkIfNeeded(work *types.WorkItem, logger zerolog.Logger) bool {
	if work.Step != types.StepInvestigating {
		return false
	}
	switch work.Reason {
	case types.ReasonHostMaintenance, types.ReasonHostDown, types.ReasonHostDegraded:
	default:
		return false
	}
	if m.Investigate(work.HostID) != types.HostUp {
		return false
	}
	logger.Debug().Msg("cancelling work, the host is back up and it is not needed anymore")
	markTerminal(work, types.StepCancelled)
	return true
}
