package ha

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// migrate evacuates a VM off its source host. Capacity exhaustion is
// reported to the resource manager and retried; anything else escalates to
// the generic reschedule path.
func (m *Manager) migrate(work *types.WorkItem, logger zerolog.Logger) (*int64, error) {
	srcHostID := work.HostID

	vm, err := m.deps.Inventory.VMByID(work.InstanceID)
	if err != nil {
		return nil, err
	}
	if vm == nil {
		logger.Info().Int64("vm_id", work.InstanceID).Msg("unable to find vm, skipping migrate")
		return nil, nil
	}

	if m.checkAndCancelWorkIfNeeded(work, logger) {
		return nil, nil
	}

	logger.Info().Str("vm", vm.Name).Int64("src_host", srcHostID).
		Int("attempt", 1+work.TimesTried).Int("max", m.cfg.MaxRetries).Msg("migration attempt")

	if vm.State == types.VMStateStopped {
		logger.Info().Msg("vm is stopped, skipping migrate")
		return nil, nil
	}
	if vm.State == types.VMStateRunning && (vm.HostID == nil || *vm.HostID != srcHostID) {
		logger.Info().Msg("vm is running on a different host, skipping migration")
		return nil, nil
	}

	work.Step = types.StepMigrating
	if err := m.store.Update(work); err != nil {
		return nil, err
	}

	if err := m.deps.Orchestrator.MigrateAway(vm.UUID, srcHostID); err != nil {
		if errors.Is(err, ErrInsufficientServerCapacity) {
			logger.Warn().Err(err).Msg("insufficient capacity for migrating the vm from its source host")
			if m.deps.Resources != nil {
				m.deps.Resources.MigrateAwayFailed(srcHostID, vm.ID)
			}
			return next(m.cfg.MigrateRetryIntervalSec), nil
		}
		logger.Warn().Err(err).Msg("unexpected error attempting migration")
		return nil, err
	}
	return nil, nil
}
