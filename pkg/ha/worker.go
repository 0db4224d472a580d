package ha

import (
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/rs/zerolog"
)

// worker is one long-lived queue consumer. It claims eligible items,
// drives the state machine, and sleeps when the queue is dry. A wakeup is
// a nudge, not a handoff; the worker still races its siblings on Take.
type worker struct {
	id   int
	m    *Manager
	wake chan struct{}
}

func newWorker(id int, m *Manager) *worker {
	return &worker{
		id:   id,
		m:    m,
		wake: make(chan struct{}, 1),
	}
}

// wakeup nudges the worker out of its idle wait. Never blocks.
func (w *worker) wakeup() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// sleep waits for a wakeup or the idle timeout, whichever comes first.
func (w *worker) sleep() {
	timer := time.NewTimer(w.m.cfg.TimeToSleep())
	defer timer.Stop()
	select {
	case <-w.wake:
	case <-timer.C:
	}
}

func (w *worker) run() {
	defer w.m.wg.Done()

	logger := log.WithComponent(fmt.Sprintf("ha-worker-%d", w.id))
	logger.Info().Msg("starting work")

	// Grace period before the first poll so a restarting management plane
	// settles before recovery work kicks off.
	w.sleep()

	for !w.m.stopped.Load() {
		w.cycle(logger)
	}
	logger.Info().Msg("time to go home")
}

// cycle runs one claim-and-process iteration. Anything the state machine
// throws is absorbed so the worker never dies.
func (w *worker) cycle(logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("caught panic while processing work")
		}
	}()

	logger.Trace().Msg("checking the queue for work")
	work, err := w.m.store.Take(w.m.serverID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to take work")
		w.sleep()
		return
	}
	if work == nil {
		w.sleep()
		return
	}

	wlog := log.WithWorkID(work.ID)
	wlog.Info().Str("work_type", string(work.WorkType)).Int64("vm_id", work.InstanceID).Msg("processing work")

	metrics.WorkersBusy.Inc()
	timer := time.Now()
	w.m.processWork(work, wlog)
	metrics.WorkExecutionDuration.WithLabelValues(string(work.WorkType)).Observe(time.Since(timer).Seconds())
	metrics.WorkersBusy.Dec()
}
