package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Dispatcher starts a run of a trigger without waiting for it. It reports
// false when the trigger was skipped, e.g. because a run is in flight.
type Dispatcher interface {
	Dispatch(ctx context.Context, triggerID string) (bool, error)
}

// DueLister lists triggers that are due at a point in time.
type DueLister interface {
	ListDueTriggers(ctx context.Context, now time.Time) ([]model.Trigger, error)
}

// Scheduler dispatches due triggers on every tick.
type Scheduler struct {
	store      DueLister
	dispatcher Dispatcher
	tick       time.Duration
	now        func() time.Time
}

// NewScheduler returns a scheduler polling every tick.
func NewScheduler(store DueLister, dispatcher Dispatcher, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		tick:       tick,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Tick dispatches every trigger due at now and returns how many were
// dispatched. Dispatch failures are logged and do not stop the tick.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueTriggers(ctx, now)
	if err != nil {
		return 0, eris.Wrap(err, "scheduler: list due triggers")
	}

	dispatched := 0
	for i := range due {
		t := &due[i]
		if !t.Due(now) {
			continue
		}
		ok, err := s.dispatcher.Dispatch(ctx, t.ID)
		if err != nil {
			zap.L().Error("scheduler: dispatch failed", zap.String("trigger_id", t.ID), zap.Error(err))
			continue
		}
		if !ok {
			zap.L().Debug("scheduler: trigger still running, skipped", zap.String("trigger_id", t.ID))
			continue
		}
		dispatched++
	}

	if len(due) > 0 {
		zap.L().Info("scheduler: tick",
			zap.Int("due", len(due)),
			zap.Int("dispatched", dispatched),
		)
	}
	return dispatched, nil
}

// Start ticks immediately and then every interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	zap.L().Info("scheduler: started", zap.Duration("tick", s.tick))

	if _, err := s.Tick(ctx); err != nil {
		zap.L().Error("scheduler: tick failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler: stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				zap.L().Error("scheduler: tick failed", zap.Error(err))
			}
		}
	}
}

// RunStarter is the part of Runner used by the goroutine dispatcher.
type RunStarter interface {
	TryRun(ctx context.Context, triggerID string) (*model.TriggerRun, bool, error)
	Running(triggerID string) bool
}

// GoroutineDispatcher runs each dispatched trigger on its own goroutine.
// A trigger that is already running in this process is skipped.
type GoroutineDispatcher struct {
	base   context.Context
	runner RunStarter

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// NewGoroutineDispatcher returns a dispatcher whose runs are bound to base;
// cancelling base cancels in-flight runs.
func NewGoroutineDispatcher(base context.Context, runner RunStarter) *GoroutineDispatcher {
	return &GoroutineDispatcher{base: base, runner: runner, inflight: make(map[string]bool)}
}

// Dispatch starts a run of triggerID in the background.
func (d *GoroutineDispatcher) Dispatch(_ context.Context, triggerID string) (bool, error) {
	d.mu.Lock()
	if d.inflight[triggerID] || d.runner.Running(triggerID) {
		d.mu.Unlock()
		return false, nil
	}
	d.inflight[triggerID] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.inflight, triggerID)
			d.mu.Unlock()
		}()

		run, started, err := d.runner.TryRun(d.base, triggerID)
		switch {
		case !started:
			zap.L().Debug("dispatch: run lock held, skipped", zap.String("trigger_id", triggerID))
		case err != nil:
			fields := []zap.Field{zap.String("trigger_id", triggerID), zap.Error(err)}
			if run != nil {
				fields = append(fields, zap.String("run_id", run.ID))
			}
			zap.L().Warn("dispatch: run failed", fields...)
		}
	}()
	return true, nil
}

// InFlight returns the number of runs started by d that have not finished.
func (d *GoroutineDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Wait blocks until every dispatched run has returned.
func (d *GoroutineDispatcher) Wait() {
	d.wg.Wait()
}
