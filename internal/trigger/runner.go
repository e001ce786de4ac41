package trigger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/config"
	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

// Progress channels used with the Broadcaster.
const (
	ChannelStatus   = "status"
	ChannelProgress = "progress"
)

// Deps are the collaborators a Runner drives.
type Deps struct {
	Store       store.Store
	Classifier  Classifier
	Searcher    Searcher
	Enricher    ProfileEnricher
	Ingester    Ingester
	Notifier    Notifier
	Broadcaster Broadcaster
}

// RunnerConfig bounds run execution.
type RunnerConfig struct {
	RunDeadline         time.Duration
	StageTimeout        time.Duration
	SearchConcurrency   int
	SummaryDestinations []string
	Retention           time.Duration
}

// RunnerConfigFrom maps engine configuration onto a RunnerConfig.
func RunnerConfigFrom(cfg config.EngineConfig) RunnerConfig {
	return RunnerConfig{
		RunDeadline:         cfg.RunDeadline(),
		StageTimeout:        cfg.StageTimeout(),
		SearchConcurrency:   cfg.SearchConcurrency,
		SummaryDestinations: cfg.SummaryDestinations,
		Retention:           model.DefaultBlacklistRetention,
	}
}

// Runner executes triggers end to end. Runs of the same trigger are
// serialised in-process; the ledger merge is additionally guarded by a
// version compare-and-swap in the store.
type Runner struct {
	deps     Deps
	cfg      RunnerConfig
	registry Registry
	locks    *KeyedMutex
	now      func() time.Time
}

// NewRunner builds a Runner with the standard stage executors.
func NewRunner(deps Deps, cfg RunnerConfig) *Runner {
	if deps.Broadcaster == nil {
		deps.Broadcaster = nopBroadcaster{}
	}
	if cfg.Retention <= 0 {
		cfg.Retention = model.DefaultBlacklistRetention
	}
	return &Runner{
		deps:     deps,
		cfg:      cfg,
		registry: NewRegistry(deps, cfg),
		locks:    NewKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Registry returns the executors used by r.
func (r *Runner) Registry() Registry {
	return r.registry
}

// Running reports whether a run of triggerID is in flight in this process.
func (r *Runner) Running(triggerID string) bool {
	return r.locks.Held(triggerID)
}

// Run executes triggerID now, waiting for any in-flight run of the same
// trigger to finish first. The returned run is always terminal unless the
// run record itself could not be created. A failed run is returned together
// with the error that failed it.
func (r *Runner) Run(ctx context.Context, triggerID string) (*model.TriggerRun, error) {
	unlock, err := r.locks.Lock(ctx, triggerID)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: wait for run lock %s", triggerID)
	}
	defer unlock()
	return r.run(ctx, triggerID)
}

// TryRun executes triggerID unless a run of it is already in flight, in
// which case it returns (nil, false, nil).
func (r *Runner) TryRun(ctx context.Context, triggerID string) (*model.TriggerRun, bool, error) {
	unlock, ok := r.locks.TryLock(triggerID)
	if !ok {
		return nil, false, nil
	}
	defer unlock()
	run, err := r.run(ctx, triggerID)
	return run, true, err
}

func (r *Runner) run(ctx context.Context, triggerID string) (*model.TriggerRun, error) {
	t, err := r.deps.Store.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: load %s", triggerID)
	}

	started := r.now()
	run, err := r.deps.Store.CreateRun(ctx, t.ID, started)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: create run for %s", t.ID)
	}

	log := zap.L().With(zap.String("trigger_id", t.ID), zap.String("run_id", run.ID))
	log.Info("trigger: run started", zap.String("name", t.Name), zap.Int("blocks", len(t.Blocks)))
	r.broadcast(t.ID, ChannelStatus, map[string]any{"run_id": run.ID, "status": model.RunStatusRunning})

	runCtx, cancel := r.withDeadline(ctx, r.cfg.RunDeadline)
	defer cancel()

	data, runErr := r.runStages(runCtx, t, run, started)
	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		runErr = &model.RunTimeoutError{TriggerID: t.ID, Deadline: r.cfg.RunDeadline}
	}

	// The final writes must land even when the caller's context is gone.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer finalCancel()

	return r.finalize(finalCtx, log, t, run, data, runErr)
}

func (r *Runner) withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// runStages folds the blocks over an empty PipelineData in order. A panic
// in a stage is converted into an error.
func (r *Runner) runStages(ctx context.Context, t *model.Trigger, run *model.TriggerRun, started time.Time) (data model.PipelineData, err error) {
	data = model.NewPipelineData()

	sc := &StageContext{
		Trigger:   t,
		Run:       run,
		Now:       started,
		Retention: r.cfg.Retention,
		Blacklist: t.Blacklist.Clone(),
	}
	sc.setStatus = func(ctx context.Context, status model.RunStatus) {
		if !run.Status.CanTransition(status) {
			return
		}
		if err := r.deps.Store.UpdateRunStatus(context.WithoutCancel(ctx), run.ID, status, ""); err != nil {
			zap.L().Warn("trigger: failed to update run status", zap.String("run_id", run.ID), zap.Error(err))
			return
		}
		run.Status = status
		r.broadcast(t.ID, ChannelStatus, map[string]any{"run_id": run.ID, "status": status})
	}

	for i, b := range t.Blocks {
		sc.Index = i
		sc.progress = func(event string, fields map[string]any) {
			msg := map[string]any{"run_id": run.ID, "stage": i, "kind": b.Kind(), "event": event}
			for k, v := range fields {
				msg[k] = v
			}
			r.broadcast(t.ID, ChannelProgress, msg)
		}

		data, err = r.runStage(ctx, sc, b, data)
		if err != nil {
			return data, err
		}
	}
	return data, nil
}

func (r *Runner) runStage(ctx context.Context, sc *StageContext, b model.Block, in model.PipelineData) (out model.PipelineData, err error) {
	exec, err := r.registry.For(b)
	if err != nil {
		return in, err
	}

	stageCtx, cancel := r.withDeadline(ctx, r.cfg.StageTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			out, err = in, eris.Errorf("trigger: stage %d (%s) panicked: %v", sc.Index, b.Kind(), p)
		}
	}()

	start := time.Now()
	sc.Progress("stage_started", nil)
	out, err = exec.Execute(stageCtx, sc, b, in)
	if err == nil && stageCtx.Err() != nil {
		err = stageCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = eris.Wrapf(err, "trigger: stage %d (%s) timed out after %s", sc.Index, b.Kind(), r.cfg.StageTimeout)
		} else {
			err = eris.Wrapf(err, "trigger: stage %d (%s)", sc.Index, b.Kind())
		}
		sc.logger().Error("trigger: stage failed", zap.String("kind", b.Kind()), zap.Error(err))
		return in, err
	}

	sc.logger().Info("trigger: stage complete",
		zap.String("kind", b.Kind()),
		zap.Int("companies", len(out.Companies)),
		zap.Int("people", len(out.People)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	sc.Progress("stage_complete", map[string]any{"companies": len(out.Companies), "people": len(out.People)})
	return out, nil
}

// finalize moves the run to a terminal state. On success the ledger is
// merged, the trigger rescheduled and a summary sent.
func (r *Runner) finalize(ctx context.Context, log *zap.Logger, t *model.Trigger, run *model.TriggerRun, data model.PipelineData, runErr error) (*model.TriggerRun, error) {
	now := r.now()

	if runErr == nil {
		keys := append(data.CompanyNames(), data.PersonNames()...)
		if _, err := r.deps.Store.MergeBlacklist(ctx, t.ID, keys, now, r.cfg.Retention); err != nil {
			runErr = eris.Wrap(err, "trigger: update blacklist")
		}
	}

	finish := store.RunFinish{
		Status:      model.RunStatusCompleted,
		Message:     completionMessage(data),
		Metadata:    data.Metadata,
		CompletedAt: now,
	}
	if runErr != nil {
		finish.Status = model.RunStatusFailed
		finish.Message = runErr.Error()
	}

	if err := r.deps.Store.FinishRun(ctx, run.ID, finish); err != nil {
		log.Error("trigger: failed to finalise run", zap.Error(err))
		if runErr == nil {
			runErr = eris.Wrap(err, "trigger: finish run")
		}
		return run, runErr
	}
	run.Status = finish.Status
	run.StatusMessage = finish.Message
	run.Metadata = finish.Metadata
	run.CompletedAt = &now
	if n, ok := data.Metadata[model.MetaCandidatesUploaded].(int); ok {
		run.CandidateCount = n
	}

	r.broadcast(t.ID, ChannelStatus, map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"message": run.StatusMessage,
	})

	if runErr != nil {
		log.Error("trigger: run failed", zap.Error(runErr), zap.Duration("duration", run.Duration()))
		return run, runErr
	}

	t.Reschedule(now)
	if err := r.deps.Store.UpdateSchedule(ctx, t.ID, *t.LastRun, *t.NextRun); err != nil {
		log.Error("trigger: failed to reschedule", zap.Error(err))
	}

	log.Info("trigger: run completed",
		zap.Int("companies", len(data.Companies)),
		zap.Int("people", len(data.People)),
		zap.Int("candidates", run.CandidateCount),
		zap.Duration("duration", run.Duration()),
		zap.Timep("next_run", t.NextRun),
	)

	r.sendSummary(ctx, log, t, run, data)
	return run, nil
}

func completionMessage(data model.PipelineData) string {
	uploaded, _ := data.Metadata[model.MetaCandidatesUploaded].(int)
	return fmt.Sprintf("completed: %d companies, %d people, %d candidates uploaded",
		len(data.Companies), len(data.People), uploaded)
}

func (r *Runner) sendSummary(ctx context.Context, log *zap.Logger, t *model.Trigger, run *model.TriggerRun, data model.PipelineData) {
	if len(r.cfg.SummaryDestinations) == 0 || r.deps.Notifier == nil {
		return
	}
	msg := Summary(t, run, data)
	if !r.deps.Notifier.Notify(ctx, msg, nil, r.cfg.SummaryDestinations) {
		log.Warn("trigger: run summary not delivered")
	}
}

func (r *Runner) broadcast(triggerID, channel string, message any) {
	r.deps.Broadcaster.Broadcast(triggerID, message, channel)
}
