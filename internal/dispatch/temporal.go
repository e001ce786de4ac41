// Package dispatch runs triggers durably through Temporal. The scheduler
// starts one workflow per due trigger; a worker executes it by calling the
// in-process runner from an activity.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/config"
	"github.com/sells-group/trigger-cli/internal/model"
)

// finalizeGrace is added to the run deadline so the runner can record the
// terminal state before the activity is timed out.
const finalizeGrace = time.Minute

// WorkflowID returns the workflow ID used for runs of triggerID. At most one
// workflow per trigger is open at a time.
func WorkflowID(triggerID string) string {
	return "trigger-run-" + triggerID
}

// RunInput is the workflow argument.
type RunInput struct {
	TriggerID string        `json:"trigger_id"`
	Timeout   time.Duration `json:"timeout"`
}

// RunResult is the workflow result.
type RunResult struct {
	RunID          string          `json:"run_id"`
	Status         model.RunStatus `json:"status"`
	Message        string          `json:"message,omitempty"`
	CandidateCount int             `json:"candidate_count"`
}

// TriggerRunWorkflow executes a single run of a trigger. The activity is
// never retried: a failed run is terminal and the next attempt happens on
// the trigger's next schedule.
func TriggerRunWorkflow(ctx workflow.Context, in RunInput) (*RunResult, error) {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = 30*time.Minute + finalizeGrace
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *Activities
	var res RunResult
	if err := workflow.ExecuteActivity(ctx, a.RunTrigger, in.TriggerID).Get(ctx, &res); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("trigger run finished",
		"trigger_id", in.TriggerID, "run_id", res.RunID, "status", string(res.Status))
	return &res, nil
}

// TriggerRunner executes a trigger to completion.
type TriggerRunner interface {
	Run(ctx context.Context, triggerID string) (*model.TriggerRun, error)
}

// Activities are the Temporal activities bound to a runner.
type Activities struct {
	Runner TriggerRunner
}

// RunTrigger runs the trigger and reports the terminal run. A run that
// reached FAILED is a result, not an activity error.
func (a *Activities) RunTrigger(ctx context.Context, triggerID string) (*RunResult, error) {
	run, err := a.Runner.Run(ctx, triggerID)
	if run == nil {
		if err == nil {
			err = eris.New("dispatch: runner returned no run")
		}
		return nil, eris.Wrapf(err, "dispatch: run trigger %s", triggerID)
	}
	if err != nil {
		zap.L().Warn("dispatch: trigger run failed",
			zap.String("trigger_id", triggerID), zap.String("run_id", run.ID), zap.Error(err))
	}
	return &RunResult{
		RunID:          run.ID,
		Status:         run.Status,
		Message:        run.StatusMessage,
		CandidateCount: run.CandidateCount,
	}, nil
}

// WorkflowStarter is the part of client.Client the Dispatcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Dispatcher starts trigger runs as Temporal workflows.
type Dispatcher struct {
	client    WorkflowStarter
	taskQueue string
	timeout   time.Duration
}

// NewDispatcher returns a Dispatcher starting workflows on taskQueue. The
// activity timeout is runDeadline plus a grace period for finalization.
func NewDispatcher(c WorkflowStarter, taskQueue string, runDeadline time.Duration) *Dispatcher {
	return &Dispatcher{client: c, taskQueue: taskQueue, timeout: runDeadline + finalizeGrace}
}

// Dispatch starts a run of triggerID. It returns false without error when
// a workflow for the trigger is already open.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerID string) (bool, error) {
	opts := client.StartWorkflowOptions{
		ID:                                       WorkflowID(triggerID),
		TaskQueue:                                d.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, TriggerRunWorkflow, RunInput{TriggerID: triggerID, Timeout: d.timeout})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return false, nil
		}
		return false, eris.Wrapf(err, "dispatch: start workflow for %s", triggerID)
	}
	zap.L().Debug("dispatch: workflow started",
		zap.String("trigger_id", triggerID),
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return true, nil
}

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker returns a worker on taskQueue with the trigger workflow and
// activities registered. Only one activity per trigger runs at a time in a
// process because the runner serialises runs of the same trigger.
func NewWorker(c client.Client, taskQueue string, runner TriggerRunner, concurrency int) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: concurrency,
	})
	Register(w, runner)
	return w
}

// Registrar is satisfied by worker.Worker and the Temporal test environment.
type Registrar interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// Register adds the workflow and activities to r.
func Register(r Registrar, runner TriggerRunner) {
	r.RegisterWorkflow(TriggerRunWorkflow)
	r.RegisterActivity(&Activities{Runner: runner})
}
