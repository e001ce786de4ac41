package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

// Fan-out bounds applied by the people source stage.
const (
	// PeopleResultsPerPair caps search hits taken per company x title pair.
	PeopleResultsPerPair = 10
	// MaxProfileEnrichments caps profile-detail calls per stage execution.
	MaxProfileEnrichments = 5
)

// StageKindFilter is the executor key for filter blocks.
const StageKindFilter = "FILTER"

// StageContext carries run-scoped state into a stage executor.
type StageContext struct {
	Trigger   *model.Trigger
	Run       *model.TriggerRun
	Index     int
	Now       time.Time
	Retention time.Duration

	// Blacklist is the ledger as loaded at run start.
	Blacklist model.Blacklist

	setStatus func(ctx context.Context, status model.RunStatus)
	progress  func(event string, fields map[string]any)
}

// SetStatus moves the run to status. A no-op outside the runner.
func (sc *StageContext) SetStatus(ctx context.Context, status model.RunStatus) {
	if sc.setStatus != nil {
		sc.setStatus(ctx, status)
	}
}

// Progress publishes a progress event for the run.
func (sc *StageContext) Progress(event string, fields map[string]any) {
	if sc.progress != nil {
		sc.progress(event, fields)
	}
}

// Suppressed reports whether name is in the live part of the ledger.
func (sc *StageContext) Suppressed(name string) bool {
	return sc.Blacklist.Contains(name, sc.Now, sc.Retention)
}

func (sc *StageContext) logger() *zap.Logger {
	l := zap.L()
	if sc.Trigger != nil {
		l = l.With(zap.String("trigger_id", sc.Trigger.ID))
	}
	if sc.Run != nil {
		l = l.With(zap.String("run_id", sc.Run.ID))
	}
	return l.With(zap.Int("stage", sc.Index))
}

// StageExecutor runs one block against the current pipeline data and
// returns the data for the next stage. Executors must not mutate data in
// place.
type StageExecutor interface {
	Execute(ctx context.Context, sc *StageContext, b model.Block, data model.PipelineData) (model.PipelineData, error)
}

// Registry maps block kinds to executors.
type Registry map[string]StageExecutor

// For returns the executor for b.
func (r Registry) For(b model.Block) (StageExecutor, error) {
	kind := b.Kind()
	if kind == "" {
		return nil, &model.ConfigurationError{Field: "blocks", Reason: "block of type " + string(b.Type) + " has no payload"}
	}
	exec, ok := r[kind]
	if !ok {
		return nil, &model.ConfigurationError{Field: "blocks", Reason: "unsupported block kind " + kind}
	}
	return exec, nil
}

// Supports reports whether a kind has an executor.
func (r Registry) Supports(kind string) bool {
	_, ok := r[kind]
	return ok
}

// NewRegistry builds the standard executors over deps.
func NewRegistry(deps Deps, cfg RunnerConfig) Registry {
	return Registry{
		string(model.SourceNewsCompanySearch): &NewsStage{Searcher: deps.Searcher, Classifier: deps.Classifier},
		string(model.SourceExtractPeopleFromCompanies): &PeopleStage{
			Searcher:    deps.Searcher,
			Enricher:    deps.Enricher,
			Concurrency: cfg.SearchConcurrency,
		},
		StageKindFilter:                      &FilterStage{Classifier: deps.Classifier},
		string(model.ActionNotify):           &NotifyStage{Notifier: deps.Notifier},
		string(model.ActionUploadCandidates): &UploadStage{Ingester: deps.Ingester, Store: deps.Store},
	}
}
