package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/model"
)

var (
	// ErrNotFound is returned when a trigger or run does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when a compare-and-swap on a trigger's
	// version keeps losing to concurrent writers.
	ErrVersionConflict = errors.New("store: version conflict")
)

// maxCASAttempts bounds the read-modify-write loop in MergeBlacklist.
const maxCASAttempts = 5

// TriggerFilter specifies criteria for listing triggers.
type TriggerFilter struct {
	TenantID   string `json:"tenant_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	TriggerID string          `json:"trigger_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// RunStats aggregates run outcomes over a window.
type RunStats struct {
	Total              int `json:"total"`
	Running            int `json:"running"`
	Uploading          int `json:"uploading"`
	Completed          int `json:"completed"`
	Failed             int `json:"failed"`
	CandidatesUploaded int `json:"candidates_uploaded"`
}

// FailureRate returns failed / finished, or 0 when nothing finished.
func (s RunStats) FailureRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Failed) / float64(finished)
}

// RunFinish carries the terminal write for a run.
type RunFinish struct {
	Status      model.RunStatus
	Message     string
	Metadata    map[string]any
	CompletedAt time.Time
}

// Store defines the persistence interface for triggers, runs and candidates.
type Store interface {
	// Triggers
	CreateTrigger(ctx context.Context, t *model.Trigger) error
	GetTrigger(ctx context.Context, id string) (*model.Trigger, error)
	ListTriggers(ctx context.Context, filter TriggerFilter) ([]model.Trigger, error)
	ListDueTriggers(ctx context.Context, now time.Time) ([]model.Trigger, error)
	UpdateTrigger(ctx context.Context, t *model.Trigger) error
	SetTriggerActive(ctx context.Context, id string, active bool) error
	UpdateSchedule(ctx context.Context, id string, lastRun, nextRun time.Time) error
	MergeBlacklist(ctx context.Context, id string, names []string, now time.Time, retention time.Duration) (model.Blacklist, error)

	// Runs
	CreateRun(ctx context.Context, triggerID string, runAt time.Time) (*model.TriggerRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, message string) error
	FinishRun(ctx context.Context, runID string, finish RunFinish) error
	GetRun(ctx context.Context, runID string) (*model.TriggerRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.TriggerRun, error)
	RunStats(ctx context.Context, since time.Time) (*RunStats, error)
	ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.TriggerRun, error)

	// Candidates
	InsertCandidates(ctx context.Context, runID string, candidates []model.TriggerCandidate) error
	ListCandidates(ctx context.Context, runID string) ([]model.TriggerCandidate, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// blacklistCAS is the storage half of MergeBlacklist: load returns the
// current ledger and version, save writes next only if the version is
// unchanged and reports whether it did.
type blacklistCAS struct {
	load func(ctx context.Context) (model.Blacklist, int64, error)
	save func(ctx context.Context, next model.Blacklist, version int64) (bool, error)
}

// mergeBlacklist merges names into the ledger and prunes expired entries
// relative to now, retrying when a concurrent writer bumps the version.
func mergeBlacklist(ctx context.Context, cas blacklistCAS, names []string, now time.Time, retention time.Duration) (model.Blacklist, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "store: merge blacklist")
		}
		current, version, err := cas.load(ctx)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		next.Merge(names, now, retention)
		next.Prune(now, retention)

		ok, err := cas.save(ctx, next, version)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, eris.Wrapf(ErrVersionConflict, "store: merge blacklist after %d attempts", maxCASAttempts)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// decodeTrigger fills the JSON and interval columns shared by both backends.
// On error the returned trigger still carries the scanned identity columns.
func decodeTrigger(t *model.Trigger, intervalSecs int64, blocksJSON, blacklistJSON []byte) (*model.Trigger, error) {
	t.Interval = time.Duration(intervalSecs) * time.Second

	blocks, err := model.DecodeBlocks(blocksJSON)
	if err != nil {
		return t, eris.Wrapf(err, "store: decode blocks for trigger %s", t.ID)
	}
	t.Blocks = blocks

	t.Blacklist = model.Blacklist{}
	if len(blacklistJSON) > 0 {
		if err := json.Unmarshal(blacklistJSON, &t.Blacklist); err != nil {
			return t, eris.Wrapf(err, "store: unmarshal blacklist for trigger %s", t.ID)
		}
	}
	return t, nil
}

// skipMalformed reports whether a trigger scan may drop the row that failed
// with err. Only block decoding failures qualify, and the dropped row is
// logged so it stays visible.
func skipMalformed(op string, t *model.Trigger, err error) bool {
	var mbe *model.MalformedBlockError
	if t == nil || !errors.As(err, &mbe) {
		return false
	}
	zap.L().Error("store: skipping trigger with malformed blocks",
		zap.String("op", op),
		zap.String("trigger_id", t.ID),
		zap.String("tag", mbe.Tag),
		zap.Error(err),
	)
	return true
}

func decodeMetadata(r *model.TriggerRun, raw []byte) error {
	r.Metadata = map[string]any{}
	if len(raw) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(raw, &r.Metadata), "store: unmarshal metadata for run %s", r.ID)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
