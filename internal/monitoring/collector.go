package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of trigger run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal          int     `json:"runs_total"`
	RunsRunning        int     `json:"runs_running"`
	RunsUploading      int     `json:"runs_uploading"`
	RunsCompleted      int     `json:"runs_completed"`
	RunsFailed         int     `json:"runs_failed"`
	RunFailRate        float64 `json:"run_fail_rate"`
	CandidatesUploaded int     `json:"candidates_uploaded"`

	// Runs still RUNNING or UPLOADING past the stuck threshold.
	StuckRuns []StuckRun `json:"stuck_runs,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StuckRun identifies a run that never reached a terminal state.
type StuckRun struct {
	RunID     string          `json:"run_id"`
	TriggerID string          `json:"trigger_id"`
	Status    model.RunStatus `json:"status"`
	RunAt     time.Time       `json:"run_at"`
}

// RunStatsSource is the part of store.Store the collector reads.
type RunStatsSource interface {
	RunStats(ctx context.Context, since time.Time) (*store.RunStats, error)
	ListStuckRuns(ctx context.Context, startedBefore time.Time) ([]model.TriggerRun, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	store      RunStatsSource
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector. Runs that started more than stuckAfter
// ago and are not terminal are reported as stuck; zero disables the check.
func NewCollector(st RunStatsSource, stuckAfter time.Duration) *Collector {
	return &Collector{store: st, stuckAfter: stuckAfter, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	stats, err := c.store.RunStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: run stats")
	}
	snap.RunsTotal = stats.Total
	snap.RunsRunning = stats.Running
	snap.RunsUploading = stats.Uploading
	snap.RunsCompleted = stats.Completed
	snap.RunsFailed = stats.Failed
	snap.RunFailRate = stats.FailureRate()
	snap.CandidatesUploaded = stats.CandidatesUploaded

	if c.stuckAfter > 0 {
		stuck, err := c.store.ListStuckRuns(ctx, now.Add(-c.stuckAfter))
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list stuck runs")
		}
		for _, r := range stuck {
			snap.StuckRuns = append(snap.StuckRuns, StuckRun{
				RunID:     r.ID,
				TriggerID: r.TriggerID,
				Status:    r.Status,
				RunAt:     r.RunAt,
			})
		}
	}

	return snap, nil
}
