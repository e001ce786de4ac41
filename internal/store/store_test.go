package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleTrigger() *model.Trigger {
	return &model.Trigger{
		TenantID: "tenant-1",
		Emoji:    ":rocket:",
		Name:     "Fintech raises",
		Interval: 6 * time.Hour,
		Active:   true,
		Blocks: []model.Block{
			model.NewSourceBlock(model.SourceBlock{Source: model.SourceNewsCompanySearch, Query: "fintech raises series A"}),
			model.NewFilterBlock(model.FilterCriteria{CompanyQuery: "Is it a bank?"}),
			model.NewActionBlock(model.ActionBlock{Action: model.ActionNotify, Message: "hi", Destinations: []string{"https://hooks.slack.com/x"}}),
		},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetTrigger", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))
		assert.NotEmpty(t, tr.ID)
		assert.Equal(t, int64(1), tr.Version)

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, "Fintech raises", got.Name)
		assert.Equal(t, 6*time.Hour, got.Interval)
		assert.True(t, got.Active)
		assert.Nil(t, got.NextRun)
		assert.Equal(t, tr.Blocks, got.Blocks)
		assert.Empty(t, got.Blacklist)
	})

	t.Run("GetTriggerNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetTrigger(context.Background(), "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("UpdateTriggerReplacesBlocksAndBumpsVersion", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))

		tr.Name = "Renamed"
		tr.Blocks = tr.Blocks[:1]
		require.NoError(t, s.UpdateTrigger(ctx, tr))
		assert.Equal(t, int64(2), tr.Version)

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		require.Len(t, got.Blocks, 1)
		assert.Equal(t, string(model.SourceNewsCompanySearch), got.Blocks[0].Kind())

		missing := sampleTrigger()
		missing.ID = "nope"
		assert.True(t, errors.Is(s.UpdateTrigger(ctx, missing), ErrNotFound))
	})

	t.Run("ListDueTriggers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		fresh := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, fresh))

		later := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, later))
		require.NoError(t, s.UpdateSchedule(ctx, later.ID, now, now.Add(time.Hour)))

		overdue := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, overdue))
		require.NoError(t, s.UpdateSchedule(ctx, overdue.ID, now.Add(-2*time.Hour), now.Add(-time.Hour)))

		inactive := sampleTrigger()
		inactive.Active = false
		require.NoError(t, s.CreateTrigger(ctx, inactive))

		due, err := s.ListDueTriggers(ctx, now)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, d := range due {
			ids[d.ID] = true
		}
		assert.True(t, ids[fresh.ID])
		assert.True(t, ids[overdue.ID])
		assert.False(t, ids[later.ID])
		assert.False(t, ids[inactive.ID])
	})

	t.Run("SetTriggerActive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))
		require.NoError(t, s.SetTriggerActive(ctx, tr.ID, false))

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)

		assert.True(t, errors.Is(s.SetTriggerActive(ctx, "missing", true), ErrNotFound))

		list, err := s.ListTriggers(ctx, TriggerFilter{ActiveOnly: true})
		require.NoError(t, err)
		assert.Empty(t, list)

		list, err = s.ListTriggers(ctx, TriggerFilter{TenantID: "tenant-1"})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("UpdateScheduleRoundTrips", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))

		last := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		next := last.Add(tr.Interval)
		require.NoError(t, s.UpdateSchedule(ctx, tr.ID, last, next))

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastRun)
		require.NotNil(t, got.NextRun)
		assert.True(t, last.Equal(*got.LastRun))
		assert.True(t, next.Equal(*got.NextRun))
	})

	t.Run("MergeBlacklistPrunesAndKeepsFirstSeen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))

		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		_, err := s.MergeBlacklist(ctx, tr.ID, []string{"Acme", "Globex"}, t0, model.DefaultBlacklistRetention)
		require.NoError(t, err)

		t1 := t0.Add(10 * 24 * time.Hour)
		bl, err := s.MergeBlacklist(ctx, tr.ID, []string{"acme", "Initech"}, t1, model.DefaultBlacklistRetention)
		require.NoError(t, err)
		assert.Equal(t, t0.Unix(), bl[model.BlacklistKey("Acme")].FirstSeen)
		assert.Len(t, bl, 3)

		// Globex is 15 days old by t2 and must be dropped.
		t2 := t0.Add(15 * 24 * time.Hour)
		bl, err = s.MergeBlacklist(ctx, tr.ID, nil, t2, model.DefaultBlacklistRetention)
		require.NoError(t, err)
		assert.NotContains(t, bl, model.BlacklistKey("Globex"))
		assert.NotContains(t, bl, model.BlacklistKey("Acme"))
		assert.Contains(t, bl, model.BlacklistKey("Initech"))

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, bl, got.Blacklist)
		assert.Equal(t, int64(4), got.Version)
	})

	t.Run("MergeBlacklistConcurrentWritersKeepAllKeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))

		now := time.Now().UTC()
		names := []string{"Acme", "Globex", "Initech", "Umbrella"}
		var wg sync.WaitGroup
		errs := make([]error, len(names))
		for i, n := range names {
			wg.Add(1)
			go func(i int, n string) {
				defer wg.Done()
				_, errs[i] = s.MergeBlacklist(ctx, tr.ID, []string{n}, now, model.DefaultBlacklistRetention)
			}(i, n)
		}
		wg.Wait()

		got, err := s.GetTrigger(ctx, tr.ID)
		require.NoError(t, err)
		for i, n := range names {
			if errs[i] == nil {
				assert.True(t, got.Blacklist.Contains(n, now, model.DefaultBlacklistRetention), n)
			} else {
				assert.True(t, errors.Is(errs[i], ErrVersionConflict), errs[i])
			}
		}
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))

		start := time.Now().UTC().Truncate(time.Second)
		run, err := s.CreateRun(ctx, tr.ID, start)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusUploading, "uploading"))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusUploading, got.Status)
		assert.Nil(t, got.CompletedAt)

		err = s.InsertCandidates(ctx, run.ID, []model.TriggerCandidate{
			{TriggerID: tr.ID, FirstName: "Ada", LastName: "Lovelace", ProfileURL: "https://linkedin.com/in/ada", CustomData: map[string]any{"note": "news"}},
			{TriggerID: tr.ID, FirstName: "Grace", LastName: "Hopper", ProfileURL: "https://linkedin.com/in/grace"},
		})
		require.NoError(t, err)

		done := start.Add(time.Minute)
		require.NoError(t, s.FinishRun(ctx, run.ID, RunFinish{
			Status:      model.RunStatusCompleted,
			Message:     "ok",
			Metadata:    map[string]any{model.MetaCandidatesUploaded: 2},
			CompletedAt: done,
		}))

		got, err = s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		assert.Equal(t, "ok", got.StatusMessage)
		assert.Equal(t, 2, got.CandidateCount)
		assert.EqualValues(t, 2, got.Metadata[model.MetaCandidatesUploaded])
		require.NotNil(t, got.CompletedAt)
		assert.True(t, done.Equal(*got.CompletedAt))

		cands, err := s.ListCandidates(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, "Ada", cands[0].FirstName)
		assert.Equal(t, run.ID, cands[0].RunID)
		assert.Equal(t, "news", cands[0].CustomData["note"])

		runs, err := s.ListRuns(ctx, RunFilter{TriggerID: tr.ID})
		require.NoError(t, err)
		assert.Len(t, runs, 1)

		runs, err = s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("InsertCandidatesUnknownRun", func(t *testing.T) {
		s := newStore(t)
		err := s.InsertCandidates(context.Background(), "missing", []model.TriggerCandidate{{ProfileURL: "u"}})
		require.Error(t, err)
	})

	t.Run("RunStatsAndStuckRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tr := sampleTrigger()
		require.NoError(t, s.CreateTrigger(ctx, tr))
		now := time.Now().UTC()

		old, err := s.CreateRun(ctx, tr.ID, now.Add(-3*time.Hour))
		require.NoError(t, err)

		failed, err := s.CreateRun(ctx, tr.ID, now.Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.FinishRun(ctx, failed.ID, RunFinish{Status: model.RunStatusFailed, Message: "search down", CompletedAt: now}))

		ok, err := s.CreateRun(ctx, tr.ID, now.Add(-time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.FinishRun(ctx, ok.ID, RunFinish{Status: model.RunStatusCompleted, CompletedAt: now}))

		stats, err := s.RunStats(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 1, stats.Running)
		assert.Equal(t, 1, stats.Failed)
		assert.Equal(t, 1, stats.Completed)
		assert.InDelta(t, 0.5, stats.FailureRate(), 0.001)

		stuck, err := s.ListStuckRuns(ctx, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, stuck, 1)
		assert.Equal(t, old.ID, stuck[0].ID)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLiteStore_DueScanSkipsMalformedTrigger(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(ctx))

	healthy := sampleTrigger()
	require.NoError(t, s.CreateTrigger(ctx, healthy))
	broken := sampleTrigger()
	broken.Name = "Written by a newer release"
	require.NoError(t, s.CreateTrigger(ctx, broken))

	_, err = s.db.ExecContext(ctx, `UPDATE triggers SET blocks = ? WHERE id = ?`,
		`[{"type":"webhook","params":{}}]`, broken.ID)
	require.NoError(t, err)

	due, err := s.ListDueTriggers(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, healthy.ID, due[0].ID)

	_, err = s.GetTrigger(ctx, broken.ID)
	require.Error(t, err)
	var mbe *model.MalformedBlockError
	require.True(t, errors.As(err, &mbe))
	assert.Equal(t, "webhook", mbe.Tag)
}

func TestMergeBlacklist_RetriesOnConflict(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	loads, saves := 0, 0
	cas := blacklistCAS{
		load: func(context.Context) (model.Blacklist, int64, error) {
			loads++
			return model.Blacklist{}, int64(loads), nil
		},
		save: func(_ context.Context, _ model.Blacklist, version int64) (bool, error) {
			saves++
			return version == 3, nil
		},
	}

	bl, err := mergeBlacklist(context.Background(), cas, []string{"Acme"}, now, model.DefaultBlacklistRetention)
	require.NoError(t, err)
	assert.Equal(t, 3, loads)
	assert.Equal(t, 3, saves)
	assert.Contains(t, bl, model.BlacklistKey("Acme"))
}

func TestMergeBlacklist_GivesUp(t *testing.T) {
	cas := blacklistCAS{
		load: func(context.Context) (model.Blacklist, int64, error) { return model.Blacklist{}, 1, nil },
		save: func(context.Context, model.Blacklist, int64) (bool, error) { return false, nil },
	}

	_, err := mergeBlacklist(context.Background(), cas, []string{"Acme"}, time.Now(), model.DefaultBlacklistRetention)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

func TestMergeBlacklist_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cas := blacklistCAS{
		load: func(context.Context) (model.Blacklist, int64, error) {
			t.Fatal("load must not be called")
			return nil, 0, nil
		},
	}
	_, err := mergeBlacklist(ctx, cas, nil, time.Now(), model.DefaultBlacklistRetention)
	assert.Error(t, err)
}

func TestRunStats_FailureRate(t *testing.T) {
	assert.Zero(t, RunStats{Running: 3}.FailureRate())
	assert.InDelta(t, 0.25, RunStats{Completed: 3, Failed: 1}.FailureRate(), 0.001)
}
