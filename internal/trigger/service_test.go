package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

func TestService_CreateValidatesAndStores(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, NewRegistry(Deps{}, RunnerConfig{}))
	ctx := context.Background()

	bad := validTrigger()
	bad.Blocks = nil
	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(svc.Create(ctx, bad), &cfgErr))

	tr := validTrigger()
	require.NoError(t, svc.Create(ctx, tr))
	require.NotEmpty(t, tr.ID)

	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Blocks, got.Blocks)

	list, err := svc.List(ctx, store.TriggerFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_UpdateKeepsLedgerAndSchedule(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, NewRegistry(Deps{}, RunnerConfig{}))
	ctx := context.Background()

	tr := validTrigger()
	require.NoError(t, svc.Create(ctx, tr))
	now := time.Now().UTC()
	_, err := st.MergeBlacklist(ctx, tr.ID, []string{"Acme"}, now, model.DefaultBlacklistRetention)
	require.NoError(t, err)
	require.NoError(t, st.UpdateSchedule(ctx, tr.ID, now, now.Add(tr.Interval)))

	edit := &model.Trigger{
		ID:       tr.ID,
		TenantID: "someone-else",
		Name:     "Renamed",
		Interval: 12 * time.Hour,
		Active:   true,
		Blocks:   []model.Block{newsBlock("new query")},
	}
	require.NoError(t, svc.Update(ctx, edit))
	assert.Equal(t, "tenant-1", edit.TenantID)

	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Len(t, got.Blocks, 1)
	assert.Contains(t, got.Blacklist, model.BlacklistKey("Acme"))
	require.NotNil(t, got.NextRun)
	assert.Greater(t, got.Version, tr.Version)
}

func TestService_UpdateMissing(t *testing.T) {
	svc := NewService(newTestStore(t), nil)
	err := svc.Update(context.Background(), validTrigger())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_RunsAndCandidates(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	tr := validTrigger()
	require.NoError(t, svc.Create(ctx, tr))
	run, err := st.CreateRun(ctx, tr.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, st.InsertCandidates(ctx, run.ID, []model.TriggerCandidate{{TriggerID: tr.ID, FirstName: "Ada", ProfileURL: "u1"}}))

	runs, err := svc.Runs(ctx, tr.ID, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	cands, err := svc.Candidates(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, cands, 1)

	_, err = svc.Runs(ctx, "missing", 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.Candidates(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_SetActive(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st, nil)
	ctx := context.Background()
	tr := validTrigger()
	require.NoError(t, svc.Create(ctx, tr))

	require.NoError(t, svc.SetActive(ctx, tr.ID, false))
	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	assert.ErrorIs(t, svc.SetActive(ctx, "missing", true), store.ErrNotFound)
}
