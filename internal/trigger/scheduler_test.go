package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	ids  []string
	skip map[string]bool
	err  map[string]error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.err[id]; err != nil {
		return false, err
	}
	if d.skip[id] {
		return false, nil
	}
	d.ids = append(d.ids, id)
	return true, nil
}

func TestScheduler_TickDispatchesDueActiveTriggers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	fresh := createTrigger(t, st)
	due := createTrigger(t, st)
	require.NoError(t, st.UpdateSchedule(ctx, due.ID, now.Add(-7*time.Hour), now.Add(-time.Hour)))
	notYet := createTrigger(t, st)
	require.NoError(t, st.UpdateSchedule(ctx, notYet.ID, now, now.Add(time.Hour)))
	dormant := createTrigger(t, st)
	require.NoError(t, st.UpdateSchedule(ctx, dormant.ID, now.Add(-30*24*time.Hour), now.Add(-29*24*time.Hour)))
	require.NoError(t, st.SetTriggerActive(ctx, dormant.ID, false))

	d := &recordingDispatcher{}
	s := NewScheduler(st, d, time.Minute)
	s.now = func() time.Time { return now }

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{fresh.ID, due.ID}, d.ids)

	got, err := st.GetTrigger(ctx, dormant.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRun.Equal(now.Add(-29*24*time.Hour)), "inactive trigger schedule is untouched")

	require.NoError(t, st.SetTriggerActive(ctx, dormant.ID, true))
	d.ids = nil
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Contains(t, d.ids, dormant.ID, "reactivated overdue trigger runs immediately")
}

func TestScheduler_TickContinuesPastFailures(t *testing.T) {
	st := newTestStore(t)
	a := createTrigger(t, st)
	b := createTrigger(t, st)
	c := createTrigger(t, st)

	d := &recordingDispatcher{
		err:  map[string]error{a.ID: errors.New("temporal unavailable")},
		skip: map[string]bool{b.ID: true},
	}
	n, err := NewScheduler(st, d, 0).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{c.ID}, d.ids)
}

type failingLister struct{}

func (failingLister) ListDueTriggers(context.Context, time.Time) ([]model.Trigger, error) {
	return nil, errors.New("db down")
}

func TestScheduler_ListFailure(t *testing.T) {
	_, err := NewScheduler(failingLister{}, &recordingDispatcher{}, time.Minute).Tick(context.Background())
	assert.Error(t, err)
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	createTrigger(t, st)
	d := &recordingDispatcher{}
	s := NewScheduler(st, d, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.ids) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type blockingStarter struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	running map[string]bool
}

func (b *blockingStarter) TryRun(_ context.Context, id string) (*model.TriggerRun, bool, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return &model.TriggerRun{ID: "run-" + id, Status: model.RunStatusCompleted}, true, nil
}

func (b *blockingStarter) Running(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running[id]
}

func TestGoroutineDispatcher_SkipsInFlightTrigger(t *testing.T) {
	starter := &blockingStarter{release: make(chan struct{})}
	d := NewGoroutineDispatcher(context.Background(), starter)

	ok, err := d.Dispatch(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Dispatch(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok, "second dispatch while in flight is skipped")

	ok, _ = d.Dispatch(context.Background(), "t2")
	assert.True(t, ok, "other triggers are not blocked")
	assert.Equal(t, 2, d.InFlight())

	close(starter.release)
	d.Wait()
	assert.Equal(t, 0, d.InFlight())
	assert.Equal(t, 2, starter.calls)

	ok, _ = d.Dispatch(context.Background(), "t1")
	assert.True(t, ok, "dispatchable again once finished")
	d.Wait()
}

func TestGoroutineDispatcher_SkipsRunNowInProgress(t *testing.T) {
	starter := &blockingStarter{release: make(chan struct{}), running: map[string]bool{"t1": true}}
	close(starter.release)
	d := NewGoroutineDispatcher(context.Background(), starter)

	ok, err := d.Dispatch(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGoroutineDispatcher_WithRunner(t *testing.T) {
	h := newHarness(t, RunnerConfig{})
	tr := createTrigger(t, h.store)

	d := NewGoroutineDispatcher(context.Background(), h.runner)
	ok, err := d.Dispatch(context.Background(), tr.ID)
	require.NoError(t, err)
	require.True(t, ok)
	d.Wait()

	runs, err := h.store.ListRuns(context.Background(), storeRunFilter(tr.ID))
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusCompleted, runs[0].Status)
}

func TestScheduler_FailedRunIsRetriedOnNextTick(t *testing.T) {
	h := newHarness(t, RunnerConfig{})
	h.searcher.news = newsItems("Acme raises $20M")
	tr := createTrigger(t, h.store, newsBlock("fintech raises"))

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	fixedClock(h.runner, start)
	_, err := h.runner.Run(context.Background(), tr.ID)
	require.NoError(t, err)
	nextRun := start.Add(6 * time.Hour)

	h.searcher.newsErr = model.NewCollaboratorError("jina", "news", errors.New("unreachable"))
	failedAt := nextRun.Add(time.Minute)
	fixedClock(h.runner, failedAt)
	_, err = h.runner.Run(context.Background(), tr.ID)
	require.Error(t, err)

	got, err := h.store.GetTrigger(context.Background(), tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(nextRun), "a failed run leaves nextRun in the past")

	d := &recordingDispatcher{}
	s := NewScheduler(h.store, d, time.Minute)
	for i := 1; i <= 2; i++ {
		s.now = func() time.Time { return failedAt.Add(time.Duration(i) * time.Minute) }
		n, err := s.Tick(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n, "tick %d", i)
	}
	assert.Equal(t, []string{tr.ID, tr.ID}, d.ids)
}
