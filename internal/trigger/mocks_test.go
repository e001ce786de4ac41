package trigger

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "triggers.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func createTrigger(t *testing.T, st store.Store, blocks ...model.Block) *model.Trigger {
	t.Helper()
	tr := &model.Trigger{
		TenantID: "tenant-1",
		Name:     "Fintech raises",
		Interval: 6 * time.Hour,
		Active:   true,
		Blocks:   blocks,
	}
	require.NoError(t, st.CreateTrigger(context.Background(), tr))
	return tr
}

// fakeClassifier answers prompts through fn and records them.
type fakeClassifier struct {
	mu      sync.Mutex
	prompts []string
	fn      func(prompt string) (string, error)
}

func (f *fakeClassifier) Classify(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.fn(prompt)
}

func (f *fakeClassifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// companyFromTitle answers company extraction with the first word of the
// news title, or "none" when the title starts with "Opinion".
func companyFromTitle(prompt string) (string, error) {
	for _, line := range strings.Split(prompt, "\n") {
		if title, ok := strings.CutPrefix(line, "Title: "); ok {
			if strings.HasPrefix(title, "Opinion") {
				return "none", nil
			}
			return strings.Fields(title)[0], nil
		}
	}
	return "none", nil
}

type fakeSearcher struct {
	mu          sync.Mutex
	news        []NewsResult
	newsErr     error
	newsQueries []string
	newsBlock   bool

	people        func(query string) ([]PersonResult, error)
	peopleQueries []string
	peopleLimits  []int
}

func (f *fakeSearcher) SearchNews(ctx context.Context, query, _ string) ([]NewsResult, error) {
	f.mu.Lock()
	f.newsQueries = append(f.newsQueries, query)
	f.mu.Unlock()
	if f.newsBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.news, f.newsErr
}

func (f *fakeSearcher) SearchPeople(_ context.Context, query string, limit int) ([]PersonResult, error) {
	f.mu.Lock()
	f.peopleQueries = append(f.peopleQueries, query)
	f.peopleLimits = append(f.peopleLimits, limit)
	f.mu.Unlock()
	if f.people == nil {
		return nil, nil
	}
	return f.people(query)
}

type fakeEnricher struct {
	mu       sync.Mutex
	ids      []string
	profiles map[string]*ProfileDetail
	err      map[string]error
}

func (f *fakeEnricher) EnrichProfile(_ context.Context, id string) (*ProfileDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	if err := f.err[id]; err != nil {
		return nil, err
	}
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return &ProfileDetail{FirstName: strings.ToUpper(id[:1]) + id[1:], LastName: "Doe", Title: "CTO", ProfileURL: "https://linkedin.com/in/" + id}, nil
}

type fakeIngester struct {
	mu       sync.Mutex
	requests []IngestRequest
	result   *IngestResult
	noResult bool
	err      error
}

func (f *fakeIngester) IngestCandidates(_ context.Context, req IngestRequest) (*IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil || f.noResult {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &IngestResult{Message: "ok", Accepted: len(req.Rows)}, nil
}

type sentNotification struct {
	message      string
	blocks       []model.RichBlock
	destinations []string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	ok   bool
}

func (f *fakeNotifier) Notify(_ context.Context, message string, blocks []model.RichBlock, destinations []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{message: message, blocks: blocks, destinations: destinations})
	return f.ok
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.message)
	}
	return out
}

type broadcastEvent struct {
	topic   string
	channel string
	message any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

func (r *recordingBroadcaster) Broadcast(topic string, message any, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, broadcastEvent{topic: topic, channel: channel, message: message})
}

func (r *recordingBroadcaster) statuses() []model.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RunStatus
	for _, e := range r.events {
		if e.channel != ChannelStatus {
			continue
		}
		if m, ok := e.message.(map[string]any); ok {
			if s, ok := m["status"].(model.RunStatus); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// harness wires a Runner over a temp sqlite store and fakes.
type harness struct {
	store       *store.SQLiteStore
	classifier  *fakeClassifier
	searcher    *fakeSearcher
	enricher    *fakeEnricher
	ingester    *fakeIngester
	notifier    *fakeNotifier
	broadcaster *recordingBroadcaster
	runner      *Runner
}

func newHarness(t *testing.T, cfg RunnerConfig) *harness {
	t.Helper()
	h := &harness{
		store:       newTestStore(t),
		classifier:  &fakeClassifier{fn: companyFromTitle},
		searcher:    &fakeSearcher{},
		enricher:    &fakeEnricher{},
		ingester:    &fakeIngester{},
		notifier:    &fakeNotifier{ok: true},
		broadcaster: &recordingBroadcaster{},
	}
	h.runner = NewRunner(h.deps(), cfg)
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Store:       h.store,
		Classifier:  h.classifier,
		Searcher:    h.searcher,
		Enricher:    h.enricher,
		Ingester:    h.ingester,
		Notifier:    h.notifier,
		Broadcaster: h.broadcaster,
	}
}

func newsItems(titles ...string) []NewsResult {
	out := make([]NewsResult, 0, len(titles))
	for i, title := range titles {
		out = append(out, NewsResult{
			Title:   title,
			Snippet: "snippet " + title,
			Link:    "https://news.example.com/" + string(rune('a'+i)),
		})
	}
	return out
}

func stageContext(now time.Time, bl model.Blacklist) *StageContext {
	return &StageContext{
		Trigger:   &model.Trigger{ID: "t1", TenantID: "tenant-1"},
		Run:       &model.TriggerRun{ID: "r1", Status: model.RunStatusRunning},
		Now:       now,
		Retention: model.DefaultBlacklistRetention,
		Blacklist: bl,
	}
}

func storeRunFilter(triggerID string) store.RunFilter {
	return store.RunFilter{TriggerID: triggerID}
}
