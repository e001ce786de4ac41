package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/notify"
	"github.com/sells-group/trigger-cli/internal/store"
	"github.com/sells-group/trigger-cli/internal/trigger"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	started map[string]bool
	calls   []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.started[id] {
		return false, nil
	}
	if f.started == nil {
		f.started = map[string]bool{}
	}
	f.started[id] = true
	return true, nil
}

type testAPI struct {
	store      store.Store
	dispatcher *fakeDispatcher
	hub        *notify.Hub
	srv        *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	registry := trigger.NewRegistry(trigger.Deps{}, trigger.RunnerConfig{})
	a := &testAPI{store: st, dispatcher: &fakeDispatcher{}, hub: notify.NewHub()}
	s := NewServer(trigger.NewService(st, registry), a.dispatcher, a.hub, WithKeepAlive(50*time.Millisecond))
	a.srv = httptest.NewServer(s.Handler())
	t.Cleanup(a.srv.Close)
	return a
}

const definitionJSON = `{
  "tenant_id": "tenant-1",
  "name": "Fintech raises",
  "interval": "6h",
  "blocks": [
    {"type": "source", "params": {"kind": "NEWS_COMPANY_SEARCH", "query": "fintech raises"}},
    {"type": "source", "params": {"kind": "EXTRACT_PEOPLE_FROM_COMPANIES", "titles": ["CTO"]}},
    {"type": "action", "params": {"kind": "UPLOAD_CANDIDATES", "campaignId": "camp-1"}}
  ]
}`

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (a *testAPI) create(t *testing.T) model.Trigger {
	t.Helper()
	resp := a.do(t, http.MethodPost, "/triggers", definitionJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Trigger](t, resp)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestCreateAndGetTrigger(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 6*time.Hour, created.Interval)
	assert.True(t, created.Active)

	resp := a.do(t, http.MethodGet, "/triggers/"+created.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Trigger](t, resp)
	require.Len(t, got.Blocks, 3)
	assert.Equal(t, "camp-1", got.Blocks[2].Action.CampaignID)

	resp = a.do(t, http.MethodGet, "/triggers?tenant_id=tenant-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Trigger](t, resp), 1)
}

func TestCreateTrigger_Rejections(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no blocks", `{"tenant_id":"t","name":"x","interval":"1h","blocks":[]}`, "blocks"},
		{"bad interval", `{"tenant_id":"t","name":"x","interval":"daily","blocks":[]}`, "interval"},
		{"upload without campaign", `{"tenant_id":"t","name":"x","interval":"1h","blocks":[{"type":"action","params":{"kind":"UPLOAD_CANDIDATES"}}]}`, "blocks[0].campaignId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do(t, http.MethodPost, "/triggers", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.field, decode[errorBody](t, resp).Field)
		})
	}

	resp := a.do(t, http.MethodPost, "/triggers", `{"tenant_id":"t","name":"x","interval":"1h","blocks":[{"type":"webhook","params":{}}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[errorBody](t, resp).Error, "malformed block")

	resp = a.do(t, http.MethodPost, "/triggers", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateTrigger(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)

	body := strings.Replace(definitionJSON, "Fintech raises", "Insurtech raises", 1)
	resp := a.do(t, http.MethodPut, "/triggers/"+created.ID, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Insurtech raises", decode[model.Trigger](t, resp).Name)

	resp = a.do(t, http.MethodPut, "/triggers/missing", definitionJSON)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTrigger_NotFound(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/triggers/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunTrigger(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)

	resp := a.do(t, http.MethodPost, "/triggers/"+created.ID+"/run", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/triggers/"+created.ID+"/run", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/triggers/missing/run", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []string{created.ID, created.ID}, a.dispatcher.calls)
}

func TestSetActive(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)

	resp := a.do(t, http.MethodPost, "/triggers/"+created.ID+"/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := a.store.GetTrigger(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	resp = a.do(t, http.MethodPost, "/triggers/"+created.ID+"/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunsAndCandidates(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)
	ctx := context.Background()

	run, err := a.store.CreateRun(ctx, created.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, a.store.InsertCandidates(ctx, run.ID, []model.TriggerCandidate{
		{TriggerID: created.ID, FirstName: "Ada", LastName: "Lovelace", ProfileURL: "https://linkedin.com/in/ada"},
	}))

	resp := a.do(t, http.MethodGet, "/triggers/"+created.ID+"/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]model.TriggerRun](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)

	resp = a.do(t, http.MethodGet, "/runs/"+run.ID+"/candidates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cands := decode[[]model.TriggerCandidate](t, resp)
	require.Len(t, cands, 1)
	assert.Equal(t, "Ada", cands[0].FirstName)

	resp = a.do(t, http.MethodGet, "/runs/missing/candidates", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_RelaysEvents(t *testing.T) {
	a := newTestAPI(t)
	created := a.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.srv.URL+"/triggers/"+created.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return a.hub.Subscribers(created.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
	a.hub.Broadcast(created.ID, map[string]any{"status": "RUNNING"}, trigger.ChannelStatus)

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, trigger.ChannelStatus, eventLine)

	var ev notify.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, created.ID, ev.Topic)

	cancel()
	require.Eventually(t, func() bool { return a.hub.Subscribers(created.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_UnknownTrigger(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/triggers/missing/stream", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)
	req, err := http.NewRequest(http.MethodOptions, a.srv.URL+"/triggers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
