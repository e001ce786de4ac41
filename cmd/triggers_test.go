package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/model"
	"github.com/sells-group/trigger-cli/internal/store"
)

const singleTriggerYAML = `
tenant_id: tenant-1
emoji: "🚀"
name: Fintech raises
interval: 6h
blocks:
  - type: source
    params:
      kind: NEWS_COMPANY_SEARCH
      query: fintech series A
  - type: source
    params:
      kind: EXTRACT_PEOPLE_FROM_COMPANIES
      titles: [CTO, VP Engineering]
  - type: filter
    params:
      criteria:
        personTitles: [CTO]
  - type: action
    params:
      kind: NOTIFY
      message: "[[METADATA.currentPeopleFound]] new people"
      destinations: ["https://hooks.slack.com/services/abc"]
  - type: action
    params:
      kind: UPLOAD_CANDIDATES
      campaignId: camp-1
`

const multiTriggerYAML = `
triggers:
  - tenant_id: tenant-1
    name: One
    interval: 1h
    blocks:
      - type: source
        params: {kind: NEWS_COMPANY_SEARCH, query: one}
  - tenant_id: tenant-1
    name: Two
    interval: 2h
    active: false
    blocks:
      - type: source
        params: {kind: NEWS_COMPANY_SEARCH, query: two}
`

func TestLoadDefinitions_Single(t *testing.T) {
	defs, err := loadDefinitions([]byte(singleTriggerYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Fintech raises", defs[0].Name)
	assert.Len(t, defs[0].Blocks, 5)
}

func TestLoadDefinitions_Multiple(t *testing.T) {
	defs, err := loadDefinitions([]byte(multiTriggerYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Two", defs[1].Name)
	require.NotNil(t, defs[1].Active)
	assert.False(t, *defs[1].Active)
}

func TestLoadDefinitions_Errors(t *testing.T) {
	_, err := loadDefinitions([]byte("foo: bar\n"))
	assert.Error(t, err)

	_, err = loadDefinitions([]byte("name: x\ninterval: 1h\nblocks:\n  - type: webhook\n    params: {}\n"))
	var mbe *model.MalformedBlockError
	assert.ErrorAs(t, err, &mbe)
}

func TestApplyDefinitions_CreatesThenUpdates(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	svc := newService(st)

	defs, err := loadDefinitions([]byte(singleTriggerYAML))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, applyDefinitions(ctx, svc, defs, &out))
	assert.Contains(t, out.String(), "created")

	ts, err := st.ListTriggers(ctx, store.TriggerFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, 6*time.Hour, ts[0].Interval)

	defs[0].ID = ts[0].ID
	defs[0].Interval = "12h"
	out.Reset()
	require.NoError(t, applyDefinitions(ctx, svc, defs, &out))
	assert.Contains(t, out.String(), "updated "+ts[0].ID)

	got, err := st.GetTrigger(ctx, ts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, got.Interval)
}

func TestApplyDefinitions_InvalidStopsEarly(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	defs, err := loadDefinitions([]byte(multiTriggerYAML))
	require.NoError(t, err)
	defs[1].Blocks = nil

	var out bytes.Buffer
	err = applyDefinitions(ctx, newService(st), defs, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger 1 (Two)")

	ts, err := st.ListTriggers(ctx, store.TriggerFilter{})
	require.NoError(t, err)
	assert.Len(t, ts, 1, "the first definition was applied")
}

func TestReadDefinitions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(multiTriggerYAML), 0o644))
	defs, err := readDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = readDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshalDefinition_RoundTrip(t *testing.T) {
	defs, err := loadDefinitions([]byte(singleTriggerYAML))
	require.NoError(t, err)
	tr, err := defs[0].Trigger()
	require.NoError(t, err)
	tr.ID = "t1"

	raw, err := marshalDefinition(tr)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "interval: 6h0m0s")

	back, err := loadDefinitions(raw)
	require.NoError(t, err)
	require.Len(t, back, 1)
	again, err := back[0].Trigger()
	require.NoError(t, err)
	assert.Equal(t, tr.Blocks, again.Blocks)
	assert.Equal(t, "t1", again.ID)
}

func TestFormatTriggersList(t *testing.T) {
	next := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	ts := []model.Trigger{
		{ID: "abc12345-0000", Name: "Fintech", Emoji: "🚀", TenantID: "tenant-1", Active: true, Interval: 6 * time.Hour, NextRun: &next},
		{ID: "def67890-0000", Name: "Insurtech", TenantID: "tenant-2", Interval: time.Hour},
	}

	var buf bytes.Buffer
	formatTriggersList(&buf, ts)
	out := buf.String()
	assert.Contains(t, out, "NEXT RUN")
	assert.Contains(t, out, "🚀 Fintech")
	assert.Contains(t, out, "abc12345")
	assert.Contains(t, out, "2026-05-01 15:00")
	assert.Contains(t, out, "due")
}
