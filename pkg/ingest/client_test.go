package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

func TestIngest_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenants/t1/campaigns/c1/prospects", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body struct {
			Prospects       []Row `json:"prospects"`
			AllowDuplicates bool  `json:"allow_duplicates"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Prospects, 1)
		assert.Equal(t, "https://linkedin.com/in/ada", body.Prospects[0].LinkedInURL)
		assert.False(t, body.AllowDuplicates)

		_, _ = w.Write([]byte(`{"message":"ok","inserted":1}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "key").Ingest(context.Background(), Request{
		TenantID:   "t1",
		CampaignID: "c1",
		Rows:       []Row{{FirstName: "Ada", LastName: "Lovelace", LinkedInURL: "https://linkedin.com/in/ada"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Inserted)
	assert.Equal(t, "ok", resp.Message)
}

func TestIngest_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"campaign archived","error_code":"CAMPAIGN_CLOSED"}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").Ingest(context.Background(), Request{TenantID: "t", CampaignID: "c"})
	require.Error(t, err)
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "CAMPAIGN_CLOSED", rej.Code)
	assert.Equal(t, "campaign archived", resp.Message)
	assert.False(t, resilience.IsTransient(err))
}

func TestIngest_StatusErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Ingest(context.Background(), Request{TenantID: "t", CampaignID: "c"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestIngest_RequiresScope(t *testing.T) {
	t.Parallel()

	_, err := NewClient("http://unused", "").Ingest(context.Background(), Request{TenantID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant id and campaign id are required")
}

func TestIngest_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, "").Ingest(context.Background(), Request{TenantID: "t", CampaignID: "c"})
	require.NoError(t, err)
	assert.Empty(t, resp.ErrorCode)
}
