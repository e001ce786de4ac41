package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler, opts ...ClientOption) (Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	require.NotNil(t, sf)

	return NewClient(sf, opts...), ts
}

func TestSFClient_QueryLeads(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/query")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"totalSize": 1,
			"done":      true,
			"records": []map[string]any{
				{
					"attributes":      map[string]any{"type": "Lead"},
					"Id":              "00Qxx",
					"LinkedIn_URL__c": "https://linkedin.com/in/ada",
				},
			},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	found, err := ExistingLeadURLs(context.Background(), client, []string{"https://linkedin.com/in/ada"})
	require.NoError(t, err)
	assert.True(t, found["https://linkedin.com/in/ada"])
}

func TestSFClient_QueryError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`[{"message":"malformed query","errorCode":"MALFORMED_QUERY"}]`))
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	var rows []leadURLRow
	err := client.Query(context.Background(), "SELECT broken", &rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: query")
}

func TestSFClient_RateLimitCancelled(t *testing.T) {
	client, ts := newTestSFClient(t, http.NotFoundHandler(), WithRateLimit(0.001))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.InsertCollection(ctx, "Lead", []map[string]any{{"LastName": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
}
