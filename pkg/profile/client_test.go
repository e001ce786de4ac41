package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/resilience"
)

func TestGetProfile_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/profiles/ada-lovelace", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"first_name":"Ada","last_name":"Lovelace","title":"CTO","company":"Acme","industry":"Software"}`))
	}))
	defer srv.Close()

	d, err := NewClient(srv.URL, "key").GetProfile(context.Background(), "ada-lovelace")
	require.NoError(t, err)
	assert.Equal(t, "ada-lovelace", d.ProfileID)
	assert.Equal(t, "Ada", d.FirstName)
	assert.Equal(t, "Lovelace", d.LastName)
	assert.Equal(t, "CTO", d.Title)
	assert.Equal(t, "Acme", d.Company)
	assert.Equal(t, "Software", d.Industry)
}

func TestGetProfile_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   string
		transient bool
	}{
		{name: "not found", status: http.StatusNotFound, body: "missing", wantErr: "404"},
		{name: "throttled", status: http.StatusTooManyRequests, body: "slow down", wantErr: "429", transient: true},
		{name: "bad json", status: http.StatusOK, body: "{", wantErr: "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "").GetProfile(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestGetProfile_EmptyID(t *testing.T) {
	t.Parallel()

	_, err := NewClient("http://unused", "").GetProfile(context.Background(), "")
	require.Error(t, err)
}

func TestIDFromURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.linkedin.com/in/ada-lovelace/":        "ada-lovelace",
		"https://linkedin.com/in/ada-lovelace?trk=public":  "ada-lovelace",
		"https://uk.linkedin.com/in/j%C3%B6rg-m%C3%BCller": "jörg-müller",
		"https://linkedin.com/company/acme":                "",
		"https://linkedin.com/in/":                         "",
		"":                                                 "",
		"::not a url":                                      "",
	}
	for in, want := range tests {
		assert.Equal(t, want, IDFromURL(in), in)
	}
}
