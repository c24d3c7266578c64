package version_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/chain"
	"github.com/kwestra/tidesync/internal/version"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{name: "equal", a: "1.2.3", b: "1.2.3", want: 0},
		{name: "equal with v prefix", a: "v1.2.3", b: "1.2.3", want: 0},
		{name: "newer patch", a: "1.2.4", b: "1.2.3", want: 1},
		{name: "older minor", a: "1.1.9", b: "1.2.0", want: -1},
		{name: "newer major", a: "2.0.0", b: "1.9.9", want: 1},
		{name: "short form", a: "1.3", b: "1.2.9", want: 1},
		{name: "dev older than release", a: "dev", b: "0.0.1", want: -1},
		{name: "release newer than dev", a: "0.0.1", b: "dev", want: 1},
		{name: "both dev", a: "dev", b: "", want: 0},
		{name: "pre-release suffix ignored", a: "1.2.3-rc1", b: "1.2.3", want: 0},
		{name: "garbage treated as dev", a: "abc123", b: "1.0.0", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, version.Compare(tt.a, tt.b))
		})
	}
}

func TestCheckLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/releases/latest")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name": "v99.0.0"}`))
	}))
	defer srv.Close()

	c := &version.Client{BaseURL: srv.URL}
	info, err := c.CheckLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v99.0.0", info.Latest)
	assert.True(t, info.IsNewer, "any release is newer than a dev build")
}

func TestCheckLatestServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &version.Client{BaseURL: srv.URL}
	_, err := c.CheckLatest(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a deliberate rejection is not retried")
}

func TestCheckLatestRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name": "v1.0.0"}`))
	}))
	defer srv.Close()

	c := &version.Client{
		BaseURL: srv.URL,
		Retry: chain.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
	info, err := c.CheckLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "v1.0.0", info.Latest)
}
