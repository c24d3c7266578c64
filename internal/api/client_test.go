package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwestra/tidesync/internal/api"
	"github.com/kwestra/tidesync/internal/chain"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *api.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, &api.ClientOptions{PacingRPS: 1000, ClientRPS: 1000, ClientBurst: 1000})
}

func TestBatch_OrderPreserved(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var reqs []api.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))

		// Echo the op of each request back so the test can verify order.
		out := make([]api.Response, len(reqs))
		for i, req := range reqs {
			data, _ := json.Marshal(map[string]string{"op": req.Op})
			out[i] = api.Response{Data: data}
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	reqs := []api.Request{
		{Chain: chain.BTC, Op: api.OpBalance},
		{Chain: chain.BTC, Op: api.OpHistory},
		{Chain: chain.ETH, Op: api.OpLatestPrice},
	}
	resps, err := client.Batch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, resps, 3)

	for i, want := range []string{api.OpBalance, api.OpHistory, api.OpLatestPrice} {
		var payload map[string]string
		require.NoError(t, json.Unmarshal(resps[i].Data, &payload))
		assert.Equal(t, want, payload["op"])
	}
}

func TestBatch_EmptyIsNoop(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	resps, err := client.Batch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, resps)
	assert.False(t, called)
}

func TestBatch_PerItemFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		out := []api.Response{
			{Data: json.RawMessage(`{"balance":"10"}`)},
			{Error: &api.RespError{Code: 500, Message: "upstream node down"}},
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	resps, err := client.Batch(context.Background(), []api.Request{
		{Chain: chain.BTC, Op: api.OpBalance},
		{Chain: chain.LTC, Op: api.OpBalance},
	})
	require.NoError(t, err)
	require.Len(t, resps, 2)
	assert.False(t, resps[0].Failed())
	assert.True(t, resps[1].Failed())
	assert.Equal(t, "upstream node down", resps[1].Error.Message)
}

func TestBatch_LengthMismatchIsValidationError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]api.Response{{}})
	})

	_, err := client.Batch(context.Background(), []api.Request{
		{Op: api.OpBalance}, {Op: api.OpHistory},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrValidation)
}

func TestBatch_RateLimitedCarriesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Batch(context.Background(), []api.Request{{Op: api.OpBalance}})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrRateLimited)
	assert.Equal(t, 7*time.Second, api.RetryAfterOf(err))
}

func TestBatch_ServerErrorIsRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Batch(context.Background(), []api.Request{{Op: api.OpBalance}})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrServerRejected)
}

func TestBatch_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // connection refused from here on

	client := api.NewClient(url, &api.ClientOptions{PacingRPS: 1000})
	_, err := client.Batch(context.Background(), []api.Request{{Op: api.OpBalance}})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrTransport)
}

func TestBatchClient_UsesBudget(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]api.Response{{}})
	})

	resps, err := client.BatchClient(context.Background(), []api.Request{{Op: api.OpLatestPrice}})
	require.NoError(t, err)
	assert.Len(t, resps, 1)
}

func TestBatchClient_PerChainBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]api.Response{{}})
	}))
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL, &api.ClientOptions{
		PacingRPS: 1000, ClientRPS: 0.001, ClientBurst: 1,
	})

	// Each chain starts with one token of burst.
	_, err := client.BatchClient(context.Background(), []api.Request{{Chain: chain.BTC, Op: api.OpLatestPrice}})
	require.NoError(t, err)
	_, err = client.BatchClient(context.Background(), []api.Request{{Chain: chain.ETH, Op: api.OpLatestPrice}})
	require.NoError(t, err, "a different chain draws from its own bucket")

	// The spent chain blocks until its bucket refills.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.BatchClient(ctx, []api.Request{{Chain: chain.BTC, Op: api.OpLatestPrice}})
	require.Error(t, err)
}

func TestRetryAfterOf_NonRateLimitError(t *testing.T) {
	assert.Zero(t, api.RetryAfterOf(nil))
	assert.Zero(t, api.RetryAfterOf(syncerr.ErrTransport))
}
