// Package api implements the client for the remote batching API. A single
// call carries a list of opaque request descriptors and returns, in the same
// order, a success payload or per-item failure for each.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/chain"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

// Operation names accepted by the batch endpoint.
const (
	OpBalance       = "balance"
	OpHistory       = "history"
	OpPrice         = "price"
	OpLatestPrice   = "latestPrice"
	OpCustomAccount = "customAccount"
	OpTxnStatus     = "txnStatus"
)

// Request is one opaque request descriptor inside a batch call.
type Request struct {
	Chain  chain.ID       `json:"chain"`
	Op     string         `json:"op"`
	Params map[string]any `json:"params,omitempty"`
}

// RespError is a per-item failure marker.
type RespError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one entry of a batch response, matched to its request by index.
type Response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RespError      `json:"error,omitempty"`
}

// Failed reports whether this item carries a failure marker.
func (r Response) Failed() bool {
	return r.Error != nil
}

// ClientOptions customizes a Client.
type ClientOptions struct {
	HTTPClient  *http.Client
	Logger      *zap.Logger
	ClientRPS   float64 // budget for the rate-limited request class
	ClientBurst int
	PacingRPS   int // pacing of batch submissions
}

// Client talks to the batching API. Ordinary batches are paced; client-class
// batches additionally draw from a per-chain token-bucket budget shared
// across callers.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	logger      *zap.Logger
	clientClass *chain.RateLimiter
	pacer       ratelimit.Limiter
}

// NewClient creates a batch API client for the given endpoint.
func NewClient(baseURL string, opts *ClientOptions) *Client {
	if opts == nil {
		opts = &ClientOptions{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientRPS := opts.ClientRPS
	if clientRPS <= 0 {
		clientRPS = 4
	}
	clientBurst := opts.ClientBurst
	if clientBurst <= 0 {
		clientBurst = 8
	}
	pacingRPS := opts.PacingRPS
	if pacingRPS <= 0 {
		pacingRPS = 10
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     baseURL,
		logger:      logger,
		clientClass: chain.NewRateLimiter(clientRPS, clientBurst),
		pacer:       ratelimit.New(pacingRPS),
	}
}

// Batch submits an ordinary batch call. The returned slice always has one
// response per submitted request, in submission order. A network-level
// failure is reported as an error and counts as failure of every item.
func (c *Client) Batch(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	c.pacer.Take()
	return c.submit(ctx, reqs)
}

// BatchClient submits a rate-limited "client" class batch, waiting for budget
// from the bucket of every chain the batch touches first.
func (c *Client) BatchClient(ctx context.Context, reqs []Request) ([]Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	waited := map[chain.ID]bool{}
	for _, req := range reqs {
		if waited[req.Chain] {
			continue
		}
		waited[req.Chain] = true
		if err := c.clientClass.Wait(ctx, req.Chain); err != nil {
			return nil, err
		}
	}
	c.pacer.Take()
	return c.submit(ctx, reqs)
}

func (c *Client) submit(ctx context.Context, reqs []Request) ([]Response, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, syncerr.Wrap(err, "encoding batch request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, syncerr.Wrap(err, "building batch request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("batch call",
		zap.Int("items", len(reqs)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := chain.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, syncerr.WithDetails(syncerr.ErrRateLimited, map[string]string{
			"retryAfter": retryAfter.String(),
		})
	}

	if resp.StatusCode >= 500 {
		return nil, syncerr.WithDetails(syncerr.ErrServerRejected, map[string]string{
			"status": resp.Status,
		})
	}

	if resp.StatusCode != http.StatusOK {
		return nil, syncerr.WithDetails(syncerr.ErrValidation, map[string]string{
			"status": resp.Status,
		})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", syncerr.ErrTransport, err)
	}

	var out []Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, syncerr.Wrap(syncerr.ErrValidation, "decoding batch response")
	}

	// Responses are zipped back to requests index-for-index; a length
	// mismatch would mis-attribute outcomes, so treat it as a whole-call
	// failure.
	if len(out) != len(reqs) {
		return nil, syncerr.WithDetails(syncerr.ErrValidation, map[string]string{
			"sent":     fmt.Sprintf("%d", len(reqs)),
			"received": fmt.Sprintf("%d", len(out)),
		})
	}

	return out, nil
}

// RetryAfterOf extracts the cool-down carried by a rate-limit error, or 0.
func RetryAfterOf(err error) time.Duration {
	var se *syncerr.SyncError
	if !errors.As(err, &se) {
		return 0
	}
	if v, ok := se.Details["retryAfter"]; ok {
		if d, parseErr := time.ParseDuration(v); parseErr == nil {
			return d
		}
	}
	return 0
}
