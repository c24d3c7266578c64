// Package version carries build version information and the release
// update check.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kwestra/tidesync/internal/chain"
)

// Version is the build version, overridden at link time via
// -ldflags "-X github.com/kwestra/tidesync/internal/version.Version=v1.2.3".
var Version = "dev"

const (
	defaultBaseURL   = "https://api.github.com"
	releaseRepo      = "kwestra/tidesync"
	requestTimeout   = 30 * time.Second
	maxResponseBytes = 64 * 1024
)

// Release is the subset of a GitHub release the update check needs.
type Release struct {
	TagName     string    `json:"tag_name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

// Info is the result of an update check.
type Info struct {
	Current string
	Latest  string
	IsNewer bool
}

// Client fetches release information.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      chain.RetryConfig // zero value uses chain.DefaultRetryConfig
}

// CheckLatest compares the running build against the newest published
// release using the default client.
func CheckLatest(ctx context.Context) (Info, error) {
	return (&Client{}).CheckLatest(ctx)
}

// CheckLatest compares the running build against the newest published
// release.
func (c *Client) CheckLatest(ctx context.Context) (Info, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	retryCfg := c.Retry
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = chain.DefaultRetryConfig()
	}

	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimSuffix(baseURL, "/"), releaseRepo)

	// Transient failures (network, 5xx) are retried; anything the server
	// answered deliberately is not.
	release, err := chain.RetryWithConfig(ctx, retryCfg, func() (Release, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return Release{}, reqErr
		}
		req.Header.Set("User-Agent", fmt.Sprintf("tidesync/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH))
		req.Header.Set("Accept", "application/vnd.github.v3+json")

		resp, doErr := httpClient.Do(req)
		if doErr != nil {
			return Release{}, chain.WrapRetryable(fmt.Errorf("fetching release: %w", doErr))
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return Release{}, chain.WrapRetryable(fmt.Errorf("release lookup failed: %s", resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return Release{}, fmt.Errorf("release lookup failed: %s", resp.Status)
		}

		var rel Release
		if decErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rel); decErr != nil {
			return Release{}, fmt.Errorf("decoding release: %w", decErr)
		}
		return rel, nil
	})
	if err != nil {
		return Info{}, err
	}

	return Info{
		Current: Version,
		Latest:  release.TagName,
		IsNewer: Compare(release.TagName, Version) > 0,
	}, nil
}

// Compare orders two version strings: 1 if a is newer, -1 if older, 0 if
// equal. A dev build is older than any release.
func Compare(a, b string) int {
	pa, aDev := parse(a)
	pb, bDev := parse(b)

	switch {
	case aDev && bDev:
		return 0
	case aDev:
		return -1
	case bDev:
		return 1
	}

	for i := 0; i < 3; i++ {
		if pa[i] > pb[i] {
			return 1
		}
		if pa[i] < pb[i] {
			return -1
		}
	}
	return 0
}

// parse splits a semver-ish string into major/minor/patch. Anything that is
// not three dot-separated numbers counts as a dev build.
func parse(v string) ([3]int, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" || v == "dev" {
		return [3]int{}, true
	}
	if idx := strings.IndexAny(v, "-+"); idx >= 0 {
		v = v[:idx] // ignore pre-release and build metadata
	}

	var out [3]int
	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		return [3]int{}, true
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return [3]int{}, true
		}
		out[i] = n
	}
	return out, false
}
