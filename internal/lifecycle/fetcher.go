package lifecycle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/voxproxy/internal/store"
)

// HTTPFetcher fetches manifest assets from an upstream origin. Requests
// are throttled so a large manifest does not hammer the origin during
// install.
type HTTPFetcher struct {
	client  *http.Client
	origin  *url.URL
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher for the given origin. requestsPerSecond
// of zero or less disables throttling.
func NewHTTPFetcher(client *http.Client, origin *url.URL, requestsPerSecond int) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &HTTPFetcher{client: client, origin: origin}
	if requestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(requestsPerSecond)), 1)
	}
	return f
}

// Fetch retrieves one asset. Only a 200 response counts as success;
// anything else fails the install that requested it.
func (f *HTTPFetcher) Fetch(ctx context.Context, asset string) (*store.Entry, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("throttle wait: %w", err)
		}
	}

	target := asset
	if strings.HasPrefix(asset, "/") && f.origin != nil {
		u := *f.origin
		u.Path = asset
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch asset: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, asset)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read asset body: %w", err)
	}

	return &store.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}
