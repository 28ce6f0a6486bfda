// Package datasource provides data fetching from the upstream providers:
// the two exchange APIs (TWSE, TPEx) for realtime quotes and monthly
// history, the FinMind v4 REST API for daily candles and derived
// datasets, the securities registry for industry classification, and the
// futures exchange for open-interest fallback.
//
// All fetchers degrade to empty results on upstream failure; nothing in
// this package aborts the pipeline.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// --- Sentinel errors ---

// ErrQuotaExceeded is returned when the primary provider reports its
// request quota exhausted (status 402). The history store latches into
// fallback-only mode when it observes this.
var ErrQuotaExceeded = fmt.Errorf("provider quota exceeded")

// ErrNoData is returned when an upstream responds successfully but
// carries no usable rows.
var ErrNoData = fmt.Errorf("no data in upstream response")

// ErrHTTP wraps a non-200 HTTP response.
type ErrHTTP struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s (%s)", e.StatusCode, e.Status, e.URL)
}

// --- Shared HTTP helpers ---

// DefaultUserAgent is sent on every upstream request. The exchange
// endpoints reject requests without a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getBody performs a GET and returns the full response body. Headers may
// be nil.
func getBody(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &ErrHTTP{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}
	return io.ReadAll(resp.Body)
}
