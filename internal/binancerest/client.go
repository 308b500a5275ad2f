// Package binancerest implements the REST transport used by history sync (C4).
//
// Grounded on the teacher's internal/binance/client.go (rate limiter sizing, gzip-aware HTTP
// client shape) generalized from golang.org/x/time/rate (also used the same way in the
// teacher's internal/middleware/ratelimit.go) rather than the teacher's hand-rolled sliding
// window, since the spec (§4.4) calls for a fresh TLS session per call with no keep-alive
// reuse — the opposite of the teacher's pooled-transport posture, so only the rate limiter
// shape is reused, not the transport pooling.
package binancerest

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/GeekChomolungma/ChomoSyncer/internal/errs"
)

const baseURL = "https://api.binance.com"

// Client issues REST klines requests. Per spec §4.4, each call opens a fresh HTTP
// transport/TLS session rather than reusing a pooled connection.
type Client struct {
	limiter            *rate.Limiter
	insecureSkipVerify bool
	timeout            time.Duration
}

// New constructs a Client rate-limited to Binance's public weight limit (1200 requests/min,
// mirroring the teacher's RateLimiter sizing), optionally with certificate validation disabled
// for local development only (spec §9 resolved design note — defaults to validating).
func New(insecureSkipVerify bool) *Client {
	return &Client{
		limiter:            rate.NewLimiter(rate.Every(time.Minute/1200), 50),
		insecureSkipVerify: insecureSkipVerify,
		timeout:            10 * time.Second,
	}
}

func (c *Client) freshHTTPClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ServerName:         "api.binance.com",
			InsecureSkipVerify: c.insecureSkipVerify,
		},
		DisableKeepAlives: true,
	}
	return &http.Client{Timeout: c.timeout, Transport: transport}
}

// Klines fetches GET /api/v3/klines?symbol=...&interval=...&startTime=...&limit=... and
// returns the raw JSON body for C1 to decode via ParseRESTArray.
func (c *Client) Klines(ctx context.Context, symbol, interval string, startTimeMs int64, limit int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New(errs.KindTransport, "rate limiter wait", err)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&limit=%d",
		baseURL, symbol, interval, startTimeMs, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "build request", err)
	}

	httpClient := c.freshHTTPClient()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "GET /api/v3/klines", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransport, "read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindTransport, "GET /api/v3/klines", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 256)))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
