package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"strmdav/pkg/logger"
)

const (
	defaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	maxAttempts    = 5
	baseBackoff    = 2 * time.Second
	maxBackoff     = 32 * time.Second
	requestTimeout = 60 * time.Second
	listPageSize   = 100
)

// Sentinel errors for terminal statuses. Callers interpret them: a 404 on
// torrent info means the item is gone, a 503 on unrestrict means the source
// is broken.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("source unavailable")
)

// Client talks to the debrid HTTP API. All calls go through the shared rate
// limiter and the unified retry machine. The API token is attached per
// request and never logged.
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter

	cache        *unrestrictCache
	unrestrictSG singleflight.Group
}

// NewClient creates a debrid client with the given token and rate limiter
// bounds.
func NewClient(apiToken string, baseline, max time.Duration) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  defaultBaseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		limiter: NewRateLimiter(baseline, max),
		cache:   newUnrestrictCache(MaxCacheSize, cacheTTL),
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// Limiter exposes the shared rate limiter.
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// ListTorrents fetches the full torrent inventory, page by page. A failure
// after the first page returns what was gathered so far.
func (c *Client) ListTorrents(ctx context.Context) ([]TorrentItem, error) {
	var all []TorrentItem
	for page := 1; ; page++ {
		var items []TorrentItem
		endpoint := fmt.Sprintf("%s/torrents?page=%d&limit=%d", c.baseURL, page, listPageSize)
		err := c.fetchJSON(ctx, func() (*http.Request, error) {
			return c.newRequest(ctx, http.MethodGet, endpoint, "")
		}, nil, &items)
		if err != nil {
			if len(all) > 0 {
				logger.Warn("[Debrid] Torrent list page %d failed, returning %d gathered items: %v", page, len(all), err)
				return all, nil
			}
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if len(items) < listPageSize {
			break
		}
	}
	return all, nil
}

// GetTorrentInfo fetches the detailed record for one torrent. Terminal on 404.
func (c *Client) GetTorrentInfo(ctx context.Context, torrentID string) (*TorrentInfo, error) {
	var info TorrentInfo
	endpoint := c.baseURL + "/torrents/info/" + url.PathEscape(torrentID)
	err := c.fetchJSON(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, endpoint, "")
	}, map[int]error{http.StatusNotFound: ErrNotFound}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// AddMagnet queues a magnet on the account and returns the new torrent id.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddMagnetResponse, error) {
	var resp AddMagnetResponse
	endpoint := c.baseURL + "/torrents/addMagnet"
	form := url.Values{"magnet": {magnet}}.Encode()
	err := c.fetchJSON(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, endpoint, form)
	}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SelectFiles selects files on a torrent. fileIDs is a comma-separated id
// list or "all". Terminal on 404.
func (c *Client) SelectFiles(ctx context.Context, torrentID, fileIDs string) error {
	endpoint := c.baseURL + "/torrents/selectFiles/" + url.PathEscape(torrentID)
	form := url.Values{"files": {fileIDs}}.Encode()
	return c.fetchJSON(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, endpoint, form)
	}, map[int]error{http.StatusNotFound: ErrNotFound}, nil)
}

// DeleteTorrent removes a torrent from the account. A 404 means it is already
// gone and counts as success.
func (c *Client) DeleteTorrent(ctx context.Context, torrentID string) error {
	endpoint := c.baseURL + "/torrents/delete/" + url.PathEscape(torrentID)
	err := c.fetchJSON(ctx, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodDelete, endpoint, "")
	}, map[int]error{http.StatusNotFound: ErrNotFound}, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Unrestrict converts a restricted link into a direct download URL. Results
// are cached for an hour keyed by link; concurrent calls for the same link
// are collapsed. Terminal on 503.
func (c *Client) Unrestrict(ctx context.Context, link string) (*UnrestrictResponse, error) {
	if link == "" {
		return nil, fmt.Errorf("link parameter is empty")
	}

	if cached, ok := c.cache.Get(link); ok {
		return &cached, nil
	}

	v, err, _ := c.unrestrictSG.Do(link, func() (interface{}, error) {
		if cached, ok := c.cache.Get(link); ok {
			return cached, nil
		}

		var resp UnrestrictResponse
		endpoint := c.baseURL + "/unrestrict/link"
		form := url.Values{"link": {link}}.Encode()
		err := c.fetchJSON(ctx, func() (*http.Request, error) {
			return c.newRequest(ctx, http.MethodPost, endpoint, form)
		}, map[int]error{http.StatusServiceUnavailable: ErrUnavailable}, &resp)
		if err != nil {
			return nil, err
		}

		c.cache.Set(link, resp)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	resp := v.(UnrestrictResponse)
	return &resp, nil
}

// EvictExpiredCache purges expired unrestrict entries, then trims the cache
// back under its size limit oldest-first.
func (c *Client) EvictExpiredCache() {
	before := c.cache.Len()
	c.cache.Evict()
	after := c.cache.Len()
	if after < before {
		logger.Debug("[Debrid] Evicted %d unrestrict cache entries (%d remain)", before-after, after)
	}
}

// UnrestrictCacheSize returns the number of cached unrestricted links.
func (c *Client) UnrestrictCacheSize() int {
	return c.cache.Len()
}

// StartCacheEvictionJob periodically evicts expired cache entries until the
// context is cancelled.
func (c *Client) StartCacheEvictionJob(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.EvictExpiredCache()
			}
		}
	}()
}

// newRequest builds an authenticated request. Form bodies are form-encoded
// POST/DELETE payloads; GET requests pass "".
func (c *Client) newRequest(ctx context.Context, method, endpoint, form string) (*http.Request, error) {
	var body io.Reader
	if form != "" {
		body = strings.NewReader(form)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// fetchJSON is the unified retry machine. Statuses listed in terminal abort
// retrying and surface as the mapped error. 429 and non-terminal 5xx retry
// with adaptive slowdown; transport and decode failures retry with
// exponential backoff. Response bodies may be logged on decode failure,
// headers never.
func (c *Client) fetchJSON(ctx context.Context, build func() (*http.Request, error), terminal map[int]error, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, backoffFor(attempt)); err != nil {
				return err
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		req, err := build()
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn("[Debrid] Request failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			c.limiter.RecordThrottle(0)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if termErr, ok := terminal[resp.StatusCode]; ok {
			return fmt.Errorf("%s %s: HTTP %d: %w", req.Method, req.URL.Path, resp.StatusCode, termErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.limiter.RecordThrottle(retryAfter)
			logger.Warn("[Debrid] HTTP %d (attempt %d/%d), retry-after=%ds", resp.StatusCode, attempt, maxAttempts, retryAfter)
			lastErr = fmt.Errorf("%s %s: HTTP %d", req.Method, req.URL.Path, resp.StatusCode)
			if retryAfter > 0 {
				if err := sleepCtx(ctx, time.Duration(retryAfter)*time.Second); err != nil {
					return err
				}
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if readErr != nil {
			logger.Warn("[Debrid] Reading response failed (attempt %d/%d): %v", attempt, maxAttempts, readErr)
			lastErr = readErr
			continue
		}

		c.limiter.RecordSuccess()

		if out == nil || resp.StatusCode == http.StatusNoContent || len(body) == 0 {
			return nil
		}

		if err := json.Unmarshal(body, out); err != nil {
			logger.Error("[Debrid] Decode failed (attempt %d/%d), status=%d body=%s: %v", attempt, maxAttempts, resp.StatusCode, truncateBody(body), err)
			lastErr = fmt.Errorf("decode response: %w", err)
			continue
		}

		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("request failed after %d attempts", maxAttempts)
	}
	return lastErr
}

// backoffFor returns the delay before the given attempt (2s, 4s, 8s... capped).
func backoffFor(attempt int) time.Duration {
	d := baseBackoff << uint(attempt-2)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// parseRetryAfter parses a Retry-After seconds value, capped at 300s.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0
	}
	if secs > int(maxRetryAfter/time.Second) {
		secs = int(maxRetryAfter / time.Second)
	}
	return secs
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
