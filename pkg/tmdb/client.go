package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"strmdav/pkg/logger"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"

	maxAttempts    = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 16 * time.Second
	maxRetryAfter  = 300 * time.Second
	requestTimeout = 10 * time.Second
)

// SearchResult is one candidate from a movie or TV search, normalised across
// the two endpoints' field names.
type SearchResult struct {
	ID            int
	Title         string
	OriginalTitle string
	ReleaseDate   string
	Popularity    float64
}

// Year returns the four-digit release year, or "" when unknown.
func (r SearchResult) Year() string {
	if len(r.ReleaseDate) >= 4 {
		return r.ReleaseDate[:4]
	}
	return ""
}

// rawResult carries both the movie and TV field spellings.
type rawResult struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	Popularity    float64 `json:"popularity"`
}

type searchResponse struct {
	Results []rawResult `json:"results"`
}

// Client is a thin metadata search client. Throttling responses are retried
// with a capped Retry-After.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a metadata client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// SearchMovie searches the movie endpoint. year may be "".
func (c *Client) SearchMovie(ctx context.Context, query, year string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", query)
	params.Set("include_adult", "false")
	if year != "" {
		params.Set("year", year)
	}
	return c.search(ctx, "/search/movie", params)
}

// SearchShow searches the TV endpoint. year may be "".
func (c *Client) SearchShow(ctx context.Context, query, year string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", query)
	params.Set("include_adult", "false")
	if year != "" {
		params.Set("first_air_date_year", year)
	}
	return c.search(ctx, "/search/tv", params)
}

func (c *Client) search(ctx context.Context, path string, params url.Values) ([]SearchResult, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := baseBackoff << uint(attempt-2)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn("[TMDB] Request failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			wait := retryAfterSeconds(resp.Header.Get("Retry-After"))
			logger.Warn("[TMDB] HTTP %d (attempt %d/%d), waiting %ds", resp.StatusCode, attempt, maxAttempts, wait)
			lastErr = fmt.Errorf("search %s: HTTP %d", path, resp.StatusCode)
			if wait > 0 {
				select {
				case <-time.After(time.Duration(wait) * time.Second):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("search %s: HTTP %d", path, resp.StatusCode)
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		var parsed searchResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			logger.Warn("[TMDB] Decode failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			lastErr = fmt.Errorf("decode search response: %w", err)
			continue
		}

		results := make([]SearchResult, 0, len(parsed.Results))
		for _, r := range parsed.Results {
			results = append(results, SearchResult{
				ID:            r.ID,
				Title:         firstNonEmpty(r.Title, r.Name),
				OriginalTitle: firstNonEmpty(r.OriginalTitle, r.OriginalName),
				ReleaseDate:   firstNonEmpty(r.ReleaseDate, r.FirstAirDate),
				Popularity:    r.Popularity,
			})
		}
		return results, nil
	}

	return nil, lastErr
}

func retryAfterSeconds(header string) int {
	if header == "" {
		return 1
	}
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 1
	}
	if secs > int(maxRetryAfter/time.Second) {
		secs = int(maxRetryAfter / time.Second)
	}
	return secs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
