package tools

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

	"github.com/jellydator/ttlcache/v3"
)

const defaultHTTPTimeout = 15 * time.Second

// SearchResult is one result row returned by the search services.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
}

// HTTPSearcher queries a search service over HTTP. The knowledge base and
// web search collaborators expose the same {q, limit} query interface.
type HTTPSearcher struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPSearcher creates an HTTPSearcher for the given service base URL.
func NewHTTPSearcher(baseURL string) *HTTPSearcher {
	return &HTTPSearcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Search executes the query and returns formatted result text.
func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse search response: %w", err)
	}

	return FormatResults(parsed.Results), nil
}

// FormatResults renders search results as plain text for the model.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Title)
		if r.Snippet != "" {
			sb.WriteString("   " + r.Snippet + "\n")
		}
		if r.Source != "" {
			sb.WriteString("   Source: " + r.Source + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

const defaultCatalogCacheTTL = 10 * time.Minute

// CachedSearcher wraps a Searcher with a TTL cache keyed by query and limit.
// The product catalog changes rarely and subagents often look up the same
// equipment classes, so repeated lookups within a run hit the cache.
type CachedSearcher struct {
	inner Searcher
	cache *ttlcache.Cache[string, string]
}

// NewCachedSearcher wraps inner with a TTL cache. A ttl of 0 uses the
// default of 10 minutes.
func NewCachedSearcher(inner Searcher, ttl time.Duration) *CachedSearcher {
	if ttl == 0 {
		ttl = defaultCatalogCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()
	return &CachedSearcher{inner: inner, cache: cache}
}

// Search returns the cached result when present, otherwise queries inner.
func (c *CachedSearcher) Search(ctx context.Context, query string, limit int) (string, error) {
	key := strconv.Itoa(limit) + ":" + query
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	out, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, out, ttlcache.DefaultTTL)
	return out, nil
}

// Stop stops the cache's expiry loop.
func (c *CachedSearcher) Stop() {
	c.cache.Stop()
}
