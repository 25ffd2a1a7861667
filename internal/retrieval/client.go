// Package retrieval fetches analytical framework passages for a subject:
// valuation methods, checklists and prior research chunks ranked by
// similarity to the query. Agents cite the frameworks they used in their
// positions.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/governor"
)

// Framework is one ranked passage from the framework corpus.
type Framework struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Content string   `json:"content"`
	Source  string   `json:"source,omitempty"`
	Score   float64  `json:"score"`
	Tags    []string `json:"tags,omitempty"`
}

// Filters narrows a query. Zero-value matches everything.
type Filters struct {
	Tags  []string `json:"tags,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Client answers framework queries, best match first.
type Client interface {
	Query(ctx context.Context, text string, filters Filters) ([]Framework, error)
}

// HTTPClient queries a retrieval service over HTTP.
type HTTPClient struct {
	client *resty.Client
	log    *logrus.Entry
}

// NewHTTPClient builds a client for the retrieval service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, log *logrus.Logger) *HTTPClient {
	if log == nil {
		log = logrus.New()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetRetryCount(2)
	return &HTTPClient{
		client: client,
		log:    log.WithField("component", "retrieval.http"),
	}
}

type queryRequest struct {
	Text    string  `json:"text"`
	Filters Filters `json:"filters"`
}

type queryResponse struct {
	Results []Framework `json:"results"`
}

func (c *HTTPClient) Query(ctx context.Context, text string, filters Filters) ([]Framework, error) {
	var out queryResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(queryRequest{Text: text, Filters: filters}).
		SetResult(&out).
		Post("/v1/query")
	if err != nil {
		return nil, fmt.Errorf("retrieval: query failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("retrieval: query returned status %d", resp.StatusCode())
	}
	return out.Results, nil
}

// Static is an in-process corpus for offline runs and tests. Matching is
// naive substring scoring over name, content and tags.
type Static struct {
	frameworks []Framework
}

// NewStatic builds a client over a fixed corpus.
func NewStatic(frameworks ...Framework) *Static {
	return &Static{frameworks: frameworks}
}

func (s *Static) Query(ctx context.Context, text string, filters Filters) ([]Framework, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(text))
	var out []Framework
	for _, f := range s.frameworks {
		if !matchesTags(f, filters.Tags) {
			continue
		}
		score := score(f, terms)
		if score <= 0 {
			continue
		}
		ranked := f
		ranked.Score = score
		out = append(out, ranked)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	limit := filters.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesTags(f Framework, want []string) bool {
	for _, tag := range want {
		found := false
		for _, have := range f.Tags {
			if have == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func score(f Framework, terms []string) float64 {
	if len(terms) == 0 {
		return 0.01
	}
	haystack := strings.ToLower(f.Name + " " + f.Content + " " + strings.Join(f.Tags, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// Cached wraps a client with the governor's retrieval cache namespace.
// Identical queries within the TTL are answered without touching the inner
// client.
type Cached struct {
	inner Client
	cache *governor.Cache
}

// NewCached wraps inner with the cache.
func NewCached(inner Client, cache *governor.Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Query(ctx context.Context, text string, filters Filters) ([]Framework, error) {
	key := cacheKey(text, filters)
	if cached, ok := c.cache.Get(ctx, governor.NamespaceRetrieval, key); ok {
		if results, isResults := cached.([]Framework); isResults {
			return results, nil
		}
	}

	results, err := c.inner.Query(ctx, text, filters)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, governor.NamespaceRetrieval, key, results, 0)
	return results, nil
}

func cacheKey(text string, filters Filters) string {
	payload, _ := json.Marshal(queryRequest{Text: text, Filters: filters})
	return governor.PayloadKey("retrieval", payload)
}
