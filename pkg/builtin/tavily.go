package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mentat-ai/mentat/pkg/resilience"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// SearchResult is a single web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// WebSearcher runs a web search.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// TavilyClient calls the Tavily REST API.
type TavilyClient struct {
	apiKey string
	url    string
	depth  string
	client *http.Client
	retry  resilience.RetryConfig
}

// TavilyOption configures a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyURL overrides the search endpoint.
func WithTavilyURL(url string) TavilyOption {
	return func(c *TavilyClient) {
		if url != "" {
			c.url = url
		}
	}
}

// WithTavilyHTTPClient sets the HTTP client.
func WithTavilyHTTPClient(client *http.Client) TavilyOption {
	return func(c *TavilyClient) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTavilyRetry sets the retry policy for transient failures.
func WithTavilyRetry(rc resilience.RetryConfig) TavilyOption {
	return func(c *TavilyClient) {
		c.retry = rc
	}
}

// NewTavily creates a Tavily client using "basic" search depth.
func NewTavily(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		apiKey: apiKey,
		url:    DefaultTavilyURL,
		depth:  "basic",
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *TavilyClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// Search queries Tavily. Server errors and 429s are retried; other client
// errors are returned immediately.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	body, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, SearchDepth: c.depth})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tavily request: %w", err)
	}
	return resilience.DoWithResult(ctx, c.retry, func(ctx context.Context) ([]SearchResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("failed to create http request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("tavily api call failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("tavily api returned status %d: %s", resp.StatusCode, string(respBody))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, resilience.Permanent(err)
			}
			return nil, err
		}

		var tResp tavilyResponse
		if err := json.NewDecoder(resp.Body).Decode(&tResp); err != nil {
			return nil, resilience.Permanent(fmt.Errorf("failed to decode tavily response: %w", err))
		}
		return tResp.Results, nil
	})
}
