// ABOUTME: Web search client for grounding assistant answers
// ABOUTME: Speaks the Tavily search API and returns the top results

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultSearchURL is Tavily's search endpoint.
const DefaultSearchURL = "https://api.tavily.com/search"

// SearchResult is one web result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher finds web results for a query.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// TavilyClient implements Searcher.
type TavilyClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// NewTavilyClient creates a search client. A nil httpClient uses http.DefaultClient.
func NewTavilyClient(httpClient *http.Client, url, apiKey string) *TavilyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if url == "" {
		url = DefaultSearchURL
	}
	return &TavilyClient{httpClient: httpClient, url: url, apiKey: apiKey}
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// Search returns at most topK results.
func (c *TavilyClient) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, MaxResults: topK})
	if err != nil {
		return nil, fmt.Errorf("search: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decoding response: %w", err)
	}
	if topK > 0 && len(out.Results) > topK {
		out.Results = out.Results[:topK]
	}
	return out.Results, nil
}
