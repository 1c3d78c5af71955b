package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markatally/agentloop/internal/config"
	"github.com/markatally/agentloop/internal/temporal"
)

// ExaProvider implements Provider for the Exa AI Search API
type ExaProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewExaProvider creates a new Exa search provider
func NewExaProvider(cfg config.ExaConfig) *ExaProvider {
	return &ExaProvider{
		apiKey:  cfg.APIKey,
		baseURL: "https://api.exa.ai/search",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type exaSearchRequest struct {
	Query              string             `json:"query"`
	NumResults         int                `json:"numResults,omitempty"`
	UseAutoprompt      bool               `json:"useAutoprompt,omitempty"`
	StartPublishedDate string             `json:"startPublishedDate,omitempty"`
	EndPublishedDate   string             `json:"endPublishedDate,omitempty"`
	Contents           exaContentsOptions `json:"contents,omitempty"`
}

type exaContentsOptions struct {
	Text bool `json:"text,omitempty"`
}

type exaSearchResponse struct {
	Results []exaResult `json:"results"`
}

type exaResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Text          string `json:"text,omitempty"`
	Snippet       string `json:"snippet,omitempty"`
	PublishedDate string `json:"publishedDate,omitempty"`
}

// Search performs a web search using the Exa API. A date window on the
// request is rendered as explicit inclusive published-date bounds.
func (e *ExaProvider) Search(ctx context.Context, req *Request) (*Response, error) {
	numResults := req.NumResults
	if numResults <= 0 {
		numResults = 10
	}

	reqBody := exaSearchRequest{
		Query:         req.Query,
		NumResults:    numResults,
		UseAutoprompt: true,
		Contents: exaContentsOptions{
			Text: true,
		},
	}

	if req.Window != nil {
		start, end, err := exaDateBounds(*req.Window)
		if err != nil {
			return nil, err
		}
		reqBody.StartPublishedDate = start
		reqBody.EndPublishedDate = end
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("exa API error (status %d): %s", resp.StatusCode, string(body))
	}

	var exaResp exaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&exaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]Result, len(exaResp.Results))
	for i, r := range exaResp.Results {
		snippet := r.Snippet
		if snippet == "" && len(r.Text) > 200 {
			snippet = r.Text[:200] + "..."
		}

		results[i] = Result{
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       snippet,
			Content:       r.Text,
			PublishedDate: r.PublishedDate,
		}
	}

	return &Response{
		Results: results,
		Query:   req.Query,
	}, nil
}

// exaDateBounds renders the window as inclusive RFC3339 bounds, start of the
// first day to the last instant of the last day. Exa has no wildcard form,
// so both bounds are always explicit.
func exaDateBounds(w temporal.Window) (string, string, error) {
	rendered, err := temporal.FormatForQuery(w, func(start, end time.Time) string {
		return start.UTC().Format(time.RFC3339) + "|" + end.UTC().Format("2006-01-02T15:04:05.000Z")
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render date window: %w", err)
	}

	parts := strings.SplitN(rendered, "|", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("failed to render date window")
	}
	return parts[0], parts[1], nil
}

// Name returns the provider name
func (e *ExaProvider) Name() string {
	return "exa"
}

// Validate checks that the provider is configured
func (e *ExaProvider) Validate() error {
	if e.apiKey == "" {
		return fmt.Errorf("exa search provider requires an API key")
	}
	return nil
}
