package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markatally/agentloop/internal/htmlconv"
	"github.com/markatally/agentloop/internal/llm"
	"github.com/markatally/agentloop/internal/logger"
)

const (
	fetchDefaultTimeout  = 30 * time.Second
	fetchMaxBodyBytes    = 1_000_000
	fetchMaxSummaryBytes = 200_000
)

// FetchURLToolSpec defines the schema for the fetch_url tool
type FetchURLToolSpec struct{}

func (s *FetchURLToolSpec) Name() string {
	return "fetch_url"
}

func (s *FetchURLToolSpec) Description() string {
	return "Fetch a web page with an HTTP GET request. HTML is converted to " +
		"markdown. Optionally provide summarize_prompt to summarize the page " +
		"instead of returning its full content."
}

func (s *FetchURLToolSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http or https)",
			},
			"summarize_prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional prompt to summarize the fetched content. Leave empty to get the full page.",
			},
		},
		"required": []string{"url"},
	}
}

// FetchURLTool performs GET requests with markdown conversion and optional
// summarization through a secondary model.
type FetchURLTool struct {
	client          *http.Client
	summarizeClient llm.Client
}

// NewFetchURLToolFactory wires the tool. A nil HTTP client gets a default
// with a 30s timeout; a nil summarize client disables summarize_prompt.
func NewFetchURLToolFactory(client *http.Client, summarizeClient llm.Client) ToolFactory {
	if client == nil {
		client = &http.Client{Timeout: fetchDefaultTimeout}
	}
	return func(reg *Registry) ToolExecutor {
		return &FetchURLTool{client: client, summarizeClient: summarizeClient}
	}
}

func (t *FetchURLTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	return t.ExecuteWithProgress(ctx, params, nil)
}

// ExecuteWithProgress reports fetch and summarization phases as they happen.
func (t *FetchURLTool) ExecuteWithProgress(ctx context.Context, params map[string]interface{}, onProgress ProgressFunc) *ToolResult {
	progress := func(message string) {
		if onProgress != nil {
			onProgress(message)
		}
	}

	rawURL := strings.TrimSpace(GetStringParam(params, "url", ""))
	if rawURL == "" {
		return &ToolResult{Error: "url is required"}
	}

	reqURL, err := normalizeFetchURL(rawURL)
	if err != nil {
		return &ToolResult{Error: fmt.Sprintf("invalid url: %v", err)}
	}

	summaryPrompt := strings.TrimSpace(GetStringParam(params, "summarize_prompt", ""))
	if summaryPrompt != "" && t.summarizeClient == nil {
		return &ToolResult{Error: "no summarization model configured; clear summarize_prompt"}
	}

	progress("fetching " + reqURL.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return &ToolResult{Error: fmt.Sprintf("failed to build request: %v", err)}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &ToolResult{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes+1))
	if err != nil {
		return &ToolResult{Error: fmt.Sprintf("failed to read response: %v", err)}
	}

	truncated := len(bodyBytes) > fetchMaxBodyBytes
	if truncated {
		bodyBytes = bodyBytes[:fetchMaxBodyBytes]
	}

	finalURL := reqURL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	content := htmlconv.Convert(string(bodyBytes))

	result := map[string]interface{}{
		"url":          finalURL,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      content,
		"truncated":    truncated,
	}

	if summaryPrompt != "" {
		progress("summarizing " + finalURL)
		summary, err := t.summarize(ctx, summaryPrompt, content, finalURL)
		if err != nil {
			return &ToolResult{Error: err.Error()}
		}
		result["summary"] = summary
		delete(result, "content")
	}

	return &ToolResult{Result: result}
}

func (t *FetchURLTool) summarize(ctx context.Context, prompt, content, urlStr string) (string, error) {
	if len(content) > fetchMaxSummaryBytes {
		content = content[:fetchMaxSummaryBytes] +
			fmt.Sprintf("\n\n[Content truncated to %d bytes for summarization]", fetchMaxSummaryBytes)
	}

	fullPrompt := fmt.Sprintf(`Summarize the fetched page content for the user's goal.

URL: %s
User request: %s

Content:
%s`, urlStr, prompt, content)

	logger.Debug("fetch_url: summarizing %s (len=%d)", urlStr, len(content))

	summary, err := t.summarizeClient.Complete(ctx, fullPrompt)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %v", err)
	}
	return summary, nil
}

// normalizeFetchURL requires a host and allows only http and https. A bare
// host gets https prepended.
func normalizeFetchURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty url")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, err
	}

	if parsed.Scheme == "" {
		parsed, err = url.Parse("https://" + trimmed)
		if err != nil {
			return nil, err
		}
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("missing host")
	}

	return parsed, nil
}
