package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markatally/agentloop/internal/logger"
	"github.com/markatally/agentloop/internal/search"
	"github.com/markatally/agentloop/internal/temporal"
)

const (
	defaultNumResults = 10

	// maxTrackedQueries bounds the retry bookkeeping; the map resets once
	// it accumulates this many distinct unresolved queries.
	maxTrackedQueries = 256
)

// SearchToolSpec describes the web search tool
type SearchToolSpec struct{}

func (s *SearchToolSpec) Name() string {
	return "search"
}

func (s *SearchToolSpec) Description() string {
	return "Search the web. Use date_range for an explicit time constraint " +
		"(forms: last-N-days/weeks/months/years, YYYY-YYYY, YYYY); time phrases " +
		"inside the query text are also understood. This tool is high-cost: " +
		"call it at most once per task."
}

func (s *SearchToolSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"date_range": map[string]interface{}{
				"type":        "string",
				"description": "Optional structured date range: last-N-days, last-N-weeks, last-N-months, last-N-years, YYYY-YYYY or YYYY",
			},
			"num_results": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Number of results to return (default %d)", defaultNumResults),
			},
		},
		"required": []string{"query"},
	}
}

// SearchToolExecutor performs searches through a provider, resolving any
// time constraint into published-date bounds and post-filtering the results
// against the same window.
type SearchToolExecutor struct {
	provider search.Provider
	now      func() time.Time
	filter   temporal.FilterOptions
	log      *logger.Logger

	// attempts tracks queries whose last run came back empty, so an
	// inferred flexible window can be dropped when the query is retried.
	// A query that returns results is forgotten immediately: repeating it
	// later (a new task, say) is a fresh first attempt, not a retry.
	mu       sync.Mutex
	attempts map[string]int
}

// NewSearchToolFactory wires a search provider into an executor. A nil now
// function defaults to wall-clock time.
func NewSearchToolFactory(provider search.Provider, now func() time.Time, filter temporal.FilterOptions) ToolFactory {
	if now == nil {
		now = time.Now
	}
	return func(reg *Registry) ToolExecutor {
		return &SearchToolExecutor{
			provider: provider,
			now:      now,
			filter:   filter,
			log:      logger.Global().WithPrefix("search_tool"),
			attempts: make(map[string]int),
		}
	}
}

// FilteredSearchResponse is the tool's result payload. Exclusions from a
// date window are reported, never silently dropped.
type FilteredSearchResponse struct {
	Query         string          `json:"query"`
	Results       []search.Result `json:"results"`
	Window        string          `json:"window,omitempty"`
	ExcludedCount int             `json:"excluded_count,omitempty"`
	ExcludedNote  string          `json:"excluded_note,omitempty"`
}

func (e *SearchToolExecutor) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	startTime := e.now()
	metadata := &ExecutionMetadata{StartTime: &startTime, ToolType: "search"}

	query := GetStringParam(params, "query", "")
	if query == "" {
		return NewToolResultWithMetadata("", nil, fmt.Errorf("query parameter is required"), metadata)
	}

	window := e.resolveWindow(query, params)

	req := &search.Request{
		Query:      query,
		NumResults: GetIntParam(params, "num_results", defaultNumResults),
		Window:     window,
	}

	resp, err := e.provider.Search(ctx, req)
	if err != nil {
		return NewToolResultWithMetadata("", nil, fmt.Errorf("search failed: %w", err), metadata)
	}

	payload := &FilteredSearchResponse{
		Query:   query,
		Results: resp.Results,
	}

	if window != nil {
		filtered := temporal.FilterByWindow(resp.Results, func(r search.Result) string {
			return r.PublishedDate
		}, *window, e.filter)

		payload.Results = filtered.Included
		payload.Window = window.String()
		payload.ExcludedCount = len(filtered.Excluded)
		if len(filtered.Excluded) > 0 {
			payload.ExcludedNote = fmt.Sprintf(
				"%d result(s) excluded by the date window; first reason: %s",
				len(filtered.Excluded), filtered.Reasons[0])
			e.log.Debug("query %q: %d of %d results excluded by %s",
				query, len(filtered.Excluded), len(resp.Results), window)
		}
	}

	e.noteOutcome(query, len(payload.Results))

	endTime := e.now()
	metadata.EndTime = &endTime
	metadata.DurationMs = endTime.Sub(startTime).Milliseconds()
	metadata.Details = map[string]interface{}{
		"provider":     e.provider.Name(),
		"result_count": len(payload.Results),
	}

	return NewToolResultWithMetadata("", payload, nil, metadata)
}

// noteOutcome updates retry bookkeeping after a search. A query that
// produced results starts over on its next use; only a query that came
// back empty counts as retried when repeated.
func (e *SearchToolExecutor) noteOutcome(query string, resultCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if resultCount > 0 {
		delete(e.attempts, query)
	}
	if len(e.attempts) > maxTrackedQueries {
		e.attempts = make(map[string]int)
	}
}

// resolveWindow determines the date window for this call. An explicit
// date_range token always produces a strict window. Otherwise the query
// text is scanned for time phrases; a window inferred that way is subject
// to the retry rule and disappears when the same query is repeated after
// returning nothing, while explicit constraints never widen.
func (e *SearchToolExecutor) resolveWindow(query string, params map[string]interface{}) *temporal.Window {
	reference := e.now()

	var window *temporal.Window
	if token := GetStringParam(params, "date_range", ""); token != "" {
		window = temporal.ParseStructuredRange(token, reference)
		if window == nil {
			e.log.Warn("unrecognized date_range token %q, falling back to query text", token)
		}
	}
	if window == nil {
		if intent := temporal.ParseIntentFromText(query, reference); intent != nil {
			w := temporal.ToAbsoluteWindow(intent, reference)
			window = &w
		}
	}
	if window == nil {
		return nil
	}

	e.mu.Lock()
	e.attempts[query]++
	attempt := e.attempts[query]
	e.mu.Unlock()

	return temporal.ResolveForAttempt(window, attempt)
}
