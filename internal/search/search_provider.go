package search

import (
	"context"

	"github.com/markatally/agentloop/internal/temporal"
)

// Result represents a single search result
type Result struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	Content       string `json:"content,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Response represents the response from a search provider
type Response struct {
	Results []Result `json:"results"`
	Query   string   `json:"query"`
}

// Request describes one search call. Window, when set, is forwarded to the
// provider as explicit published-date bounds so the constraint applies at
// the source, not only in post-filtering.
type Request struct {
	Query      string
	NumResults int
	Window     *temporal.Window
}

// Provider defines the interface for web search providers
type Provider interface {
	// Search performs a web search
	Search(ctx context.Context, req *Request) (*Response, error)

	// Name returns the name of the search provider
	Name() string

	// Validate checks if the provider is properly configured
	Validate() error
}
