package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

const webSearchDefaultResults = 5

// SearchResult represents a single web search result.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider executes web searches.
type SearchProvider interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// PlaceholderSearchProvider answers every query with a single synthetic
// result pointing at example.com. It stands in until a real search API is
// configured.
type PlaceholderSearchProvider struct{}

func (PlaceholderSearchProvider) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	return []SearchResult{{
		Title:   "Search result for: " + query,
		URL:     "https://example.com/search?q=" + url.QueryEscape(query),
		Snippet: fmt.Sprintf("This is a placeholder search result for %q.", query),
	}}, nil
}

// WebSearchTool performs web searches via a configurable provider.
type WebSearchTool struct {
	Provider SearchProvider // defaults to PlaceholderSearchProvider
}

func (w *WebSearchTool) Name() string { return "web_search" }

func (w *WebSearchTool) Description() string {
	return "Search the web. Returns JSON with the query and a list of {title, url, snippet} results."
}

func (w *WebSearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"maxResults": map[string]any{
				"type":        "number",
				"description": "Maximum results (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (w *WebSearchTool) SideEffect() SideEffectType { return SideEffectNetwork }

func (w *WebSearchTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	query, ok := stringArg(input, "query")
	if !ok {
		return errorOutput("query is required"), nil
	}
	maxResults, ok := intArg(input, "maxResults")
	if !ok {
		maxResults = webSearchDefaultResults
	}

	provider := w.Provider
	if provider == nil {
		provider = PlaceholderSearchProvider{}
	}
	results, err := provider.Search(ctx, query, maxResults)
	if err != nil {
		return errorOutput("search failed: %s", err), nil
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if results == nil {
		results = []SearchResult{}
	}

	data, err := json.MarshalIndent(map[string]any{"query": query, "results": results}, "", "  ")
	if err != nil {
		return ToolOutput{}, err
	}
	return ToolOutput{Content: string(data)}, nil
}
