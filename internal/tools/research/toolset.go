package research

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"winterfox/internal/store"
	"winterfox/internal/tools"
	"winterfox/internal/types"
)

// SearchRecorder receives one record per executed web search. Workers
// use it to accumulate the search log attached to their output.
type SearchRecorder func(types.SearchRecord)

// ToolsetConfig configures a per-worker tool registry.
type ToolsetConfig struct {
	Store       *store.Store
	WorkspaceID string
	Searcher    *SearchManager
	Fetcher     *Fetcher

	// MaxSearches caps web_search calls for this worker. Zero means
	// unlimited.
	MaxSearches int

	// Recorder is invoked after each successful web search. Optional.
	Recorder SearchRecorder
}

// NewToolset builds a fresh registry for one worker run. Registries are
// per-run so the search budget counter is not shared between workers.
func NewToolset(cfg ToolsetConfig) *tools.Registry {
	reg := tools.NewRegistry()

	var searchCount int64
	reg.MustRegister(&tools.Tool{
		Name:        "web_search",
		Description: "Search the web and return titles, URLs, and snippets",
		Category:    tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			maxResults := 5
			if v, ok := args["max_results"].(float64); ok && v > 0 {
				maxResults = int(v)
			}

			if cfg.MaxSearches > 0 && atomic.AddInt64(&searchCount, 1) > int64(cfg.MaxSearches) {
				return fmt.Sprintf("Search budget exceeded (%d searches used). Work with the results already gathered.", cfg.MaxSearches), nil
			}

			results, engine, err := cfg.Searcher.Search(ctx, query, maxResults)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return fmt.Sprintf("No results found for %q", query), nil
			}

			if cfg.Recorder != nil {
				urls := make([]string, 0, len(results))
				for _, r := range results {
					urls = append(urls, r.URL)
				}
				cfg.Recorder(types.SearchRecord{
					Query:     query,
					Engine:    engine,
					Timestamp: time.Now().UTC(),
					URLs:      urls,
				})
			}
			return formatSearchResults(query, results), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query": {
					Type:        "string",
					Description: "The search query",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of results (default: 5)",
					Default:     5,
				},
			},
		},
	})

	reg.MustRegister(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and convert its content to markdown",
		Category:    tools.CategoryResearch,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return "", fmt.Errorf("url is required")
			}
			maxLength := defaultMaxLength
			if v, ok := args["max_length"].(float64); ok && v > 0 {
				maxLength = int(v)
			}
			includeLinks := true
			if v, ok := args["include_links"].(bool); ok {
				includeLinks = v
			}
			return cfg.Fetcher.Fetch(ctx, url, maxLength, includeLinks)
		},
		Schema: tools.ToolSchema{
			Required: []string{"url"},
			Properties: map[string]tools.Property{
				"url": {
					Type:        "string",
					Description: "The URL to fetch",
				},
				"max_length": {
					Type:        "integer",
					Description: "Maximum content length in characters (default: 50000)",
					Default:     50000,
				},
				"include_links": {
					Type:        "boolean",
					Description: "Whether to include links in the output (default: true)",
					Default:     true,
				},
			},
		},
	})

	reg.MustRegister(ReadGraphNodeTool(cfg.Store))
	reg.MustRegister(SearchGraphTool(cfg.Store, cfg.WorkspaceID))

	return reg
}

func formatSearchResults(query string, results []SearchResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. **%s**\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
