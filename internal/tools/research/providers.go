// Package research implements the worker-facing research tools: web
// search with provider fallback, page fetching with markdown
// conversion, and read access to the direction graph.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"winterfox/internal/logging"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score,omitempty"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// SearchProvider is one search backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
	CostPerSearch() float64
}

const searchTimeout = 30 * time.Second

// ---------------------------------------------------------------------------
// DuckDuckGo (HTML scrape, no API key)
// ---------------------------------------------------------------------------

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. Free, no
// key, used as the last-resort fallback.
type DuckDuckGoProvider struct {
	httpClient *http.Client
}

// NewDuckDuckGoProvider returns the keyless fallback provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{httpClient: &http.Client{Timeout: searchTimeout}}
}

func (p *DuckDuckGoProvider) Name() string           { return "duckduckgo" }
func (p *DuckDuckGoProvider) CostPerSearch() float64 { return 0 }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	searchURL := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return parseDuckDuckGoResults(string(body), maxResults)
}

// parseDuckDuckGoResults extracts results from the DuckDuckGo HTML.
func parseDuckDuckGoResults(htmlContent string, maxResults int) ([]SearchResult, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []SearchResult
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "result") && strings.Contains(attr.Val, "results_links") {
					r := extractDDGResult(n)
					if r.URL != "" && r.Title != "" {
						results = append(results, r)
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return results, nil
}

func extractDDGResult(n *html.Node) SearchResult {
	var result SearchResult
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "class" {
					if strings.Contains(attr.Val, "result__a") {
						result.URL = getAttr(n, "href")
						result.Title = getTextContent(n)
					} else if strings.Contains(attr.Val, "result__snippet") {
						result.Snippet = getTextContent(n)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	// Unwrap DuckDuckGo redirect URLs.
	if strings.HasPrefix(result.URL, "//duckduckgo.com/l/?uddg=") {
		if decoded, err := url.QueryUnescape(strings.TrimPrefix(result.URL, "//duckduckgo.com/l/?uddg=")); err == nil {
			if idx := strings.Index(decoded, "&"); idx > 0 {
				decoded = decoded[:idx]
			}
			result.URL = decoded
		}
	}
	return result
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func getTextContent(n *html.Node) string {
	var sb strings.Builder
	var getText func(*html.Node)
	getText = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			getText(c)
		}
	}
	getText(n)
	return strings.TrimSpace(sb.String())
}

// ---------------------------------------------------------------------------
// Brave Search API
// ---------------------------------------------------------------------------

// BraveProvider queries the Brave Search REST API.
type BraveProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewBraveProvider returns a Brave provider with the given key.
func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.search.brave.com/res/v1",
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

func (p *BraveProvider) Name() string           { return "brave" }
func (p *BraveProvider) CostPerSearch() float64 { return 0.005 }

func (p *BraveProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("brave API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/web/search?q=%s&count=%d", p.baseURL, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				PageAge     string `json:"page_age"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		out = append(out, SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       r.Description,
			PublishedDate: r.PageAge,
		})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Tavily Search API
// ---------------------------------------------------------------------------

// TavilyProvider queries the Tavily research search API.
type TavilyProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTavilyProvider returns a Tavily provider with the given key.
func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{
		apiKey:     apiKey,
		baseURL:    "https://api.tavily.com",
		httpClient: &http.Client{Timeout: searchTimeout},
	}
}

func (p *TavilyProvider) Name() string           { return "tavily" }
func (p *TavilyProvider) CostPerSearch() float64 { return 0.008 }

func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("tavily API key not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	reqBody, err := json.Marshal(map[string]any{
		"api_key":     p.apiKey,
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/search", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Manager with ordered fallback
// ---------------------------------------------------------------------------

// SearchManager composes providers in priority order. The first
// provider returning a non-empty result wins; failures are logged and
// the next provider is tried. The provider list is immutable after
// construction.
type SearchManager struct {
	providers []SearchProvider
}

// NewSearchManager builds a manager over the given providers.
func NewSearchManager(providers ...SearchProvider) *SearchManager {
	return &SearchManager{providers: providers}
}

// Providers returns the configured provider names in priority order.
func (m *SearchManager) Providers() []string {
	out := make([]string, len(m.providers))
	for i, p := range m.providers {
		out[i] = p.Name()
	}
	return out
}

// Search tries each provider in order and returns the first non-empty
// result set together with the name of the provider that produced it.
func (m *SearchManager) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, string, error) {
	if len(m.providers) == 0 {
		return nil, "", fmt.Errorf("no search providers configured")
	}

	var lastErr error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, maxResults)
		if err != nil {
			logging.Tools("Search provider %s failed for %q: %v", p.Name(), query, err)
			lastErr = err
			continue
		}
		if len(results) == 0 {
			logging.ToolsDebug("Search provider %s returned no results for %q", p.Name(), query)
			continue
		}
		return results, p.Name(), nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("all search providers failed: %w", lastErr)
	}
	return nil, "", nil
}
