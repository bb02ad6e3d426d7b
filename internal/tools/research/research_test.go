package research

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winterfox/internal/store"
	"winterfox/internal/types"
)

// fakeProvider is a scriptable provider for manager and toolset tests.
type fakeProvider struct {
	name    string
	results []SearchResult
	err     error
	calls   int
}

func (p *fakeProvider) Name() string           { return p.name }
func (p *fakeProvider) CostPerSearch() float64 { return 0 }
func (p *fakeProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	p.calls++
	return p.results, p.err
}

func TestSearchManagerFallbackOrder(t *testing.T) {
	failing := &fakeProvider{name: "first", err: fmt.Errorf("quota exceeded")}
	empty := &fakeProvider{name: "second"}
	working := &fakeProvider{name: "third", results: []SearchResult{{Title: "hit", URL: "https://e.com"}}}

	m := NewSearchManager(failing, empty, working)
	results, engine, err := m.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, "third", engine)
	require.Len(t, results, 1)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, empty.calls)
}

func TestSearchManagerAllFail(t *testing.T) {
	m := NewSearchManager(&fakeProvider{name: "a", err: fmt.Errorf("down")})
	_, _, err := m.Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestSearchManagerNoProviders(t *testing.T) {
	m := NewSearchManager()
	_, _, err := m.Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestParseDuckDuckGoResults(t *testing.T) {
	page := `<html><body>
		<div class="result results_links results_links_deep web-result">
			<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fpage&amp;rut=abc">Example Page</a>
			<a class="result__snippet">A snippet about the page.</a>
		</div>
		<div class="result results_links results_links_deep web-result">
			<a class="result__a" href="https://direct.example.org">Direct Result</a>
			<a class="result__snippet">Another snippet.</a>
		</div>
	</body></html>`

	results, err := parseDuckDuckGoResults(page, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Example Page", results[0].Title)
	assert.Equal(t, "https://example.com/page", results[0].URL)
	assert.Equal(t, "A snippet about the page.", results[0].Snippet)
	assert.Equal(t, "https://direct.example.org", results[1].URL)
}

func TestParseDuckDuckGoMaxResults(t *testing.T) {
	var page string
	for i := 0; i < 5; i++ {
		page += fmt.Sprintf(`<div class="result results_links"><a class="result__a" href="https://e.com/%d">R%d</a></div>`, i, i)
	}
	results, err := parseDuckDuckGoResults(page, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBraveProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "rust batteries", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]any{
					{"title": "T1", "url": "https://a.com", "description": "D1", "page_age": "2025-01-01"},
				},
			},
		})
	}))
	defer srv.Close()

	p := NewBraveProvider("secret")
	p.baseURL = srv.URL
	results, err := p.Search(context.Background(), "rust batteries", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "T1", results[0].Title)
	assert.Equal(t, "2025-01-01", results[0].PublishedDate)
}

func TestBraveProviderNoKey(t *testing.T) {
	p := NewBraveProvider("")
	_, err := p.Search(context.Background(), "q", 5)
	assert.Error(t, err)
}

func TestTavilyProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body["api_key"])
		assert.Equal(t, "solid state", body["query"])
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "T", "url": "https://b.com", "content": "C", "score": 0.91},
			},
		})
	}))
	defer srv.Close()

	p := NewTavilyProvider("secret")
	p.baseURL = srv.URL
	results, err := p.Search(context.Background(), "solid state", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
}

func TestFetcherReaderFirstThenDirect(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Fallback Page</h1><p>Direct content.</p></body></html>`))
	}))
	defer direct.Close()

	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer reader.Close()

	f := NewFetcher(reader.URL)
	out, err := f.Fetch(context.Background(), direct.URL, 0, true)
	require.NoError(t, err)
	assert.Contains(t, out, "# Fallback Page")
	assert.Contains(t, out, "Direct content.")
}

func TestFetcherReaderSuccess(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# Clean Markdown\n\nFrom the reader."))
	}))
	defer reader.Close()

	f := NewFetcher(reader.URL)
	out, err := f.Fetch(context.Background(), "https://example.com/article", 0, true)
	require.NoError(t, err)
	assert.Contains(t, out, "# Clean Markdown")
}

func TestFetcherTruncates(t *testing.T) {
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer reader.Close()

	f := NewFetcher(reader.URL)
	out, err := f.Fetch(context.Background(), "https://example.com", 50, true)
	require.NoError(t, err)
	assert.Contains(t, out, "[...truncated...]")
	assert.Less(t, len(out), 100)
}

func TestHTMLToMarkdown(t *testing.T) {
	page := `<html><head><title>Doc</title><script>ignore()</script></head>
	<body>
		<nav>skip me</nav>
		<h2>Section</h2>
		<p>Some <strong>bold</strong> text with a <a href="https://x.com">link</a>.</p>
		<ul><li>one</li><li>two</li></ul>
		<pre>code block</pre>
	</body></html>`

	md, err := htmlToMarkdown(page, true)
	require.NoError(t, err)
	assert.Contains(t, md, "# Doc")
	assert.Contains(t, md, "## Section")
	assert.Contains(t, md, "**bold**")
	assert.Contains(t, md, "[link](https://x.com)")
	assert.Contains(t, md, "- one")
	assert.Contains(t, md, "```")
	assert.NotContains(t, md, "ignore()")
	assert.NotContains(t, md, "skip me")
}

func TestHTMLToMarkdownWithoutLinks(t *testing.T) {
	md, err := htmlToMarkdown(`<p><a href="https://x.com">link</a></p>`, false)
	require.NoError(t, err)
	assert.NotContains(t, md, "https://x.com")
	assert.Contains(t, md, "link")
}

func newToolsetStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureWorkspace("ws1", "w"))
	return s
}

func TestToolsetSearchBudget(t *testing.T) {
	provider := &fakeProvider{name: "fake", results: []SearchResult{{Title: "T", URL: "https://a.com", Snippet: "S"}}}

	var records []types.SearchRecord
	reg := NewToolset(ToolsetConfig{
		Store:       newToolsetStore(t),
		WorkspaceID: "ws1",
		Searcher:    NewSearchManager(provider),
		Fetcher:     NewFetcher(""),
		MaxSearches: 2,
		Recorder:    func(r types.SearchRecord) { records = append(records, r) },
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res := reg.Execute(ctx, "web_search", map[string]any{"query": fmt.Sprintf("q%d", i)})
		require.True(t, res.IsSuccess())
		assert.Contains(t, res.Result, "https://a.com")
	}

	res := reg.Execute(ctx, "web_search", map[string]any{"query": "q3"})
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Result, "Search budget exceeded")
	assert.Equal(t, 2, provider.calls)

	require.Len(t, records, 2)
	assert.Equal(t, "q0", records[0].Query)
	assert.Equal(t, "fake", records[0].Engine)
	assert.Equal(t, []string{"https://a.com"}, records[0].URLs)
}

func TestToolsetGraphTools(t *testing.T) {
	s := newToolsetStore(t)

	parent := &types.Direction{
		ID: uuid.NewString(), WorkspaceID: "ws1",
		Claim: "Solid state batteries will reach cost parity", Description: "Root thesis.",
		Confidence: 0.6, Importance: 0.8, Status: types.StatusActive, Kind: types.KindDirection,
		Evidence: []types.Evidence{{Text: "Toyota pilot line announced", Source: "https://news.example.com"}},
	}
	require.NoError(t, s.CreateNode(parent))
	child := &types.Direction{
		ID: uuid.NewString(), WorkspaceID: "ws1", ParentID: parent.ID,
		Claim: "Sulfide electrolytes dominate pilot lines", Depth: 1,
		Confidence: 0.4, Importance: 0.5, Status: types.StatusActive, Kind: types.KindDirection,
	}
	require.NoError(t, s.CreateNode(child))

	reg := NewToolset(ToolsetConfig{
		Store:       s,
		WorkspaceID: "ws1",
		Searcher:    NewSearchManager(),
		Fetcher:     NewFetcher(""),
	})

	ctx := context.Background()
	res := reg.Execute(ctx, "read_graph_node", map[string]any{"node_id": parent.ID})
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Result, parent.Claim)
	assert.Contains(t, res.Result, "Toyota pilot line announced")
	assert.Contains(t, res.Result, child.Claim)

	res = reg.Execute(ctx, "read_graph_node", map[string]any{"node_id": "missing"})
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Result, "No node found")

	res = reg.Execute(ctx, "search_graph", map[string]any{"query": "sulfide electrolytes"})
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Result, child.Claim)

	res = reg.Execute(ctx, "search_graph", map[string]any{"query": "perovskite"})
	require.True(t, res.IsSuccess())
	assert.Contains(t, res.Result, "No graph nodes match")
}
