package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><head><title>Test</title><style>p{}</style></head>
<body>
<nav>Menu</nav>
<main id="content"><h1>Hello</h1><p class="lead intro">World</p></main>
<p class="lead">Second lead</p>
<script>alert("x")</script>
</body></html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(testPage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("plain text content"))
		case "/asset.bin":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0x00, 0x01, 0x02, 0x03})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPage_ExtractsVisibleText(t *testing.T) {
	srv := pageServer(t)
	tool := &FetchPageTool{HTTPClient: srv.Client()}

	out := execTool(t, tool, map[string]any{"url": srv.URL + "/page"})
	require.False(t, out.IsError, out.Content)
	assert.Contains(t, out.Content, "Hello")
	assert.Contains(t, out.Content, "World")
	assert.NotContains(t, out.Content, "alert")
	assert.NotContains(t, out.Content, "Test")
	assert.NotContains(t, out.Content, "p{}")
}

func TestFetchPage_Selectors(t *testing.T) {
	srv := pageServer(t)
	tool := &FetchPageTool{HTTPClient: srv.Client()}

	tests := map[string]struct {
		selector string
		want     []string
		notWant  []string
	}{
		"id":        {selector: "#content", want: []string{"Hello", "World"}, notWant: []string{"Menu", "Second"}},
		"class":     {selector: ".lead", want: []string{"World", "Second lead"}, notWant: []string{"Hello"}},
		"tag":       {selector: "nav", want: []string{"Menu"}, notWant: []string{"Hello"}},
		"tag.class": {selector: "p.intro", want: []string{"World"}, notWant: []string{"Second"}},
		"no match":  {selector: ".missing", want: nil, notWant: []string{"Hello"}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			out := execTool(t, tool, map[string]any{"url": srv.URL + "/page", "selector": tt.selector})
			require.False(t, out.IsError, out.Content)
			for _, w := range tt.want {
				assert.Contains(t, out.Content, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, out.Content, w)
			}
		})
	}
}

func TestFetchPage_PlainTextAndErrors(t *testing.T) {
	srv := pageServer(t)
	tool := &FetchPageTool{HTTPClient: srv.Client()}

	out := execTool(t, tool, map[string]any{"url": srv.URL + "/plain"})
	assert.Equal(t, "plain text content", out.Content)

	out = execTool(t, tool, map[string]any{"url": srv.URL + "/missing"})
	assert.True(t, out.IsError)
	assert.Contains(t, out.Content, "HTTP 404")

	out = execTool(t, tool, map[string]any{"url": "ftp://example.com"})
	assert.True(t, out.IsError)

	out = execTool(t, tool, map[string]any{})
	assert.Equal(t, "Error: url is required", out.Content)
}

func TestParseSelector(t *testing.T) {
	assert.Nil(t, parseSelector("  "))
	assert.Equal(t, &selector{tag: "div"}, parseSelector("DIV"))
	assert.Equal(t, &selector{id: "main"}, parseSelector("#main"))
	assert.Equal(t, &selector{tag: "p", class: "x"}, parseSelector("p.x"))
}

func TestDownloadAsset(t *testing.T) {
	srv := pageServer(t)
	dir := t.TempDir()
	tool := &DownloadAssetTool{Root: dir, HTTPClient: srv.Client()}

	out := execTool(t, tool, map[string]any{"url": srv.URL + "/asset.bin", "savePath": "assets/a.bin"})
	require.False(t, out.IsError, out.Content)
	assert.Equal(t, "Asset downloaded to: assets/a.bin (4 bytes)", out.Content)

	data, err := os.ReadFile(filepath.Join(dir, "assets", "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, data)

	out = execTool(t, tool, map[string]any{"url": srv.URL + "/missing", "savePath": "assets/b.bin"})
	assert.True(t, out.IsError)
	_, err = os.Stat(filepath.Join(dir, "assets", "b.bin"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, execTool(t, tool, map[string]any{"url": srv.URL + "/asset.bin"}).IsError)
}

type stubSearch struct {
	results []SearchResult
	err     error
}

func (s stubSearch) Search(context.Context, string, int) ([]SearchResult, error) {
	return s.results, s.err
}

func TestWebSearch(t *testing.T) {
	t.Run("placeholder", func(t *testing.T) {
		out := execTool(t, &WebSearchTool{}, map[string]any{"query": "go generics"})
		require.False(t, out.IsError, out.Content)

		var payload struct {
			Query   string         `json:"query"`
			Results []SearchResult `json:"results"`
		}
		require.NoError(t, json.Unmarshal([]byte(out.Content), &payload))
		assert.Equal(t, "go generics", payload.Query)
		require.Len(t, payload.Results, 1)
		assert.Equal(t, "https://example.com/search?q=go+generics", payload.Results[0].URL)
	})

	t.Run("maxResults caps provider output", func(t *testing.T) {
		many := make([]SearchResult, 8)
		out := execTool(t, &WebSearchTool{Provider: stubSearch{results: many}}, map[string]any{"query": "q", "maxResults": float64(3)})
		assert.Equal(t, 3, strings.Count(out.Content, `"title"`))
	})

	t.Run("provider failure", func(t *testing.T) {
		out := execTool(t, &WebSearchTool{Provider: stubSearch{err: errors.New("quota")}}, map[string]any{"query": "q"})
		assert.True(t, out.IsError)
		assert.Contains(t, out.Content, "quota")
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(WithDisabled("write_file"))
	r.Register(FilesystemTools(t.TempDir())...)

	assert.Equal(t, []string{"create_directory", "list_directory", "read_file"}, r.Names())
	_, ok := r.Get("write_file")
	assert.False(t, ok)
	assert.True(t, r.IsDisabled("write_file"))

	tool, ok := r.Get("read_file")
	require.True(t, ok)
	assert.Equal(t, SideEffectNone, tool.SideEffect())
	assert.Len(t, r.Tools(), 3)

	all := NewRegistry()
	all.Register(TerminalTools("")...)
	all.Register(WebTools("")...)
	assert.Equal(t, []string{"download_asset", "fetch_page", "install_dependencies", "run_command", "web_search"}, all.Names())
	for _, tool := range all.Tools() {
		schema := tool.InputSchema()
		assert.Equal(t, "object", schema["type"], tool.Name())
		assert.NotEmpty(t, tool.Description(), tool.Name())
	}
}
