package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	webFetchTimeout    = 30 * time.Second
	webFetchMaxBody    = 5 * 1024 * 1024 // 5MB
	webFetchMaxContent = 50000           // chars after extraction
	webUserAgent       = "devorch-web-server/1.0"
)

// FetchPageTool fetches a page and returns its visible text, optionally
// narrowed to the elements matching a simple selector.
type FetchPageTool struct {
	// HTTPClient overrides the default client (useful for testing).
	HTTPClient *http.Client
}

func (w *FetchPageTool) Name() string { return "fetch_page" }

func (w *FetchPageTool) Description() string {
	return "Fetch a web page and extract its text. The optional selector narrows extraction to elements matching a tag name, #id, .class, or tag.class."
}

func (w *FetchPageTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch",
			},
			"selector": map[string]any{
				"type":        "string",
				"description": "Selector for specific content",
			},
		},
		"required": []string{"url"},
	}
}

func (w *FetchPageTool) SideEffect() SideEffectType { return SideEffectNetwork }

func (w *FetchPageTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	rawURL, ok := stringArg(input, "url")
	if !ok {
		return errorOutput("url is required"), nil
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return errorOutput("url must start with http:// or https://"), nil
	}
	selector, _ := input["selector"].(string)

	body, contentType, err := httpGet(ctx, httpClient(w.HTTPClient), rawURL, webFetchMaxBody)
	if err != nil {
		return errorOutput("%s", err), nil
	}

	content := string(body)
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml") {
		doc, err := html.Parse(bytes.NewReader(body))
		if err != nil {
			return errorOutput("parsing HTML: %s", err), nil
		}
		content = extractText(doc, selector)
	}

	if len(content) > webFetchMaxContent {
		content = content[:webFetchMaxContent] + "\n... (truncated)"
	}
	return ToolOutput{Content: content}, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{
		Timeout: webFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// httpGet fetches rawURL and returns at most limit bytes of the body.
func httpGet(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("reading response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// extractText returns the visible text of doc, or of the elements matching
// selector when one is given.
func extractText(doc *html.Node, selector string) string {
	roots := []*html.Node{doc}
	if sel := parseSelector(selector); sel != nil {
		roots = findAll(doc, sel)
	}

	var b strings.Builder
	for _, n := range roots {
		writeText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "head", "template":
			return
		}
		if isBlockTag(n.Data) && b.Len() > 0 {
			b.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// selector is the supported subset: tag, #id, .class, tag.class, tag#id.
type selector struct {
	tag, id, class string
}

func parseSelector(s string) *selector {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	sel := &selector{}
	if i := strings.IndexAny(s, "#."); i >= 0 {
		sel.tag = s[:i]
		if s[i] == '#' {
			sel.id = s[i+1:]
		} else {
			sel.class = s[i+1:]
		}
	} else {
		sel.tag = s
	}
	sel.tag = strings.ToLower(sel.tag)
	return sel
}

func (s *selector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// findAll returns matching elements in document order, skipping the
// descendants of a match so text is not repeated.
func findAll(n *html.Node, sel *selector) []*html.Node {
	if sel.matches(n) {
		return []*html.Node{n}
	}
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, findAll(c, sel)...)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isBlockTag(tag string) bool {
	switch tag {
	case "div", "p", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "table", "tr", "td", "th",
		"section", "article", "header", "footer", "nav",
		"blockquote", "pre", "hr", "main":
		return true
	}
	return false
}
