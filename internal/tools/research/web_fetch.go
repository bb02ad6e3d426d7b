package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"winterfox/internal/logging"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

const (
	fetchTimeout     = 60 * time.Second
	fetchBodyLimit   = 2 << 20 // 2MB
	defaultMaxLength = 50000
)

// Fetcher retrieves web pages as markdown. It tries a reader service
// first (clean markdown, handles JS-heavy pages) and falls back to a
// direct fetch with local HTML conversion.
type Fetcher struct {
	readerBase string
	httpClient *http.Client
}

// NewFetcher returns a fetcher using the given reader service base URL.
// An empty base disables the reader and goes straight to direct fetch.
func NewFetcher(readerBase string) *Fetcher {
	return &Fetcher{
		readerBase: readerBase,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch returns the page at url as markdown, truncated to maxLength.
func (f *Fetcher) Fetch(ctx context.Context, url string, maxLength int, includeLinks bool) (string, error) {
	if maxLength <= 0 {
		maxLength = defaultMaxLength
	}

	if f.readerBase != "" {
		content, err := f.fetchViaReader(ctx, url)
		if err == nil && strings.TrimSpace(content) != "" {
			return truncateContent(content, maxLength), nil
		}
		if err != nil {
			logging.ToolsDebug("Reader service failed for %s, falling back to direct fetch: %v", url, err)
		}
	}

	content, err := f.fetchDirect(ctx, url, includeLinks)
	if err != nil {
		return "", err
	}
	return truncateContent(content, maxLength), nil
}

func (f *Fetcher) fetchViaReader(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	readerURL := strings.TrimRight(f.readerBase, "/") + "/" + url
	req, err := http.NewRequestWithContext(ctx, "GET", readerURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reader request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read reader response: %w", err)
	}
	return string(body), nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, url string, includeLinks bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; winterfox/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		return string(body), nil
	}

	markdown, err := htmlToMarkdown(string(body), includeLinks)
	if err != nil {
		return "", fmt.Errorf("failed to convert to markdown: %w", err)
	}
	logging.ToolsDebug("Fetched %s directly (%d chars)", url, len(markdown))
	return markdown, nil
}

func truncateContent(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "\n\n[...truncated...]"
}

// htmlToMarkdown converts HTML to a simplified markdown format.
func htmlToMarkdown(htmlContent string, includeLinks bool) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	extractText(doc, &sb, includeLinks, 0)
	return cleanMarkdown(sb.String()), nil
}

func extractText(n *html.Node, sb *strings.Builder, includeLinks bool, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				extractText(c, sb, includeLinks, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "h4":
			sb.WriteString("\n\n#### ")
		case "h5":
			sb.WriteString("\n\n##### ")
		case "h6":
			sb.WriteString("\n\n###### ")
		case "p", "div":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if includeLinks {
				href := getAttr(n, "href")
				if href != "" && !strings.HasPrefix(href, "#") {
					sb.WriteString("[")
				}
			}
		case "img":
			alt := getAttr(n, "alt")
			if alt != "" {
				sb.WriteString(fmt.Sprintf("[Image: %s]", alt))
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, includeLinks, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n```\n\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if includeLinks {
				href := getAttr(n, "href")
				if href != "" && !strings.HasPrefix(href, "#") {
					sb.WriteString(fmt.Sprintf("](%s)", href))
				}
			}
		}
	}
}

// cleanMarkdown removes excessive whitespace from converted output.
func cleanMarkdown(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
