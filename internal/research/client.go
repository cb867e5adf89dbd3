// Package research looks a topic up on the web through DuckDuckGo's HTML
// endpoint, which needs no API key.
package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"trendpost/internal/apperr"
	"trendpost/internal/httpx"
	"trendpost/internal/logging"
	"trendpost/internal/model"
	"trendpost/internal/util"
)

const service = "duckduckgo"

// Client performs a web search and condenses the hits into a Research.
type Client struct {
	baseURL    string
	maxResults int
	http       *httpx.Client
}

func NewClient(maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Client{
		baseURL:    "https://html.duckduckgo.com/html/",
		maxResults: maxResults,
		http: httpx.New(httpx.Options{
			Service:   service,
			EnvPrefix: "DDG",
			Timeout:   30 * time.Second,
			RPS:       0.5,
			Burst:     2,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		}),
	}
}

// SetBaseURL points the client at another host, e.g. an httptest server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// HTTP exposes the underlying doer for tuning in tests.
func (c *Client) HTTP() *httpx.Client { return c.http }

// Query turns a post's text into a search query: its first line, trimmed
// to a length search engines handle well.
func Query(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return util.Truncate(util.NormalizeWhitespace(line), 120, "")
}

// ResearchTopic searches the web for text and returns the hits with a
// readable summary. No hits is a *apperr.NotFoundError.
func (c *Client) ResearchTopic(ctx context.Context, text string) (model.Research, error) {
	q := Query(text)
	out := model.Research{Topic: q}
	if q == "" {
		return out, &apperr.NotFoundError{What: "research results", Query: text}
	}
	u := c.baseURL + "?q=" + url.QueryEscape(q)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return out, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, &apperr.TransientError{Service: service, Err: err}
	}
	sources, err := ParseResults(string(body), c.maxResults)
	if err != nil {
		return out, fmt.Errorf("web search: %w", err)
	}
	if len(sources) == 0 {
		return out, &apperr.NotFoundError{What: "research results", Query: q}
	}
	out.Sources = sources
	out.Summary = Summarize(q, sources)
	logging.Debug("research_done", map[string]any{"query": q, "sources": len(sources)})
	return out, nil
}

// Summarize renders sources as plain text for prompts and logs.
func Summarize(topic string, sources []model.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research summary: %s\n\n", topic)
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Title)
		if s.Snippet != "" {
			b.WriteString(util.Truncate(s.Snippet, 200, "...") + "\n")
		}
		b.WriteString(s.URL + "\n\n")
	}
	return strings.TrimSpace(b.String())
}

// ParseResults extracts up to maxResults hits from DuckDuckGo HTML.
func ParseResults(htmlContent string, maxResults int) ([]model.Source, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var results []model.Source
	// result blocks carry class="result results_links ..."
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			cls := attr(n, "class")
			if strings.Contains(cls, "result") && strings.Contains(cls, "results_links") && !strings.Contains(cls, "result--ad") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			findResults(ch)
		}
	}
	findResults(doc)
	return results, nil
}

func extractResult(n *html.Node) model.Source {
	var r model.Source
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "a" || n.Data == "div" || n.Data == "td") {
			cls := attr(n, "class")
			switch {
			case strings.Contains(cls, "result__a"):
				r.URL = attr(n, "href")
				r.Title = textContent(n)
			case strings.Contains(cls, "result__snippet"):
				r.Snippet = textContent(n)
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			extract(ch)
		}
	}
	extract(n)
	r.URL = decodeRedirect(r.URL)
	return r
}

// decodeRedirect unwraps //duckduckgo.com/l/?uddg=<target>&rut=... links.
func decodeRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return util.NormalizeWhitespace(sb.String())
}
