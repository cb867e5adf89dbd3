// Package reddit discovers trending posts through Reddit's public JSON
// listings. No credentials are needed.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/httpx"
	"trendpost/internal/logging"
	"trendpost/internal/model"
	"trendpost/internal/util"
)

const service = "reddit"

// topicSubreddits maps common topics to the communities worth scanning.
// Anything else is used as a subreddit name directly.
var topicSubreddits = map[string][]string{
	"python":      {"python", "learnpython", "pythontips"},
	"javascript":  {"javascript", "learnjavascript", "webdev"},
	"ai":          {"artificial", "MachineLearning", "deeplearning"},
	"ml":          {"MachineLearning", "learnmachinelearning", "datascience"},
	"crypto":      {"cryptocurrency", "CryptoMarkets", "bitcoin"},
	"tech":        {"technology", "tech", "gadgets"},
	"programming": {"programming", "learnprogramming", "coding"},
	"web":         {"webdev", "web_design", "Frontend"},
	"data":        {"datascience", "datasets", "dataengineering"},
	"startup":     {"startups", "Entrepreneur", "SideProject"},
}

// Client fetches the week's top posts for a topic.
type Client struct {
	baseURL string
	limit   int
	http    *httpx.Client
}

func NewClient(limit int) *Client {
	if limit <= 0 {
		limit = 10
	}
	return &Client{
		baseURL: "https://www.reddit.com",
		limit:   limit,
		http: httpx.New(httpx.Options{
			Service:   service,
			EnvPrefix: "REDDIT_API",
			Timeout:   10 * time.Second,
			RPS:       1,
			Burst:     5,
			UserAgent: "trendpost/1.0",
			Classify:  classify,
		}),
	}
}

// SetBaseURL points the client at another host, e.g. an httptest server.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// HTTP exposes the underlying doer for tuning in tests.
func (c *Client) HTTP() *httpx.Client { return c.http }

// Subreddits returns the communities scanned for topic.
func Subreddits(topic string) []string {
	t := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(topic, "#", "")))
	if subs, ok := topicSubreddits[t]; ok {
		return subs
	}
	if t == "" {
		return nil
	}
	return []string{strings.ReplaceAll(t, " ", "")}
}

// Search returns the top posts of the week across the topic's subreddits,
// in fetch order. A failing subreddit is skipped as long as another one
// answers; when none does, the first failure is returned.
func (c *Client) Search(ctx context.Context, topic string) ([]model.Post, error) {
	subs := Subreddits(topic)
	if len(subs) == 0 {
		return nil, &apperr.NotFoundError{What: "subreddit", Query: topic}
	}
	var (
		posts    []model.Post
		firstErr error
		answered int
	)
	for _, sub := range subs {
		got, err := c.top(ctx, sub)
		if err != nil {
			if httpx.IsContextErr(err) {
				return nil, err
			}
			logging.Warn("reddit_subreddit_failed", map[string]any{"subreddit": sub, "error": err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			// a rate limit applies to the whole site
			var rl *apperr.RateLimitError
			if errors.As(err, &rl) {
				break
			}
			continue
		}
		answered++
		posts = append(posts, got...)
	}
	if answered == 0 && firstErr != nil {
		return nil, firstErr
	}
	logging.Debug("reddit_search", map[string]any{"topic": topic, "subreddits": subs, "posts": len(posts)})
	return posts, nil
}

type listing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID            string  `json:"id"`
				Title         string  `json:"title"`
				Selftext      string  `json:"selftext"`
				Author        string  `json:"author"`
				Score         int     `json:"score"`
				NumComments   int     `json:"num_comments"`
				NumCrossposts int     `json:"num_crossposts"`
				Permalink     string  `json:"permalink"`
				CreatedUTC    float64 `json:"created_utc"`
				Stickied      bool    `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (c *Client) top(ctx context.Context, sub string) ([]model.Post, error) {
	u := fmt.Sprintf("%s/r/%s/top.json?t=week&limit=%d&raw_json=1", c.baseURL, url.PathEscape(sub), c.limit)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("r/%s: %w", sub, err)
	}
	defer resp.Body.Close()
	var raw listing
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		// unknown subreddits redirect to an HTML search page
		return nil, &apperr.NotFoundError{What: "subreddit", Query: sub}
	}
	out := make([]model.Post, 0, len(raw.Data.Children))
	for _, ch := range raw.Data.Children {
		d := ch.Data
		if d.Stickied {
			continue
		}
		text := d.Title
		if self := strings.TrimSpace(d.Selftext); self != "" {
			text = d.Title + "\n\n" + util.Truncate(self, 200, "")
		}
		author := d.Author
		if author == "" {
			author = "deleted"
		}
		out = append(out, model.Post{
			ID:        d.ID,
			Text:      text,
			Author:    author,
			Likes:     d.Score,
			Shares:    d.NumCrossposts,
			Replies:   d.NumComments,
			URL:       "https://reddit.com" + d.Permalink,
			Source:    service,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		})
	}
	return out, nil
}

// classify keeps private and banned subreddits from looking like a
// credentials problem: the public API has no credentials to reject.
func classify(resp *http.Response, _ []byte) error {
	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusNotFound:
		return &apperr.NotFoundError{What: "subreddit", Query: strings.TrimSuffix(strings.TrimPrefix(resp.Request.URL.Path, "/r/"), "/top.json")}
	}
	return nil
}
