package xclient

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
	"trendpost/internal/model"
	"trendpost/internal/util"
)

const service = "x"

// Searcher is the read side of X used for discovery.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.Post, error)
}

// HTTPClient is a simple bearer-token client for X API v2.
type HTTPClient struct {
	baseURL     string
	bearerToken string
	limit       int
	http        *httpx.Client
}

func NewHTTPClient(bearerToken string, limit int) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/2",
		bearerToken: bearerToken,
		limit:       limit,
		http:        newDoer(),
	}
}

// newDoer is shared by the bearer and user-context clients so both honour
// the X_API_* tuning variables.
func newDoer() *httpx.Client {
	return httpx.New(httpx.Options{
		Service:     service,
		EnvPrefix:   "X_API",
		Timeout:     15 * time.Second,
		RPS:         1,
		Burst:       5,
		MaxAttempts: 5,
		Classify:    classify,
	})
}

// SetBaseURL points the client at another host, e.g. an httptest server.
func (c *HTTPClient) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// HTTP exposes the underlying doer for tuning in tests.
func (c *HTTPClient) HTTP() *httpx.Client { return c.http }

func (c *HTTPClient) auth(req *http.Request) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")
}

// Search returns recent original posts matching query, in API order.
// Retweets are excluded so counters belong to the post itself.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]model.Post, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, errors.New("empty query")
	}
	if !strings.Contains(q, "-is:retweet") {
		q += " -is:retweet"
	}
	u := fmt.Sprintf("%s/tweets/search/recent?max_results=%d&tweet.fields=created_at,public_metrics,author_id&expansions=author_id&user.fields=username&query=%s",
		c.baseURL, clamp(c.limit, 10, 100), url.QueryEscape(q))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("x search: %w", err)
	}
	defer resp.Body.Close()
	var raw struct {
		Data []struct {
			ID            string    `json:"id"`
			Text          string    `json:"text"`
			CreatedAt     time.Time `json:"created_at"`
			AuthorID      string    `json:"author_id"`
			PublicMetrics struct {
				LikeCount    int `json:"like_count"`
				ReplyCount   int `json:"reply_count"`
				RetweetCount int `json:"retweet_count"`
			} `json:"public_metrics"`
		} `json:"data"`
		Includes struct {
			Users []struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"users"`
		} `json:"includes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("x search: decode: %w", err)
	}
	usernames := make(map[string]string, len(raw.Includes.Users))
	for _, u := range raw.Includes.Users {
		usernames[u.ID] = u.Username
	}
	out := make([]model.Post, 0, len(raw.Data))
	for _, d := range raw.Data {
		author := usernames[d.AuthorID]
		if author == "" {
			author = d.AuthorID
		}
		link := "https://x.com/i/web/status/" + d.ID
		if uname := usernames[d.AuthorID]; uname != "" {
			link = fmt.Sprintf("https://x.com/%s/status/%s", uname, d.ID)
		}
		out = append(out, model.Post{
			ID:        d.ID,
			Text:      d.Text,
			Author:    author,
			Likes:     d.PublicMetrics.LikeCount,
			Shares:    d.PublicMetrics.RetweetCount,
			Replies:   d.PublicMetrics.ReplyCount,
			URL:       link,
			Source:    service,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

// classify maps X's 403 bodies: a duplicate post is a rejected request,
// not a credentials failure.
func classify(resp *http.Response, body []byte) error {
	if resp.StatusCode != http.StatusForbidden {
		return nil
	}
	detail := httpx.Detail(body)
	if util.ContainsAnyCaseInsensitive(detail, []string{"duplicate", "already posted"}) {
		return &apperr.RejectedError{Service: service, Status: resp.StatusCode, Detail: detail}
	}
	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
