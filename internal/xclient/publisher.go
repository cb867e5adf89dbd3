package xclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/httpx"
	"trendpost/internal/model"
	"trendpost/internal/util"
)

// Account is the user the publishing credentials belong to.
type Account struct {
	ID       string
	Username string
	Name     string
}

// Publisher posts to X API v2 on behalf of one user via OAuth 1.0a.
type Publisher struct {
	baseURL        string
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	http           *httpx.Client
	nowFn          func() time.Time
	nonceFn        func() string
}

func NewPublisher(ck, cs, at, as string) *Publisher {
	return &Publisher{
		baseURL:        "https://api.twitter.com/2",
		ConsumerKey:    ck,
		ConsumerSecret: cs,
		AccessToken:    at,
		AccessSecret:   as,
		http:           newDoer(),
		nowFn:          time.Now,
		nonceFn:        func() string { return strconv.FormatInt(rand.Int63(), 36) + strconv.FormatInt(rand.Int63(), 36) },
	}
}

// SetBaseURL points the publisher at another host, e.g. an httptest server.
func (p *Publisher) SetBaseURL(u string) { p.baseURL = strings.TrimRight(u, "/") }

// HTTP exposes the underlying doer for tuning in tests.
func (p *Publisher) HTTP() *httpx.Client { return p.http }

// Permalink is the canonical URL of a post id.
func Permalink(id string) string { return "https://x.com/i/web/status/" + id }

// Publish creates a post and returns its permalink. Text over the limit is
// refused before any request is made. A failed request is not retried.
func (p *Publisher) Publish(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &apperr.RejectedError{Service: service, Detail: "empty post"}
	}
	if n := util.RuneLen(text); n > model.MaxPostChars {
		return "", &apperr.RejectedError{Service: service, Detail: fmt.Sprintf("post is %d characters, limit is %d", n, model.MaxPostChars)}
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tweets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	// X may store the post and still answer 5xx, so publishing is never repeated
	resp, err := p.http.DoOnce(ctx, req, func(r *http.Request) { p.oauth1Sign(r, nil) })
	if err != nil {
		return "", fmt.Errorf("x publish: %w", err)
	}
	defer resp.Body.Close()
	var raw struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("x publish: decode: %w", err)
	}
	if raw.Data.ID == "" {
		return "", errors.New("x publish: response carried no post id")
	}
	return Permalink(raw.Data.ID), nil
}

// Me resolves the account behind the user-context credentials.
func (p *Publisher) Me(ctx context.Context) (Account, error) {
	var out Account
	params := map[string]string{"user.fields": "username"}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/users/me?"+encodeQuery(params), nil)
	resp, err := p.http.DoWith(ctx, req, func(r *http.Request) { p.oauth1Sign(r, params) })
	if err != nil {
		return out, fmt.Errorf("x users/me: %w", err)
	}
	defer resp.Body.Close()
	var raw struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, fmt.Errorf("x users/me: decode: %w", err)
	}
	return Account{ID: raw.Data.ID, Username: raw.Data.Username, Name: raw.Data.Name}, nil
}

func (p *Publisher) oauth1Sign(req *http.Request, queryParams map[string]string) {
	oauth := map[string]string{
		"oauth_consumer_key":     p.ConsumerKey,
		"oauth_nonce":            p.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(p.nowFn().Unix(), 10),
		"oauth_token":            p.AccessToken,
		"oauth_version":          "1.0",
	}
	all := map[string]string{}
	for k, v := range oauth {
		all[k] = v
	}
	for k, v := range queryParams {
		all[k] = v
	}
	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	oauth["oauth_signature"] = Signature(req.Method, baseURL, all, p.ConsumerSecret, p.AccessSecret)
	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)
	authParts := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		authParts = append(authParts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(authParts, ", "))
	req.Header.Set("Accept", "application/json")
}

// Signature computes the HMAC-SHA1 OAuth 1.0a signature of a request.
// params holds the oauth_* values plus query and form parameters; JSON
// bodies are not signed.
func Signature(method, baseURL string, params map[string]string, consumerSecret, tokenSecret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, rfc3986(k)+"="+rfc3986(params[k]))
	}
	base := strings.ToUpper(method) + "&" + rfc3986(baseURL) + "&" + rfc3986(strings.Join(parts, "&"))
	signingKey := rfc3986(consumerSecret) + "&" + rfc3986(tokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func encodeQuery(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, rfc3986(k)+"="+rfc3986(m[k]))
	}
	return strings.Join(parts, "&")
}

// RFC 3986 percent-encoding for OAuth
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}
