// Package httpx is the HTTP plumbing shared by the external API clients:
// a token bucket, bounded retries for transient failures and mapping of
// HTTP statuses onto apperr kinds.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"trendpost/internal/apperr"
	"trendpost/internal/metrics"
)

// Classifier turns a >= 400 response into an error. Returning nil falls
// back to the default mapping.
type Classifier func(resp *http.Response, body []byte) error

// Options configures a Client. Zero values pick the defaults noted below.
type Options struct {
	Service string
	// EnvPrefix enables <prefix>_RPS, _BURST, _MAX_ATTEMPTS and
	// _BASE_BACKOFF_MS overrides.
	EnvPrefix   string
	Timeout     time.Duration // 15s
	RPS         float64       // 2
	Burst       int           // 10
	MaxAttempts int           // 3
	BaseBackoff time.Duration // 500ms
	// MaxWait caps how long a 5xx Retry-After is honoured before giving up.
	MaxWait   time.Duration // 5s
	UserAgent string
	Classify  Classifier
}

// Client wraps http.Client with rate limiting and retries.
type Client struct {
	service     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	maxWait     time.Duration
	userAgent   string
	classify    Classifier
	now         func() time.Time
}

func New(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.RPS <= 0 {
		o.RPS = 2
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Limit(o.RPS), o.Burst)
	if o.EnvPrefix != "" {
		limiter = NewLimiter(o.EnvPrefix, o.RPS, o.Burst)
		o.MaxAttempts = getEnvInt(o.EnvPrefix+"_MAX_ATTEMPTS", o.MaxAttempts)
		o.BaseBackoff = time.Duration(getEnvInt(o.EnvPrefix+"_BASE_BACKOFF_MS", int(o.BaseBackoff/time.Millisecond))) * time.Millisecond
	}
	return &Client{
		service:     o.Service,
		httpClient:  &http.Client{Timeout: o.Timeout},
		limiter:     limiter,
		maxAttempts: o.MaxAttempts,
		baseBackoff: o.BaseBackoff,
		maxWait:     o.MaxWait,
		userAgent:   o.UserAgent,
		classify:    o.Classify,
		now:         time.Now,
	}
}

// Service names the remote side in errors and metrics.
func (c *Client) Service() string { return c.service }

// SetHTTPClient swaps the transport, e.g. for httptest servers.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// SetRetry overrides attempts and base backoff.
func (c *Client) SetRetry(maxAttempts int, baseBackoff time.Duration) {
	c.maxAttempts = maxAttempts
	c.baseBackoff = baseBackoff
}

// Do sends req and returns the response for statuses below 400. Network
// errors and 5xx responses are retried with exponential backoff; 429 is
// returned at once as *apperr.RateLimitError. The caller closes the body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.DoWith(ctx, req, nil)
}

// DoWith is Do with a hook run on every attempt's copy of req, for
// signatures that must not be replayed.
func (c *Client) DoWith(ctx context.Context, req *http.Request, prepare func(*http.Request)) (*http.Response, error) {
	return c.observe(c.do(ctx, req, prepare, c.maxAttempts))
}

// DoOnce sends req exactly once, for requests that are not safe to repeat:
// a network error or 5xx may mean the server acted anyway, so it surfaces
// at once as *apperr.TransientError.
func (c *Client) DoOnce(ctx context.Context, req *http.Request, prepare func(*http.Request)) (*http.Response, error) {
	return c.observe(c.do(ctx, req, prepare, 1))
}

func (c *Client) observe(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		metrics.IncAPIError(c.service, apperr.Kind(err))
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req *http.Request, prepare func(*http.Request), maxAttempts int) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.interrupted(ctx, err)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncAPIRetry(req.URL.Path)
		}
		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if prepare != nil {
			prepare(attemptReq)
		}
		resp, err := c.httpClient.Do(attemptReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.interrupted(ctx, ctx.Err())
			}
			lastErr = err
			if attempt < maxAttempts {
				if err := sleep(ctx, jitter(backoff)); err != nil {
					return nil, c.interrupted(ctx, err)
				}
			}
			backoff *= 2
			continue
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			body := readBody(resp)
			q := ParseQuota(resp.Header, c.now())
			return nil, &apperr.RateLimitError{Service: c.service, RetryAfter: q.RetryAfter, Remaining: q.Remaining, Detail: Detail(body)}
		case resp.StatusCode >= 500:
			body := readBody(resp)
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, Detail(body))
			wait := backoff
			if q := ParseQuota(resp.Header, c.now()); q.RetryAfter > 0 {
				if q.RetryAfter > c.maxWait {
					return nil, &apperr.RateLimitError{Service: c.service, RetryAfter: q.RetryAfter, Remaining: q.Remaining, Detail: lastErr.Error()}
				}
				wait = q.RetryAfter
			}
			if attempt < maxAttempts {
				if err := sleep(ctx, jitter(wait)); err != nil {
					return nil, c.interrupted(ctx, err)
				}
			}
			backoff *= 2
			continue
		case resp.StatusCode >= 400:
			body := readBody(resp)
			if c.classify != nil {
				if err := c.classify(resp, body); err != nil {
					return nil, err
				}
			}
			return nil, c.defaultError(resp, body)
		}
		return resp, nil
	}
	if maxAttempts == 1 {
		return nil, &apperr.TransientError{Service: c.service, Err: lastErr}
	}
	return nil, &apperr.TransientError{Service: c.service, Err: fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)}
}

// interrupted reports a cancelled or expired wait as a transient failure;
// the cause stays reachable through errors.Is.
func (c *Client) interrupted(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	}
	return &apperr.TransientError{Service: c.service, Err: err}
}

func (c *Client) defaultError(resp *http.Response, body []byte) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &apperr.AuthError{Service: c.service, Detail: Detail(body)}
	case http.StatusNotFound:
		return &apperr.NotFoundError{What: c.service + " resource", Query: resp.Request.URL.Path}
	default:
		return &apperr.RejectedError{Service: c.service, Status: resp.StatusCode, Detail: Detail(body)}
	}
}

// Detail pulls a human readable message out of an error body.
func Detail(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		for _, k := range []string{"detail", "description", "message", "error", "title"} {
			if s, ok := raw[k].(string); ok && s != "" {
				return s
			}
		}
		if errs, ok := raw["errors"].([]any); ok && len(errs) > 0 {
			if first, ok := errs[0].(map[string]any); ok {
				if s, ok := first["message"].(string); ok {
					return s
				}
			}
		}
	}
	if len(trimmed) > 300 {
		trimmed = trimmed[:300]
	}
	return trimmed
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

func readBody(resp *http.Response) []byte {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return b
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter spreads d by +/-20%.
func jitter(d time.Duration) time.Duration {
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(time.Now().UnixNano()%int64(2*j))
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}

// IsContextErr reports whether err came from a cancelled or expired context.
func IsContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
