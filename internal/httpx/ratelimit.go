package httpx

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// NewLimiter creates a token bucket using env overrides if present.
// prefix selects the variables, e.g. "X_API" reads X_API_RPS and X_API_BURST.
func NewLimiter(prefix string, rps float64, burst int) *rate.Limiter {
	if v := os.Getenv(prefix + "_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv(prefix + "_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Quota is what a 429 response tells us about when to come back.
type Quota struct {
	RetryAfter time.Duration
	Remaining  int
}

// ParseQuota reads Retry-After plus the X (x-rate-limit-*) and Reddit
// (x-ratelimit-*) quota headers. Remaining is -1 when no header says.
func ParseQuota(h http.Header, now time.Time) Quota {
	q := Quota{Remaining: -1}
	if v := h.Get("x-rate-limit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Remaining = n
		}
	} else if v := h.Get("x-ratelimit-remaining"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			q.Remaining = int(f)
		}
	}
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			q.RetryAfter = time.Duration(secs) * time.Second
			return q
		}
		if t, err := http.ParseTime(ra); err == nil {
			if d := t.Sub(now); d > 0 {
				q.RetryAfter = d
			}
			return q
		}
	}
	// x-rate-limit-reset is an epoch second.
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				q.RetryAfter = d
			}
		}
		return q
	}
	// x-ratelimit-reset counts seconds until the window resets.
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			q.RetryAfter = time.Duration(f * float64(time.Second))
		}
	}
	return q
}
