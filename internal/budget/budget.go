// Package budget keeps publishing inside X's posting quota and stops the
// same text from going out twice.
package budget

import (
	"context"
	"fmt"
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/config"
	"trendpost/internal/store"
)

const (
	actionPublish = "publish"
	// X rejects duplicates for a while; a week of history covers it.
	duplicateWindow = 7 * 24 * time.Hour
	monthWindow     = 30 * 24 * time.Hour
)

// Budget gates publishing on the ledger.
type Budget struct {
	db          *store.DB
	maxPerDay   int
	maxPerMonth int
}

func New(db *store.DB, cfg config.PublishConfig) *Budget {
	return &Budget{db: db, maxPerDay: cfg.MaxPerDay, maxPerMonth: cfg.MaxPerMonth}
}

// ShouldAllowPublish checks the daily (UTC calendar day) and rolling
// 30-day budgets. A non-positive limit is disabled.
func (b *Budget) ShouldAllowPublish(ctx context.Context, now time.Time) (bool, error) {
	wait, err := b.blockedFor(ctx, now)
	return wait == 0, err
}

// blockedFor returns how long until the exhausted budgets free a slot, zero
// when publishing is allowed now. When both are exhausted the later wins.
func (b *Budget) blockedFor(ctx context.Context, now time.Time) (time.Duration, error) {
	now = now.UTC()
	var wait time.Duration
	if b.maxPerDay > 0 {
		startDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := b.db.CountActionsWithin(ctx, startDay, startDay.Add(24*time.Hour), actionPublish)
		if err != nil {
			return 0, err
		}
		if n >= b.maxPerDay {
			wait = startDay.Add(24 * time.Hour).Sub(now)
		}
	}
	if b.maxPerMonth > 0 {
		from := now.Add(-monthWindow)
		n, err := b.db.CountActionsWithin(ctx, from, now.Add(time.Second), actionPublish)
		if err != nil {
			return 0, err
		}
		if n >= b.maxPerMonth {
			// a slot frees once enough of the oldest posts leave the window
			ts, ok, err := b.db.NthOldestAction(ctx, from, now.Add(time.Second), actionPublish, n-b.maxPerMonth)
			if err != nil {
				return 0, err
			}
			w := time.Second
			if ok {
				if d := ts.Add(monthWindow).Sub(now); d > w {
					w = d
				}
			}
			if w > wait {
				wait = w
			}
		}
	}
	return wait, nil
}

// Check returns nil when text may be published now. An exhausted budget is
// a *apperr.RateLimitError whose RetryAfter is when the tripped limit frees
// up, a repeat of recent text a *apperr.RejectedError.
func (b *Budget) Check(ctx context.Context, text string, now time.Time) error {
	wait, err := b.blockedFor(ctx, now)
	if err != nil {
		return fmt.Errorf("publish budget: %w", err)
	}
	if wait > 0 {
		return &apperr.RateLimitError{
			Service:    "publish budget",
			RetryAfter: wait,
			Remaining:  0,
			Detail:     fmt.Sprintf("limit is %d per day and %d per 30 days", b.maxPerDay, b.maxPerMonth),
		}
	}
	dup, err := b.db.PublishedSince(ctx, text, now.Add(-duplicateWindow))
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		return &apperr.RejectedError{Service: "x", Detail: "this text was already published in the last 7 days"}
	}
	return nil
}

// Record counts a publication against the budget and keeps it for /history.
func (b *Budget) Record(ctx context.Context, p store.Publication) error {
	if err := b.db.PutAction(ctx, p.TS, actionPublish); err != nil {
		return err
	}
	return b.db.PutPublication(ctx, p)
}

// Remaining reports how many posts are left today, -1 when unlimited.
func (b *Budget) Remaining(ctx context.Context, now time.Time) (int, error) {
	if b.maxPerDay <= 0 {
		return -1, nil
	}
	now = now.UTC()
	startDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	n, err := b.db.CountActionsWithin(ctx, startDay, startDay.Add(24*time.Hour), actionPublish)
	if err != nil {
		return 0, err
	}
	if left := b.maxPerDay - n; left > 0 {
		return left, nil
	}
	return 0, nil
}
