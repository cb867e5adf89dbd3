// Package bot turns chat messages into workflow transitions and renders
// the outcome back as Telegram HTML.
package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"trendpost/internal/apperr"
	"trendpost/internal/cmdlog"
	"trendpost/internal/logging"
	"trendpost/internal/metrics"
	"trendpost/internal/store"
	"trendpost/internal/workflow"
)

// Inbound is one text message from the chat platform.
type Inbound struct {
	UserID   int64
	ChatID   int64
	Username string
	Text     string
}

// Sender delivers HTML messages to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, html string) error
}

// Ledger is the audit trail and publication history.
type Ledger interface {
	PutEvent(ctx context.Context, ts time.Time, typ string, payload any) error
	RecentPublications(ctx context.Context, limit int) ([]store.Publication, error)
}

// Quota reports publishes left today, -1 when unlimited.
type Quota interface {
	Remaining(ctx context.Context, now time.Time) (int, error)
}

// Bot dispatches commands for the single authorized user.
type Bot struct {
	engine     *workflow.Engine
	sessions   *workflow.Store
	sender     Sender
	authorized int64
	ledger     Ledger
	quota      Quota
	warned     map[int64]bool
	warnLimit  int
	now        func() time.Time
}

// strangers remembered before the set starts over
const defaultWarnLimit = 1024

func New(engine *workflow.Engine, sender Sender, authorizedUserID int64) *Bot {
	return &Bot{
		engine:     engine,
		sessions:   workflow.NewStore(),
		sender:     sender,
		authorized: authorizedUserID,
		warned:     map[int64]bool{},
		warnLimit:  defaultWarnLimit,
		now:        time.Now,
	}
}

// SetLedger enables the audit trail and /history.
func (b *Bot) SetLedger(l Ledger) { b.ledger = l }

// SetQuota enables the remaining-posts line in /status.
func (b *Bot) SetQuota(q Quota) { b.quota = q }

// Sessions exposes the session store, mainly for tests.
func (b *Bot) Sessions() *workflow.Store { return b.sessions }

// Handle processes one message to completion. Errors are reported to the
// chat, never returned; only a failure to send is.
func (b *Bot) Handle(ctx context.Context, in Inbound) error {
	if in.UserID != b.authorized {
		return b.reject(ctx, in)
	}
	cmd, ok := Parse(in.Text)
	if !ok {
		return b.reply(ctx, in.ChatID, "💡 Send a command, for example /search golang. /help lists them all.")
	}
	reqID := uuid.NewString()
	s := b.sessions.Get(in.UserID)
	var replies []string
	err := cmdlog.Run(cmd.Name, map[string]any{"request_id": reqID, "user_id": in.UserID}, func() error {
		var err error
		replies, err = b.dispatch(ctx, in, s, cmd)
		return err
	})
	b.audit(ctx, reqID, in, cmd, s, err)
	if err != nil {
		replies = append([]string{renderError(err)}, replies...)
	}
	for _, r := range replies {
		if sendErr := b.reply(ctx, in.ChatID, r); sendErr != nil {
			return sendErr
		}
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, in Inbound, s *workflow.Session, cmd Command) ([]string, error) {
	switch cmd.Name {
	case "start", "help":
		return []string{renderHelp(b.engine.Variant())}, nil
	case "search", "trending":
		if cmd.Arg == "" {
			return nil, &apperr.UsageError{Command: cmd.Name, Usage: "/" + cmd.Name + " <" + argName(cmd.Name) + ">", Reason: "missing " + argName(cmd.Name)}
		}
		posts, err := b.engine.Discover(ctx, s, cmd.Arg)
		if err != nil {
			return nil, err
		}
		return renderPosts(cmd.Arg, posts, b.engine.Expected(s)), nil
	case "research":
		n, err := strconv.Atoi(strings.TrimPrefix(cmd.Arg, "#"))
		if err != nil {
			return nil, &apperr.UsageError{Command: cmd.Name, Usage: "/research <n>", Reason: "expected a post number"}
		}
		// report the state problem before announcing work
		if _, ok := b.engine.Table().Next(s.State, workflow.CmdResearch); ok && n >= 1 && n <= len(s.Posts) {
			_ = b.reply(ctx, in.ChatID, "🔍 Researching post #"+strconv.Itoa(n)+"...")
		}
		res, err := b.engine.Research(ctx, s, n)
		if err != nil {
			return nil, err
		}
		return []string{renderResearch(n, res)}, nil
	case "propose":
		if _, ok := b.engine.Table().Next(s.State, workflow.CmdPropose); ok {
			_ = b.reply(ctx, in.ChatID, "🤖 Drafting a post, this can take a minute...")
		}
		p, err := b.engine.Propose(ctx, s)
		if err != nil {
			return nil, err
		}
		return []string{renderProposal(p)}, nil
	case "approve":
		link, err := b.engine.Approve(ctx, s)
		var transErr *apperr.TransientError
		if errors.As(err, &transErr) {
			return []string{"⚠️ The post may have gone out anyway. Check your profile before you /approve again."}, err
		}
		if err != nil {
			return nil, err
		}
		return []string{renderPublished(link)}, nil
	case "cancel":
		discarded, err := b.engine.Cancel(s)
		if err != nil {
			return nil, err
		}
		if !discarded {
			return []string{"👌 Nothing to cancel."}, nil
		}
		return []string{"🗑️ Cancelled. Start again with /search &lt;query&gt;."}, nil
	case "status":
		remaining := -1
		if b.quota != nil {
			if n, err := b.quota.Remaining(ctx, b.now()); err == nil {
				remaining = n
			}
		}
		return []string{renderStatus(s, b.engine.Expected(s), remaining)}, nil
	case "history":
		if b.ledger == nil {
			return []string{renderHistory(nil)}, nil
		}
		pubs, err := b.ledger.RecentPublications(ctx, 5)
		if err != nil {
			return nil, err
		}
		return []string{renderHistory(pubs)}, nil
	default:
		return nil, &apperr.UsageError{Command: cmd.Name, Usage: "/help", Reason: "unknown command /" + cmd.Name}
	}
}

func argName(cmd string) string {
	if cmd == "trending" {
		return "topic"
	}
	return "query"
}

// reject answers an unknown sender once and then ignores them.
func (b *Bot) reject(ctx context.Context, in Inbound) error {
	metrics.Unauthorized.Inc()
	logging.Warn("unauthorized_sender", map[string]any{"user_id": in.UserID, "username": in.Username, "first": !b.warned[in.UserID]})
	if b.ledger != nil {
		_ = b.ledger.PutEvent(ctx, b.now(), "unauthorized", map[string]any{"user_id": in.UserID, "username": in.Username})
	}
	if b.warned[in.UserID] {
		return nil
	}
	if len(b.warned) >= b.warnLimit {
		clear(b.warned)
	}
	b.warned[in.UserID] = true
	return b.reply(ctx, in.ChatID, renderUnauthorized(in.UserID))
}

func (b *Bot) audit(ctx context.Context, reqID string, in Inbound, cmd Command, s *workflow.Session, err error) {
	if b.ledger == nil {
		return
	}
	ev := map[string]any{
		"request_id": reqID,
		"user_id":    in.UserID,
		"command":    cmd.Name,
		"arg":        cmd.Arg,
		"state":      string(s.State),
		"ok":         err == nil,
	}
	if err != nil {
		ev["kind"] = apperr.Kind(err)
		ev["error"] = err.Error()
	}
	if aerr := b.ledger.PutEvent(ctx, b.now(), "command", ev); aerr != nil {
		logging.Warn("audit_write_failed", map[string]any{"error": aerr.Error()})
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, html string) error {
	if err := b.sender.Send(ctx, chatID, html); err != nil {
		logging.Error("send_failed", map[string]any{"chat_id": chatID, "error": err.Error()})
		return err
	}
	return nil
}
