package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/config"
	"trendpost/internal/model"
	"trendpost/internal/store"
	"trendpost/internal/util"
	"trendpost/internal/workflow"
)

// MaxMessageLen keeps chunks under Telegram's 4096 character limit.
const MaxMessageLen = 4000

func esc(s string) string { return html.EscapeString(s) }

func renderHelp(variant string) string {
	var b strings.Builder
	b.WriteString("<b>🤖 Trending post assistant</b>\n\n")
	b.WriteString("Discover what is trending, draft a post with a local model and publish it to X on your approval.\n\n")
	b.WriteString("1️⃣ /search &lt;query&gt; or /trending &lt;topic&gt; - find the most engaging posts\n")
	if variant == config.VariantDirect {
		b.WriteString("2️⃣ /propose - draft a post from the top results\n")
		b.WriteString("3️⃣ /approve - publish it, or /cancel to discard\n\n")
	} else {
		b.WriteString("2️⃣ /research &lt;n&gt; - research post #n on the web\n")
		b.WriteString("3️⃣ /propose - draft a post from the research (or from the top results)\n")
		b.WriteString("4️⃣ /approve - publish it, or /cancel to discard\n\n")
	}
	b.WriteString("/status shows where you are, /history the last published posts.")
	return b.String()
}

// renderPosts lists posts as numbered entries, split into chunks.
func renderPosts(query string, posts []model.Post, next string) []string {
	blocks := []string{fmt.Sprintf("<b>🔥 Top %d posts for %s</b>", len(posts), esc(query))}
	for i, p := range posts {
		var b strings.Builder
		fmt.Fprintf(&b, "<b>%d.</b> %s\n", i+1, esc(util.Truncate(util.NormalizeWhitespace(p.Text), 200, "...")))
		fmt.Fprintf(&b, "👤 %s · ❤️ %d · 🔁 %d · 💬 %d · ⭐ %d", esc(p.Author), p.Likes, p.Shares, p.Replies, p.Engagement())
		if p.URL != "" {
			fmt.Fprintf(&b, "\n<a href=\"%s\">open</a>", esc(p.URL))
		}
		blocks = append(blocks, b.String())
	}
	blocks = append(blocks, "💡 Next: "+esc(next))
	return chunk(blocks, MaxMessageLen)
}

func renderResearch(index int, r model.Research) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>🔬 Research on #%d: %s</b>\n\n", index, esc(util.Truncate(r.Topic, 80, "...")))
	for i, s := range r.Sources {
		fmt.Fprintf(&b, "<b>%d. %s</b>\n", i+1, esc(s.Title))
		if s.Snippet != "" {
			b.WriteString(esc(util.Truncate(s.Snippet, 200, "...")) + "\n")
		}
		fmt.Fprintf(&b, "🔗 <a href=\"%s\">read more</a>\n\n", esc(s.URL))
	}
	fmt.Fprintf(&b, "✅ Found %d sources\n💡 Use /propose to draft a post from this research.", len(r.Sources))
	return b.String()
}

func renderProposal(p model.Proposal) string {
	var b strings.Builder
	b.WriteString("<b>📝 Proposed post</b>\n\n")
	b.WriteString(esc(p.Text))
	fmt.Fprintf(&b, "\n\n📏 %d/%d characters", p.Length, p.Limit)
	if p.Truncated {
		b.WriteString(" (shortened)")
	}
	b.WriteString("\n\n/approve to publish or /cancel to discard")
	return b.String()
}

func renderPublished(link string) string {
	return fmt.Sprintf("🎉 <b>Published!</b>\n\n<a href=\"%s\">%s</a>", esc(link), esc(link))
}

func renderStatus(s *workflow.Session, next string, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>📍 Status:</b> %s\n", s.State)
	if s.Query != "" {
		fmt.Fprintf(&b, "🔎 Query: %s (%d posts)\n", esc(s.Query), len(s.Posts))
	}
	if p, ok := s.SelectedPost(); ok {
		fmt.Fprintf(&b, "🎯 Selected: #%d %s\n", s.Selected, esc(util.Truncate(util.NormalizeWhitespace(p.Text), 80, "...")))
	}
	if s.Research != nil {
		fmt.Fprintf(&b, "🔬 Research: %d sources\n", len(s.Research.Sources))
	}
	if s.Proposal != nil {
		fmt.Fprintf(&b, "📝 Proposal: %d/%d characters\n", s.Proposal.Length, s.Proposal.Limit)
	}
	if remaining >= 0 {
		fmt.Fprintf(&b, "📮 Posts left today: %d\n", remaining)
	}
	b.WriteString("💡 Next: " + esc(next))
	return b.String()
}

func renderHistory(pubs []store.Publication) string {
	if len(pubs) == 0 {
		return "📭 Nothing published yet."
	}
	var b strings.Builder
	b.WriteString("<b>📜 Recently published</b>\n\n")
	for i, p := range pubs {
		fmt.Fprintf(&b, "%d. %s\n%s · <a href=\"%s\">open</a>\n\n", i+1,
			esc(util.Truncate(p.Text, 120, "...")), p.TS.Format("2006-01-02 15:04 UTC"), esc(p.URL))
	}
	return strings.TrimSpace(b.String())
}

func renderUnauthorized(userID int64) string {
	return fmt.Sprintf("⛔ You are not authorized to use this bot.\nYour user id is <code>%d</code>.", userID)
}

// renderError turns any error into a chat message with guidance.
func renderError(err error) string {
	var (
		authErr  *apperr.AuthError
		rateErr  *apperr.RateLimitError
		transErr *apperr.TransientError
		nfErr    *apperr.NotFoundError
		selErr   *apperr.InvalidSelectionError
		genErr   *apperr.GenerationError
		stateErr *apperr.StateError
		rejErr   *apperr.RejectedError
		useErr   *apperr.UsageError
	)
	switch {
	case errors.As(err, &genErr):
		return fmt.Sprintf("🤖 Could not draft a post with <b>%s</b>: %s\nIs Ollama running and the model pulled? Try /propose again.", esc(genErr.Model), esc(cause(genErr)))
	case errors.As(err, &authErr):
		return fmt.Sprintf("🔒 <b>%s</b> rejected the credentials: %s\nThis service stays disabled until the bot is restarted with valid credentials.", esc(authErr.Service), esc(authErr.Detail))
	case errors.As(err, &rateErr):
		var b strings.Builder
		fmt.Fprintf(&b, "⏳ <b>%s</b> rate limit reached.", esc(rateErr.Service))
		if rateErr.RetryAfter > 0 {
			fmt.Fprintf(&b, " Try again in %s.", rateErr.RetryAfter.Round(time.Second))
		} else {
			b.WriteString(" Try again later.")
		}
		if rateErr.Remaining >= 0 {
			fmt.Fprintf(&b, " Requests left in this window: %d.", rateErr.Remaining)
		}
		if rateErr.Detail != "" {
			b.WriteString("\n" + esc(rateErr.Detail))
		}
		return b.String()
	case errors.As(err, &transErr):
		return fmt.Sprintf("📡 <b>%s</b> is temporarily unavailable. Please send the command again in a moment.", esc(transErr.Service))
	case errors.As(err, &nfErr):
		return "🔍 " + esc(capitalize(nfErr.Error())) + ". Try another query."
	case errors.As(err, &selErr):
		if selErr.Max == 0 {
			return "❌ There are no results to choose from. Start with /search &lt;query&gt;."
		}
		return fmt.Sprintf("❌ Invalid number %d. Choose between 1 and %d.", selErr.Index, selErr.Max)
	case errors.As(err, &stateErr):
		return fmt.Sprintf("⚠️ /%s is not available now (%s).\n💡 Next: %s", esc(stateErr.Command), esc(stateErr.State), esc(stateErr.Expected))
	case errors.As(err, &rejErr):
		return fmt.Sprintf("🚫 <b>%s</b> refused the post: %s\nUse /cancel to discard it or start over with /search.", esc(rejErr.Service), esc(rejErr.Detail))
	case errors.As(err, &useErr):
		return fmt.Sprintf("ℹ️ %s\nUsage: <code>%s</code>", esc(capitalize(useErr.Reason)), esc(useErr.Usage))
	default:
		return "❌ Something went wrong: " + esc(err.Error())
	}
}

func cause(e *apperr.GenerationError) string {
	if e.Err == nil {
		return "the model returned no usable text"
	}
	return e.Err.Error()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// chunk packs blocks, separated by blank lines, into messages of at most
// limit runes. A block longer than limit is split on rune boundaries.
func chunk(blocks []string, limit int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, blk := range blocks {
		n := util.RuneLen(blk)
		if n > limit {
			flush()
			r := []rune(blk)
			for len(r) > limit {
				out = append(out, string(r[:limit]))
				r = r[limit:]
			}
			blk, n = string(r), len(r)
		}
		sep := 0
		if curLen > 0 {
			sep = 2
		}
		if curLen+sep+n > limit {
			flush()
			sep = 0
		}
		if sep > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(blk)
		curLen += sep + n
	}
	flush()
	return out
}
