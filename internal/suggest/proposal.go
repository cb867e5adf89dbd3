package suggest

import (
	"regexp"
	"strings"
	"time"

	"trendpost/internal/model"
	"trendpost/internal/util"
)

var (
	labelPrefix = regexp.MustCompile(`(?i)^\s*(here'?s?\s+(is\s+)?(a|an|the|my|your)?\s*(engaging\s+)?(tweet|post|x post)[^:\n]*:|(tweet|post|x post)\s*:)\s*`)
	charCount   = regexp.MustCompile(`(?i)\s*\(\s*\d+\s+char(acter)?s?\s*\)\s*$`)
)

// Clean strips the wrapping models like to add around an answer: a
// "Here's a tweet:" label, code fences, surrounding quotes and a trailing
// "(123 characters)". Whitespace is collapsed.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = labelPrefix.ReplaceAllString(s, "")
	s = charCount.ReplaceAllString(s, "")
	s = util.NormalizeWhitespace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}

// Finalize cleans raw model output into a proposal capped at limit runes:
// longer text keeps limit-3 runes followed by "...". ok is false when
// nothing usable is left.
func Finalize(raw, modelName string, limit int, now time.Time) (p model.Proposal, ok bool) {
	if limit <= 0 || limit > model.MaxPostChars {
		limit = model.MaxPostChars
	}
	text := Clean(raw)
	if text == "" {
		return p, false
	}
	truncated := false
	if util.RuneLen(text) > limit {
		text = util.Truncate(text, limit, "...")
		truncated = true
	}
	return model.Proposal{
		Text:      text,
		Length:    util.RuneLen(text),
		Limit:     limit,
		Truncated: truncated,
		Model:     modelName,
		CreatedAt: now,
	}, true
}
