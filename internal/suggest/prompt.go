package suggest

import (
	"fmt"
	"strings"
	"unicode"

	"trendpost/internal/model"
	"trendpost/internal/util"
)

// ResearchPrompt asks for one post built on web research about the topic of
// the selected post, whose text is quoted as context when non-empty.
func ResearchPrompt(r model.Research, post string, maxChars int) string {
	var sources strings.Builder
	for i, s := range r.Sources {
		if i == 5 {
			break
		}
		if i > 0 {
			sources.WriteString("\n\n")
		}
		fmt.Fprintf(&sources, "Source %d: %s\n%s", i+1, s.Title, s.Snippet)
	}
	var original string
	if post = util.NormalizeWhitespace(post); post != "" {
		original = "Original post:\n" + util.Truncate(post, 1000, "...") + "\n\n"
	}
	return fmt.Sprintf(`You are a social media expert creating engaging posts for X (Twitter).

Topic: %s

%sBased on this research from the web:

%s

Create ONE engaging post in ENGLISH that:
1. Captures the key insights from the research
2. Is informative and shareable
3. Is MAXIMUM %d characters (very important!)
4. Uses a conversational, authentic tone
5. Includes relevant context or a compelling angle
6. Is original and creative

IMPORTANT: Respond ONLY with the post text in English. No explanations, no extra text, just the post.
`, r.Topic, original, sources.String(), maxChars)
}

// DirectPrompt asks for one post reflecting the top discovered posts.
func DirectPrompt(query string, posts []model.Post, maxChars int) string {
	var lines strings.Builder
	for i, p := range posts {
		if i == 5 {
			break
		}
		lines.WriteString("- " + util.Truncate(util.NormalizeWhitespace(p.Text), 400, "...") + "\n")
	}
	tag := hashtag(query)
	return fmt.Sprintf(`You are a social media expert creating engaging posts for X (Twitter).

Based on these top trending posts about %s:

%s
Create ONE engaging post in ENGLISH that:
1. Reflects the main themes and topics from these posts
2. Is engaging and shareable
3. Is MAXIMUM %d characters (very important!)
4. Includes the hashtag %s
5. Is original and creative, not a copy
6. Uses a conversational, authentic tone

IMPORTANT: Respond ONLY with the post text in English. No explanations, no extra text, just the post.
`, query, lines.String(), maxChars, tag)
}

// hashtag turns a free-form query into a single #tag.
func hashtag(query string) string {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "#") {
		q = q[1:]
	}
	var b strings.Builder
	for _, r := range q {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}
