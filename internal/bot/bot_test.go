package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trendpost/internal/apperr"
	"trendpost/internal/budget"
	"trendpost/internal/config"
	"trendpost/internal/model"
	"trendpost/internal/store"
	"trendpost/internal/workflow"
)

type sent struct {
	chatID int64
	html   string
}

type recordingSender struct{ msgs []sent }

func (r *recordingSender) Send(_ context.Context, chatID int64, html string) error {
	r.msgs = append(r.msgs, sent{chatID, html})
	return nil
}

func (r *recordingSender) last() string {
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1].html
}

type stubSearch struct {
	posts []model.Post
	err   error
}

func (s stubSearch) Search(context.Context, string) ([]model.Post, error) { return s.posts, s.err }

type stubResearch struct{}

func (stubResearch) ResearchTopic(_ context.Context, text string) (model.Research, error) {
	return model.Research{Topic: text, Sources: []model.Source{{Title: "Go <1.22>", Snippet: "range & loops", URL: "https://go.dev/?a=1&b=2"}}}, nil
}

type stubGen struct{ out string }

func (g stubGen) Generate(context.Context, string) (string, error) { return g.out, nil }
func (g stubGen) Model() string                                    { return "mistral" }

type stubPub struct{ err error }

func (p stubPub) Publish(context.Context, string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "https://x.com/i/web/status/123", nil
}

const owner = int64(1001)

func newTestBot(t *testing.T, variant string, pub stubPub) (*Bot, *recordingSender, *store.DB) {
	t.Helper()
	posts := []model.Post{
		{ID: "1", Text: "Small <b>thing</b>", Author: "amy", Likes: 1, URL: "https://reddit.com/r/golang/1"},
		{ID: "2", Text: "Big news", Author: "bob", Likes: 100, Shares: 3, Replies: 7},
		{ID: "3", Text: "Medium", Author: "cat", Likes: 20},
	}
	engine := workflow.NewEngine(stubSearch{posts: posts}, stubResearch{}, stubGen{out: "Go loops got better #golang"}, pub,
		workflow.Options{Variant: variant})
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	gate := budget.New(db, config.PublishConfig{MaxPerDay: 5, MaxPerMonth: 100})
	engine.SetGate(gate)

	rs := &recordingSender{}
	b := New(engine, rs, owner)
	b.SetLedger(db)
	b.SetQuota(gate)
	return b, rs, db
}

func say(t *testing.T, b *Bot, text string) {
	t.Helper()
	require.NoError(t, b.Handle(context.Background(), Inbound{UserID: owner, ChatID: 55, Text: text}))
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Command
		ok   bool
	}{
		{"/search golang generics", Command{"search", "golang generics"}, true},
		{"/research@trendpost_bot 3", Command{"research", "3"}, true},
		{"  /propose  ", Command{"propose", ""}, true},
		{"/Search go", Command{"Search", "go"}, true},
		{"/search\ngo", Command{"search", "go"}, true},
		{"hello", Command{}, false},
		{"/", Command{}, false},
		{"/@bot", Command{}, false},
	}
	for _, c := range cases {
		got, ok := Parse(c.in)
		require.Equal(t, c.ok, ok, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestFullFlow(t *testing.T) {
	b, rs, db := newTestBot(t, config.VariantResearch, stubPub{})

	say(t, b, "/search golang")
	list := rs.last()
	require.Contains(t, list, "Top 3 posts for golang")
	require.Less(t, strings.Index(list, "Big news"), strings.Index(list, "Medium"))
	require.Contains(t, list, "Small &lt;b&gt;thing&lt;/b&gt;")
	require.Contains(t, list, "⭐ 110")
	require.Contains(t, list, "/research &lt;n&gt; or /propose")

	say(t, b, "/research 9")
	require.Contains(t, rs.last(), "Choose between 1 and 3")
	require.Equal(t, workflow.Discovered, b.Sessions().Get(owner).State)

	say(t, b, "/research 2")
	require.Contains(t, rs.msgs[len(rs.msgs)-2].html, "Researching post #2")
	require.Contains(t, rs.last(), "Go &lt;1.22&gt;")
	require.Contains(t, rs.last(), `href="https://go.dev/?a=1&amp;b=2"`)

	say(t, b, "/propose")
	require.Contains(t, rs.last(), "Go loops got better #golang")
	require.Contains(t, rs.last(), "27/280 characters")

	say(t, b, "/status")
	require.Contains(t, rs.last(), "PROPOSED")
	require.Contains(t, rs.last(), "Posts left today: 5")

	say(t, b, "/approve")
	require.Contains(t, rs.last(), "Published!")
	require.Contains(t, rs.last(), "https://x.com/i/web/status/123")
	require.Equal(t, workflow.Idle, b.Sessions().Get(owner).State)

	say(t, b, "/history")
	require.Contains(t, rs.last(), "Go loops got better #golang")

	for _, m := range rs.msgs {
		require.Equal(t, int64(55), m.chatID)
	}

	evs, err := db.LoadEventsRange(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "command")
	require.NoError(t, err)
	require.Len(t, evs, 7)
	require.Contains(t, evs[1].Payload, `"kind":"invalid_selection"`)
}

func TestStateErrorsRestateNextStep(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantResearch, stubPub{})
	say(t, b, "/approve")
	require.Contains(t, rs.last(), "/approve is not available now (IDLE)")
	require.Contains(t, rs.last(), "/search &lt;query&gt; or /trending &lt;topic&gt;")

	say(t, b, "/cancel")
	require.Contains(t, rs.last(), "Nothing to cancel")

	say(t, b, "/propose")
	require.Len(t, rs.msgs, 3, "no progress message for an invalid command")
}

func TestUsageErrors(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantResearch, stubPub{})
	say(t, b, "/search")
	require.Contains(t, rs.last(), "Usage: <code>/search &lt;query&gt;</code>")
	say(t, b, "/trending")
	require.Contains(t, rs.last(), "/trending &lt;topic&gt;")
	say(t, b, "/research two")
	require.Contains(t, rs.last(), "Expected a post number")
	say(t, b, "/Search go")
	require.Contains(t, rs.last(), "Unknown command /Search")
	say(t, b, "just chatting")
	require.Contains(t, rs.last(), "/help")
	require.Equal(t, workflow.Idle, b.Sessions().Get(owner).State)
}

func TestDirectVariantHelpAndResearch(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantDirect, stubPub{})
	say(t, b, "/start")
	require.NotContains(t, rs.last(), "/research")
	say(t, b, "/search golang")
	say(t, b, "/research 1")
	require.Contains(t, rs.last(), "/research is not available now (DISCOVERED)")
	require.Contains(t, rs.last(), "Next: /propose")
}

func TestPublishFailureKeepsProposal(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantResearch, stubPub{err: &apperr.RateLimitError{Service: "x", RetryAfter: 90 * time.Second, Remaining: 0}})
	say(t, b, "/search golang")
	say(t, b, "/propose")
	say(t, b, "/approve")
	require.Contains(t, rs.last(), "rate limit reached. Try again in 1m30s. Requests left in this window: 0.")
	require.Equal(t, workflow.Proposed, b.Sessions().Get(owner).State)
}

func TestTransientPublishFailureWarnsPostMayBeLive(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantResearch, stubPub{err: &apperr.TransientError{Service: "x", Err: errors.New("status 503")}})
	say(t, b, "/search golang")
	say(t, b, "/propose")
	say(t, b, "/approve")
	require.Contains(t, rs.msgs[len(rs.msgs)-2].html, "temporarily unavailable")
	require.Contains(t, rs.last(), "may have gone out anyway")
	require.Equal(t, workflow.Proposed, b.Sessions().Get(owner).State)
}

func TestUnauthorizedGetsOneRejection(t *testing.T) {
	b, rs, db := newTestBot(t, config.VariantResearch, stubPub{})
	ctx := context.Background()
	stranger := Inbound{UserID: 666, ChatID: 7, Username: "eve", Text: "/search secrets"}
	require.NoError(t, b.Handle(ctx, stranger))
	require.NoError(t, b.Handle(ctx, stranger))
	require.NoError(t, b.Handle(ctx, stranger))

	require.Len(t, rs.msgs, 1)
	require.Contains(t, rs.msgs[0].html, "<code>666</code>")
	require.Equal(t, 0, b.Sessions().Len())

	evs, err := db.LoadEventsRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "unauthorized")
	require.NoError(t, err)
	require.Len(t, evs, 3)
}

func TestWarnedSendersAreBounded(t *testing.T) {
	b, rs, _ := newTestBot(t, config.VariantResearch, stubPub{})
	b.warnLimit = 2
	ctx := context.Background()
	for id := int64(1); id <= 5; id++ {
		require.NoError(t, b.Handle(ctx, Inbound{UserID: 600 + id, ChatID: 7, Text: "/start"}))
		require.LessOrEqual(t, len(b.warned), 2)
	}
	require.Len(t, rs.msgs, 5)

	// a forgotten sender is told once more
	require.NoError(t, b.Handle(ctx, Inbound{UserID: 601, ChatID: 7, Text: "/start"}))
	require.Len(t, rs.msgs, 6)
	require.NoError(t, b.Handle(ctx, Inbound{UserID: 601, ChatID: 7, Text: "/start"}))
	require.Len(t, rs.msgs, 6)
}

func TestRenderError(t *testing.T) {
	cases := map[error]string{
		&apperr.AuthError{Service: "x", Detail: "bad token"}:              "stays disabled",
		&apperr.TransientError{Service: "reddit", Err: errors.New("eof")}: "temporarily unavailable",
		&apperr.NotFoundError{What: "posts", Query: "zzz"}:                "No posts found for &#34;zzz&#34;",
		&apperr.GenerationError{Model: "mistral"}:                         "no usable text",
		&apperr.RejectedError{Service: "x", Detail: "duplicate content"}:  "refused the post: duplicate content",
		&apperr.InvalidSelectionError{Index: 1}:                           "no results to choose from",
		errors.New("boom"):                                                "Something went wrong: boom",
	}
	for err, want := range cases {
		require.Contains(t, renderError(err), want, "%v", err)
	}
}

func TestChunk(t *testing.T) {
	blocks := []string{strings.Repeat("a", 30), strings.Repeat("b", 30), strings.Repeat("c", 30)}
	got := chunk(blocks, 65)
	require.Equal(t, []string{strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 30), strings.Repeat("c", 30)}, got)

	got = chunk([]string{strings.Repeat("é", 25)}, 10)
	require.Len(t, got, 3)
	require.Equal(t, strings.Repeat("é", 5), got[2])

	var many []model.Post
	for i := 0; i < 60; i++ {
		many = append(many, model.Post{Text: strings.Repeat("x", 200), Author: "a"})
	}
	for _, msg := range renderPosts("q", many, "/propose") {
		require.LessOrEqual(t, len([]rune(msg)), MaxMessageLen)
	}
}
