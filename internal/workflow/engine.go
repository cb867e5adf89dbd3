package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trendpost/internal/apperr"
	"trendpost/internal/config"
	"trendpost/internal/logging"
	"trendpost/internal/metrics"
	"trendpost/internal/model"
	"trendpost/internal/store"
	"trendpost/internal/suggest"
	"trendpost/internal/util"
)

// Discoverer finds trending posts for a query.
type Discoverer interface {
	Search(ctx context.Context, query string) ([]model.Post, error)
}

// Researcher looks a post's topic up on the web.
type Researcher interface {
	ResearchTopic(ctx context.Context, text string) (model.Research, error)
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Publisher posts text and returns its permalink.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// Gate vets a publication before it happens and records it after.
type Gate interface {
	Check(ctx context.Context, text string, now time.Time) error
	Record(ctx context.Context, p store.Publication) error
}

// Roles name the external dependencies for halting on auth failures.
const (
	RoleDiscovery  = "discovery"
	RoleResearch   = "research"
	RoleGeneration = "generation"
	RolePublish    = "publish"
)

// Options shape an Engine. Zero values pick the defaults.
type Options struct {
	Variant    string // config.VariantResearch
	MaxResults int    // 10
	MaxChars   int    // 280
	Now        func() time.Time
}

// Engine executes transitions on sessions. Every method either applies
// its whole effect or leaves the session untouched.
type Engine struct {
	table      Table
	variant    string
	discover   Discoverer
	research   Researcher
	gen        Generator
	pub        Publisher
	gate       Gate
	maxResults int
	maxChars   int
	now        func() time.Time
	halted     map[string]error
}

func NewEngine(d Discoverer, r Researcher, g Generator, p Publisher, o Options) *Engine {
	if o.Variant == "" {
		o.Variant = config.VariantResearch
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 10
	}
	if o.MaxChars <= 0 || o.MaxChars > model.MaxPostChars {
		o.MaxChars = model.MaxPostChars
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Engine{
		table:      NewTable(o.Variant),
		variant:    o.Variant,
		discover:   d,
		research:   r,
		gen:        g,
		pub:        p,
		maxResults: o.MaxResults,
		maxChars:   o.MaxChars,
		now:        o.Now,
		halted:     map[string]error{},
	}
}

// SetGate installs a publish gate (budget and duplicate guard).
func (e *Engine) SetGate(g Gate) { e.gate = g }

func (e *Engine) Variant() string { return e.variant }

func (e *Engine) Table() Table { return e.table }

// Halted returns the auth failure that stopped role, if any.
func (e *Engine) Halted(role string) error { return e.halted[role] }

// transition validates cmd against the table and returns the next state.
func (e *Engine) transition(s *Session, cmd Command) (State, error) {
	next, ok := e.table.Next(s.State, cmd)
	if !ok {
		return s.State, &apperr.StateError{Command: string(cmd), State: string(s.State), Expected: e.table.Expected(s.State)}
	}
	return next, nil
}

// call runs a client call for role, refusing once role has failed auth
// and remembering a new auth failure.
func (e *Engine) call(role string, f func() error) error {
	if err := e.halted[role]; err != nil {
		return err
	}
	err := f()
	if apperr.IsFatal(err) {
		e.halted[role] = err
		logging.Error("service_halted", map[string]any{"role": role, "error": err.Error()})
	}
	return err
}

// Discover fetches and ranks posts for query and starts a fresh round.
func (e *Engine) Discover(ctx context.Context, s *Session, query string) ([]model.Post, error) {
	next, err := e.transition(s, CmdDiscover)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperr.UsageError{Command: "search", Usage: "/search <query>", Reason: "missing query"}
	}
	var found []model.Post
	err = e.call(RoleDiscovery, func() error {
		var err error
		found, err = e.discover.Search(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, &apperr.NotFoundError{What: "posts", Query: query}
	}
	ranked := model.RankPosts(found, e.maxResults)

	s.State = next
	s.Query = query
	s.Posts = ranked
	s.Selected = 0
	s.Research = nil
	s.Proposal = nil
	s.UpdatedAt = e.now()
	logging.Info("workflow_discovered", map[string]any{"user_id": s.UserID, "query": query, "fetched": len(found), "kept": len(ranked)})
	return ranked, nil
}

// Research looks up the post at the 1-based index.
func (e *Engine) Research(ctx context.Context, s *Session, index int) (model.Research, error) {
	next, err := e.transition(s, CmdResearch)
	if err != nil {
		return model.Research{}, err
	}
	if index < 1 || index > len(s.Posts) {
		return model.Research{}, &apperr.InvalidSelectionError{Index: index, Max: len(s.Posts)}
	}
	post := s.Posts[index-1]
	var res model.Research
	err = e.call(RoleResearch, func() error {
		var err error
		res, err = e.research.ResearchTopic(ctx, post.Text)
		return err
	})
	if err != nil {
		return model.Research{}, err
	}
	if len(res.Sources) == 0 {
		return model.Research{}, &apperr.NotFoundError{What: "research results", Query: res.Topic}
	}

	s.State = next
	s.Selected = index
	s.Research = &res
	s.UpdatedAt = e.now()
	logging.Info("workflow_researched", map[string]any{"user_id": s.UserID, "index": index, "sources": len(res.Sources)})
	return res, nil
}

// Propose drafts a post from the research, or from the top posts when the
// session was not researched.
func (e *Engine) Propose(ctx context.Context, s *Session) (model.Proposal, error) {
	next, err := e.transition(s, CmdPropose)
	if err != nil {
		return model.Proposal{}, err
	}
	var prompt string
	if s.State == Researched && s.Research != nil {
		var text string
		if post, ok := s.SelectedPost(); ok {
			text = post.Text
		}
		prompt = suggest.ResearchPrompt(*s.Research, text, e.maxChars)
	} else {
		prompt = suggest.DirectPrompt(s.Query, s.Posts, e.maxChars)
	}
	modelName := e.gen.Model()
	var raw string
	err = e.call(RoleGeneration, func() error {
		var err error
		raw, err = e.gen.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return model.Proposal{}, &apperr.GenerationError{Model: modelName, Err: err}
	}
	p, ok := suggest.Finalize(raw, modelName, e.maxChars, e.now())
	if !ok {
		return model.Proposal{}, &apperr.GenerationError{Model: modelName}
	}

	s.State = next
	s.Proposal = &p
	s.UpdatedAt = e.now()
	logging.Info("workflow_proposed", map[string]any{"user_id": s.UserID, "length": p.Length, "truncated": p.Truncated})
	return p, nil
}

// Approve publishes the pending proposal and returns its permalink. On any
// failure the proposal stays pending.
func (e *Engine) Approve(ctx context.Context, s *Session) (string, error) {
	next, err := e.transition(s, CmdApprove)
	if err != nil {
		return "", err
	}
	if s.Proposal == nil {
		return "", &apperr.StateError{Command: string(CmdApprove), State: string(s.State), Expected: e.table.Expected(Idle)}
	}
	p := *s.Proposal
	if !p.Valid() || util.RuneLen(p.Text) > model.MaxPostChars {
		return "", &apperr.RejectedError{Service: "x", Detail: fmt.Sprintf("proposal is %d characters, limit is %d", util.RuneLen(p.Text), p.Limit)}
	}
	now := e.now()
	if e.gate != nil {
		if err := e.gate.Check(ctx, p.Text, now); err != nil {
			return "", err
		}
	}
	var link string
	err = e.call(RolePublish, func() error {
		var err error
		link, err = e.pub.Publish(ctx, p.Text)
		return err
	})
	if err != nil {
		return "", err
	}
	metrics.Publishes.Inc()
	if e.gate != nil {
		// the post is already out; a ledger failure must not undo that
		if err := e.gate.Record(ctx, store.Publication{TS: now, URL: link, Text: p.Text, Model: p.Model, Query: s.Query}); err != nil {
			logging.Error("publication_record_failed", map[string]any{"url": link, "error": err.Error()})
		}
	}
	logging.Info("workflow_published", map[string]any{"user_id": s.UserID, "url": link})
	s.reset(e.now())
	s.State = next
	return link, nil
}

// Cancel discards the round. It reports false when there was nothing to
// discard.
func (e *Engine) Cancel(s *Session) (bool, error) {
	next, err := e.transition(s, CmdCancel)
	if err != nil {
		return false, err
	}
	if s.State == Idle {
		return false, nil
	}
	s.reset(e.now())
	s.State = next
	logging.Info("workflow_cancelled", map[string]any{"user_id": s.UserID})
	return true, nil
}

// Expected describes the next step for s.
func (e *Engine) Expected(s *Session) string { return e.table.Expected(s.State) }
