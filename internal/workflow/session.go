package workflow

import (
	"time"

	"trendpost/internal/model"
)

// Session is one user's progress through the workflow. It lives in memory
// only and is replaced piecewise by each successful transition.
type Session struct {
	UserID int64
	State  State
	Query  string
	Posts  []model.Post
	// Selected is the 1-based index of the researched post, 0 for none.
	Selected  int
	Research  *model.Research
	Proposal  *model.Proposal
	UpdatedAt time.Time
}

// SelectedPost returns the researched post, if any.
func (s *Session) SelectedPost() (model.Post, bool) {
	if s.Selected < 1 || s.Selected > len(s.Posts) {
		return model.Post{}, false
	}
	return s.Posts[s.Selected-1], true
}

// reset discards everything and returns to IDLE.
func (s *Session) reset(now time.Time) {
	s.State = Idle
	s.Query = ""
	s.Posts = nil
	s.Selected = 0
	s.Research = nil
	s.Proposal = nil
	s.UpdatedAt = now
}

// Store keeps sessions by user id. It is owned by the update loop and is
// not safe for concurrent use.
type Store struct {
	sessions map[int64]*Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{sessions: map[int64]*Session{}, now: time.Now}
}

// Get returns the user's session, creating an IDLE one on first use.
func (st *Store) Get(userID int64) *Session {
	if s, ok := st.sessions[userID]; ok {
		return s
	}
	s := &Session{UserID: userID, State: Idle, UpdatedAt: st.now()}
	st.sessions[userID] = s
	return s
}

// Peek returns the session without creating one.
func (st *Store) Peek(userID int64) (*Session, bool) {
	s, ok := st.sessions[userID]
	return s, ok
}

// Len is the number of sessions held.
func (st *Store) Len() int { return len(st.sessions) }
