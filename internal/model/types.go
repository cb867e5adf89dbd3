package model

import "time"

// Post is one discovered item with its engagement counters.
type Post struct {
	ID        string
	Text      string
	Author    string
	Likes     int
	Shares    int // retweets on X, crossposts on Reddit
	Replies   int
	URL       string
	Source    string
	CreatedAt time.Time
}

// Engagement is the ranking key: likes + shares + replies.
func (p Post) Engagement() int { return p.Likes + p.Shares + p.Replies }

// Source is a single web research hit.
type Source struct {
	Title   string
	Snippet string
	URL     string
}

// Research holds what was found about a selected post.
type Research struct {
	Topic   string
	Sources []Source
	Summary string
}

// MaxPostChars is the X character limit for a published post.
const MaxPostChars = 280

// Proposal is generated text waiting for approval.
type Proposal struct {
	Text      string
	Length    int // in runes
	Limit     int
	Truncated bool
	Model     string
	CreatedAt time.Time
}

// Valid reports whether the text can be published as is.
func (p Proposal) Valid() bool {
	return p.Length > 0 && p.Length <= p.Limit
}
