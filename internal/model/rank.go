package model

import "sort"

// RankPosts orders posts by engagement (descending), then by recency, and
// keeps fetch order for anything still tied. It returns at most limit posts
// (all of them when limit <= 0) and never modifies the input.
func RankPosts(posts []Post, limit int) []Post {
	out := make([]Post, len(posts))
	copy(out, posts)
	sort.SliceStable(out, func(i, j int) bool {
		ei, ej := out[i].Engagement(), out[j].Engagement()
		if ei != ej {
			return ei > ej
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
