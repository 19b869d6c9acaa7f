package service

import (
	"sort"
	"time"
)

// rankedDoc is one entry of a ranked signal list.
type rankedDoc struct {
	DocumentID string
	Title      string
	Excerpt    string
	UpdatedAt  time.Time
}

// candidate accumulates fused score across signals.
type candidate struct {
	DocumentID string
	Title      string
	Excerpt    string
	UpdatedAt  time.Time
	Score      float64
}

// rrfScore is the contribution of 0-based rank under damping k.
func rrfScore(k float64, rank int) float64 {
	return 1 / (k + float64(rank))
}

// fuse merges ranked lists with reciprocal rank fusion. A document repeated
// within one list only counts at its first position.
func fuse(k float64, lists ...[]rankedDoc) map[string]*candidate {
	out := make(map[string]*candidate)
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list))
		for rank, d := range list {
			if _, ok := seen[d.DocumentID]; ok {
				continue
			}
			seen[d.DocumentID] = struct{}{}

			c, ok := out[d.DocumentID]
			if !ok {
				c = &candidate{DocumentID: d.DocumentID}
				out[d.DocumentID] = c
			}
			c.Score += rrfScore(k, rank)
			if c.Excerpt == "" {
				c.Excerpt = d.Excerpt
			}
			if c.Title == "" {
				c.Title = d.Title
			}
			if d.UpdatedAt.After(c.UpdatedAt) {
				c.UpdatedAt = d.UpdatedAt
			}
		}
	}
	return out
}

// applyBoost adds a flat bonus to every candidate in the boost set.
func applyBoost(cands map[string]*candidate, boostSet []string, boost float64) {
	for _, id := range boostSet {
		if c, ok := cands[id]; ok {
			c.Score += boost
		}
	}
}

// sortCandidates orders by score descending, then document id ascending.
func sortCandidates(cands map[string]*candidate) []*candidate {
	out := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// applyRerank reorders the first limit candidates by scores (stable on fused
// order). A score list of the wrong length is ignored.
func applyRerank(cands []*candidate, scores []int, limit int) ([]*candidate, bool) {
	n := len(cands)
	if limit > 0 && n > limit {
		n = limit
	}
	if n == 0 || len(scores) != n {
		return cands, false
	}

	type scored struct {
		c     *candidate
		score int
	}
	head := make([]scored, n)
	for i := 0; i < n; i++ {
		head[i] = scored{c: cands[i], score: scores[i]}
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].score > head[j].score })

	out := make([]*candidate, 0, len(cands))
	for _, h := range head {
		out = append(out, h.c)
	}
	out = append(out, cands[n:]...)
	return out, true
}
