// Package fusion merges ranked candidate lists from multiple
// retrieval backends into one consensus ranking using reciprocal rank
// fusion, and decides how many results a query deserves.
package fusion

import (
	"sort"

	"github.com/websift/websift/internal/chunk"
)

// DefaultRRFConstant is the standard smoothing constant from the RRF
// literature. Larger values flatten the influence of top ranks.
const DefaultRRFConstant = 60

// List is one backend's ranking, best first.
type List struct {
	// Name identifies the backend (e.g. "bm25", "vector", "rerank").
	Name string

	// Chunks are ordered by descending relevance.
	Chunks []chunk.Chunk
}

// Ranked is one fused result.
type Ranked struct {
	Chunk chunk.Chunk

	// Score is the summed reciprocal rank contribution.
	Score float64

	// Sources names the backends that ranked this chunk.
	Sources []string
}

// Fuser combines ranked lists with reciprocal rank fusion.
type Fuser struct {
	m int
}

// NewFuser creates a Fuser with the given smoothing constant.
// Non-positive values fall back to the default.
func NewFuser(m int) *Fuser {
	if m <= 0 {
		m = DefaultRRFConstant
	}
	return &Fuser{m: m}
}

// Fuse merges the lists and returns up to k results, best first.
// A chunk ranked r-th (zero-based) in a list contributes 1/(r+m) to
// its fused score, so appearing at the top of both lists yields 2/m.
// Identity is the chunk text: the same passage surfacing from
// different backends accumulates, near-duplicates do not. Ties break
// by text so the ranking is deterministic. k <= 0 returns everything.
func (f *Fuser) Fuse(lists []List, k int) []Ranked {
	fused := make(map[string]*Ranked)

	for _, list := range lists {
		for rank, ch := range list.Chunks {
			contribution := 1.0 / float64(rank+f.m)
			entry, ok := fused[ch.Text]
			if !ok {
				entry = &Ranked{Chunk: ch}
				fused[ch.Text] = entry
			}
			entry.Score += contribution
			entry.Sources = append(entry.Sources, list.Name)
		}
	}

	results := make([]Ranked, 0, len(fused))
	for _, entry := range fused {
		results = append(results, *entry)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Text < results[j].Chunk.Text
	})

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
