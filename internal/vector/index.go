package vector

import (
	"context"
	"fmt"

	"github.com/coder/hnsw"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
)

// Hit is one nearest-neighbor result.
type Hit struct {
	// Index is the position of the passage in the indexed corpus.
	Index int

	// Score is cosine similarity mapped to [0, 1].
	Score float64
}

// Index is an in-memory HNSW graph over a passage corpus. It is built
// once per retrieval call and queried with the query embedding.
type Index struct {
	graph *hnsw.Graph[int]
	dims  int
	size  int
}

// NewIndex builds an index from corpus vectors. Nil vectors (failed
// embedding batches) are skipped: a partial index is still useful.
// If no vector survives, ErrCodeEmbeddingFailed is returned and the
// retrieval call must abort.
func NewIndex(cfg config.SearchConfig, vectors [][]float32) (*Index, error) {
	graph := hnsw.NewGraph[int]()
	graph.Distance = hnsw.CosineDistance
	if cfg.HNSWM > 0 {
		graph.M = cfg.HNSWM
	}
	if cfg.HNSWEfSearch > 0 {
		graph.EfSearch = cfg.HNSWEfSearch
	}

	idx := &Index{graph: graph}
	for i, vec := range vectors {
		if vec == nil {
			continue
		}
		if idx.dims == 0 {
			idx.dims = len(vec)
		} else if len(vec) != idx.dims {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector %d has %d dimensions, index has %d", i, len(vec), idx.dims), nil)
		}
		graph.Add(hnsw.MakeNode(i, vec))
		idx.size++
	}

	if idx.size == 0 {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			"no vectors available to index", nil)
	}
	return idx, nil
}

// Size returns the number of indexed vectors.
func (x *Index) Size() int {
	return x.size
}

// Search returns up to k nearest passages by cosine similarity,
// best first.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != x.dims {
		return nil, errors.New(errors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index has %d", len(query), x.dims), nil)
	}
	if k > x.size {
		k = x.size
	}
	if k <= 0 {
		return nil, nil
	}

	nodes := x.graph.Search(query, k)
	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		// Cosine distance lives in [0, 2]; fold it to a [0, 1]
		// similarity so downstream scores are comparable.
		distance := x.graph.Distance(query, node.Value)
		hits = append(hits, Hit{
			Index: node.Key,
			Score: 1 - float64(distance)/2,
		})
	}
	return hits, nil
}
