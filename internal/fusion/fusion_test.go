package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websift/websift/internal/chunk"
)

func chunks(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunk.Chunk{Text: t}
	}
	return out
}

func TestFuse_TopOfBothListsScoresTwoOverM(t *testing.T) {
	f := NewFuser(60)
	results := f.Fuse([]List{
		{Name: "bm25", Chunks: chunks("shared", "only-a")},
		{Name: "vector", Chunks: chunks("shared", "only-b")},
	}, 0)

	require.NotEmpty(t, results)
	assert.Equal(t, "shared", results[0].Chunk.Text)
	assert.InDelta(t, 2.0/60.0, results[0].Score, 1e-12)
	assert.ElementsMatch(t, []string{"bm25", "vector"}, results[0].Sources)
}

func TestFuse_ConsensusBeatsSingleList(t *testing.T) {
	f := NewFuser(60)
	results := f.Fuse([]List{
		{Name: "bm25", Chunks: chunks("a", "b", "c")},
		{Name: "vector", Chunks: chunks("b", "c", "x")},
	}, 0)

	// b appears high in both lists (1/61 + 1/60); it must beat a,
	// which tops only one (1/60), and c (1/62 + 1/61).
	require.GreaterOrEqual(t, len(results), 3)
	assert.Equal(t, "b", results[0].Chunk.Text)
}

func TestFuse_KeyedByTextIdentity(t *testing.T) {
	a := chunk.Chunk{Text: "same passage", SourceURL: "https://one.example"}
	b := chunk.Chunk{Text: "same passage", SourceURL: "https://two.example"}

	f := NewFuser(60)
	results := f.Fuse([]List{
		{Name: "bm25", Chunks: []chunk.Chunk{a}},
		{Name: "vector", Chunks: []chunk.Chunk{b}},
	}, 0)

	require.Len(t, results, 1, "identical text from different URLs fuses into one entry")
	assert.InDelta(t, 2.0/60.0, results[0].Score, 1e-12)
}

func TestFuse_TruncatesToK(t *testing.T) {
	f := NewFuser(60)
	results := f.Fuse([]List{
		{Name: "bm25", Chunks: chunks("a", "b", "c", "d", "e")},
	}, 2)
	assert.Len(t, results, 2)
}

func TestFuse_DeterministicTieBreak(t *testing.T) {
	f := NewFuser(60)
	for i := 0; i < 5; i++ {
		results := f.Fuse([]List{
			{Name: "bm25", Chunks: chunks("zz")},
			{Name: "vector", Chunks: chunks("aa")},
		}, 0)
		require.Len(t, results, 2)
		assert.Equal(t, "aa", results[0].Chunk.Text, "equal scores break ties by text")
	}
}

func TestFuse_SmoothingConstantShiftsBalance(t *testing.T) {
	lists := []List{
		{Name: "bm25", Chunks: chunks("top-once", "deep", "deep2", "deep3", "consensus")},
		{Name: "vector", Chunks: chunks("other", "x1", "x2", "x3", "consensus")},
	}

	// Small m: top ranks dominate, single-list leaders win.
	small := NewFuser(1).Fuse(lists, 0)
	// Large m: ranks flatten, double-listed chunks win.
	large := NewFuser(1000).Fuse(lists, 0)

	require.NotEmpty(t, small)
	require.NotEmpty(t, large)
	assert.NotEqual(t, "consensus", small[0].Chunk.Text)
	assert.Equal(t, "consensus", large[0].Chunk.Text)
}

func TestFuse_RefusingAFusedListKeepsTheRanking(t *testing.T) {
	f := NewFuser(60)
	lists := []List{
		{Name: "bm25", Chunks: chunks("a", "b", "c", "d")},
		{Name: "vector", Chunks: chunks("c", "a", "e")},
		{Name: "rerank", Chunks: chunks("b", "c")},
	}

	fused := f.Fuse(lists, 0)
	require.NotEmpty(t, fused)

	refuseInput := make([]chunk.Chunk, len(fused))
	for i, r := range fused {
		refuseInput[i] = r.Chunk
	}
	refused := f.Fuse([]List{{Name: "fused", Chunks: refuseInput}}, 0)

	require.Len(t, refused, len(fused))
	for i := range fused {
		assert.Equal(t, fused[i].Chunk.Text, refused[i].Chunk.Text,
			"fusing an already-fused list must not reorder it")
	}
}

func TestFuse_EmptyLists(t *testing.T) {
	f := NewFuser(60)
	assert.Empty(t, f.Fuse(nil, 10))
	assert.Empty(t, f.Fuse([]List{{Name: "bm25"}}, 10))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		query     string
		want      Complexity
		wantQuery string
	}{
		{"[Simple] capital of France", ComplexitySimple, "capital of France"},
		{"[Moderate] how do transformers work", ComplexityModerate, "how do transformers work"},
		{"[Complex] compare the economies", ComplexityComplex, "compare the economies"},
		{"golang errgroup", ComplexitySimple, "golang errgroup"},
		{"how does the raft consensus algorithm handle leader election", ComplexityModerate,
			"how does the raft consensus algorithm handle leader election"},
		{"difference between bm25 and vector retrieval for short queries", ComplexityComplex,
			"difference between bm25 and vector retrieval for short queries"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, stripped := Classify(tt.query)
			assert.Equal(t, tt.want, c)
			assert.Equal(t, tt.wantQuery, stripped)
		})
	}
}

func TestTopKPolicy(t *testing.T) {
	p := DefaultTopKPolicy()

	assert.Equal(t, 5, p.For(ComplexitySimple, 100))
	assert.Equal(t, 10, p.For(ComplexityModerate, 100))
	assert.Equal(t, 10, p.For(ComplexityComplex, 100))
	assert.Equal(t, 3, p.For(ComplexityComplex, 3), "pool caps the result count")
	assert.Equal(t, 10, p.For(ComplexityModerate, 0), "zero pool means uncapped")
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float64{1, 2, 3})
	require.Len(t, out, 3)

	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, out[2], out[1])
	assert.Greater(t, out[1], out[0])

	assert.Empty(t, Softmax(nil))

	// Large values must not overflow.
	big := Softmax([]float64{1000, 1001})
	assert.False(t, math.IsNaN(big[0]))
	assert.InDelta(t, 1.0, big[0]+big[1], 1e-9)
}
