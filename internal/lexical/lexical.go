// Package lexical scores passages against a query with BM25. The
// corpus is small and rebuilt per retrieval call, so the index lives
// entirely in memory.
package lexical

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/websift/websift/internal/errors"
)

// TextAnalyzerName is the analyzer used for passage content. The CJK
// width and bigram filters make Chinese and Japanese text searchable
// without a language-specific segmenter, and leave Latin text alone.
const TextAnalyzerName = "websift_text"

type indexedPassage struct {
	Content string `json:"content"`
}

// Scorer computes BM25 relevance scores over an ad-hoc corpus.
type Scorer struct{}

// NewScorer creates a Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns one BM25 score per corpus entry, in corpus order.
// Entries that do not match the query score zero. An empty corpus or
// blank query yields all zeros rather than an error: lexical scoring
// degrades, it does not abort retrieval.
func (s *Scorer) Score(ctx context.Context, query string, corpus []string) ([]float64, error) {
	scores := make([]float64, len(corpus))
	if len(corpus) == 0 || strings.TrimSpace(query) == "" {
		return scores, nil
	}

	idx, err := newMemIndex()
	if err != nil {
		return nil, errors.New(errors.ErrCodeRetrievalFailed, "bm25 index creation failed", err)
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for i, text := range corpus {
		if err := batch.Index(strconv.Itoa(i), indexedPassage{Content: text}); err != nil {
			return nil, errors.New(errors.ErrCodeRetrievalFailed,
				fmt.Sprintf("failed to index passage %d", i), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, errors.New(errors.ErrCodeRetrievalFailed, "bm25 batch index failed", err)
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = len(corpus)

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRetrievalFailed, "bm25 search failed", err)
	}

	for _, hit := range result.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(corpus) {
			continue
		}
		scores[i] = hit.Score
	}
	return scores, nil
}

func newMemIndex() (bleve.Index, error) {
	m, err := newIndexMapping()
	if err != nil {
		return nil, err
	}
	return bleve.NewMemOnly(m)
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(TextAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			cjk.WidthName,
			lowercase.Name,
			cjk.BigramName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = TextAnalyzerName
	return indexMapping, nil
}
