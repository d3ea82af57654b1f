// Package chunk splits sanitized documents into overlapping passages
// sized for embedding and lexical indexing.
package chunk

import (
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
	"github.com/websift/websift/internal/harvest"
)

// Chunk is one passage of a harvested document.
type Chunk struct {
	// Text is the passage content.
	Text string

	// SourceURL is the page the passage came from.
	SourceURL string

	// SourceTitle is the page title.
	SourceTitle string

	// OriginQuery is the search query that produced the page.
	OriginQuery string
}

// separators orders split boundaries from strongest to weakest.
// Sentence punctuation includes CJK forms so Chinese and Japanese
// prose splits on sentence ends rather than mid-clause.
var separators = []string{
	"\n\n", "\n",
	"。", ".",
	"？", "?",
	"！", "!",
	";",
	"，", ",",
	" ", "",
}

// Chunker splits documents with a recursive character splitter.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// New creates a Chunker from chunking configuration.
func New(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

// Split chunks every document and flattens the result, preserving
// document order. Whitespace inside each chunk is normalized so chunk
// text is stable under re-harvesting; fusion depends on exact text
// equality. Returns ErrCodeChunkingFailed only when the splitter
// itself fails.
func (c *Chunker) Split(docs []harvest.Document) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(docs)*4)

	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		pieces, err := c.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, errors.New(errors.ErrCodeChunkingFailed,
				"text splitting failed", err).WithDetail("url", doc.URL)
		}
		for _, piece := range pieces {
			text := normalize(piece)
			if text == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Text:        text,
				SourceURL:   doc.URL,
				SourceTitle: doc.Title,
				OriginQuery: doc.OriginQuery,
			})
		}
	}
	return chunks, nil
}

var spaceRun = regexp.MustCompile(`\s+`)

// normalize collapses all whitespace to single spaces and trims.
func normalize(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
