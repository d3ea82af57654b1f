package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/harvest"
)

func testConfig() config.ChunkingConfig {
	return config.ChunkingConfig{ChunkSize: 256, ChunkOverlap: 32, MaxChunks: 150}
}

func TestSplit_ShortDocumentStaysWhole(t *testing.T) {
	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{{
		URL:     "https://example.com/a",
		Title:   "A",
		Content: "A short document well under the chunk size.",
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document well under the chunk size.", chunks[0].Text)
	assert.Equal(t, "https://example.com/a", chunks[0].SourceURL)
}

func TestSplit_LongDocumentProducesMultipleChunks(t *testing.T) {
	// ~500 characters of sentence-delimited prose must not fit one
	// 256-character chunk.
	sentence := "Each sentence here adds roughly fifty characters of text. "
	content := strings.Repeat(sentence, 9)

	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{{URL: "u", Content: content}})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(chunks), 2)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 256)
	}
}

func TestSplit_CJKSentenceBoundaries(t *testing.T) {
	sentence := "これは日本語の文章であり、検索パイプラインの分割処理を検証するためのものです。"
	content := strings.Repeat(sentence, 12)

	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{{URL: "u", Content: content}})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(chunks), 2)
	// Sentence-final splitting means chunks should not start mid-word
	// right after the sentence mark.
	for _, ch := range chunks {
		assert.NotEmpty(t, ch.Text)
	}
}

func TestSplit_NormalizesWhitespace(t *testing.T) {
	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{{
		URL:     "u",
		Content: "text  with\t\tirregular   spacing\nand newlines inside",
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "text with irregular spacing and newlines inside", chunks[0].Text)
}

func TestSplit_SkipsEmptyDocuments(t *testing.T) {
	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{
		{URL: "a", Content: "   \n\t  "},
		{URL: "b", Content: "real content here"},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "b", chunks[0].SourceURL)
}

func TestSplit_CarriesProvenance(t *testing.T) {
	c := New(testConfig())
	chunks, err := c.Split([]harvest.Document{{
		URL:         "https://example.com/doc",
		Title:       "Doc Title",
		OriginQuery: "original query",
		Content:     "some content to carry through the chunker",
	}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Doc Title", chunks[0].SourceTitle)
	assert.Equal(t, "original query", chunks[0].OriginQuery)
}
