package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
	"github.com/websift/websift/internal/harvest"
)

// pageServer serves two topical articles.
func pageServer() *httptest.Server {
	pages := map[string]string{
		"/paris": `<html><head><title>Paris Guide</title></head><body><article>
<p>Paris is the capital of France and its largest city. The city sits on
the Seine and hosts the national government of France.</p>
<p>Paris has been the political center of France for centuries, and its
administration anchors the French state.</p>
</article></body></html>`,
		"/cooking": `<html><head><title>Pasta at Home</title></head><body><article>
<p>Cooking pasta at home starts with salted boiling water and good dried
noodles. Sauce choice matters less than timing.</p>
<p>Fresh herbs added at the end brighten almost any pasta dish you make.</p>
</article></body></html>`,
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		fmt.Fprint(w, page)
	}))
}

// embedServer returns 3-dim vectors keyed on topic words so related
// texts land near each other.
func embedServer() *httptest.Server {
	embed := func(text string) []float32 {
		lower := strings.ToLower(text)
		vec := []float32{0.1, 0.1, 0.1}
		if strings.Contains(lower, "paris") || strings.Contains(lower, "capital") || strings.Contains(lower, "france") {
			vec[0] = 1
		}
		if strings.Contains(lower, "pasta") || strings.Contains(lower, "cooking") || strings.Contains(lower, "sauce") {
			vec[1] = 1
		}
		return vec
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []item
		for i, text := range req.Input {
			data = append(data, item{Index: i, Embedding: embed(text)})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

// rerankServer scores documents by query-term overlap.
func rerankServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string   `json:"query"`
			Documents []string `json:"documents"`
			TopN      int      `json:"top_n"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		}
		var results []item
		for i, doc := range req.Documents {
			score := 0.01
			for _, term := range strings.Fields(strings.ToLower(req.Query)) {
				if strings.Contains(strings.ToLower(doc), term) {
					score += 0.3
				}
			}
			results = append(results, item{Index: i, RelevanceScore: score})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
}

func testEngineConfig(embedURL, rerankURL string) *config.Config {
	cfg := config.Default()
	cfg.Harvest.Workers = 4
	cfg.Harvest.MaxRetries = 0
	cfg.Harvest.Timeout = 5 * time.Second
	cfg.Harvest.ProbeTimeout = 2 * time.Second
	cfg.Harvest.PerHostRPS = 0
	cfg.Embeddings.Endpoint = embedURL
	cfg.Embeddings.Model = "test-embed"
	cfg.Embeddings.MaxRetries = 0
	cfg.Rerank.Endpoint = rerankURL
	cfg.Rerank.Model = "test-rerank"
	cfg.Rerank.MaxRetries = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	engine, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func tasksFor(pages *httptest.Server) []harvest.FetchTask {
	return []harvest.FetchTask{
		{ID: 0, URL: pages.URL + "/paris", Title: "Paris Guide", OriginQuery: "capital of France"},
		{ID: 1, URL: pages.URL + "/cooking", Title: "Pasta at Home", OriginQuery: "capital of France"},
	}
}

func TestRetrieve_EndToEnd(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()
	reranks := rerankServer()
	defer reranks.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, reranks.URL))
	results, err := engine.Retrieve(context.Background(), "capital of France", tasksFor(pages))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Simple query caps results at 5.
	assert.LessOrEqual(t, len(results), 5)

	top := strings.ToLower(results[0].Text)
	assert.Contains(t, top, "capital", "top result should be about the query topic")
	assert.NotEmpty(t, results[0].SourceURL)
	assert.NotEmpty(t, results[0].Sources)

	// Scores are fused RRF sums and must be descending.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// Confidences are a softmax over the result set.
	var confSum float64
	for _, r := range results {
		assert.Greater(t, r.Confidence, 0.0)
		confSum += r.Confidence
	}
	assert.InDelta(t, 1.0, confSum, 1e-9)
}

func TestRetrieveAll_MergesQueryRankings(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()
	reranks := rerankServer()
	defer reranks.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, reranks.URL))
	results, err := engine.RetrieveAll(context.Background(),
		[]string{"capital of France", "cooking pasta sauce"}, tasksFor(pages))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var sawParis, sawPasta bool
	for _, r := range results {
		text := strings.ToLower(r.Text)
		if strings.Contains(text, "paris") || strings.Contains(text, "france") {
			sawParis = true
		}
		if strings.Contains(text, "pasta") {
			sawPasta = true
		}
	}
	assert.True(t, sawParis, "merged ranking should carry the first query's topic")
	assert.True(t, sawPasta, "merged ranking should carry the second query's topic")

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetrieveAll_ConsensusPassageWins(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, ""))

	// Two phrasings of the same question: the passage both rankings
	// agree on must come out on top, sourced from both queries.
	results, err := engine.RetrieveAll(context.Background(),
		[]string{"capital of France", "which city is the capital of France"}, tasksFor(pages))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Contains(t, strings.ToLower(results[0].Text), "capital")
	assert.GreaterOrEqual(t, len(results[0].Sources), 2,
		"top passage should be ranked by both queries")
}

func TestRetrieveAll_AllQueriesBlank(t *testing.T) {
	embeds := embedServer()
	defer embeds.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, ""))
	_, err := engine.RetrieveAll(context.Background(), []string{"   ", "[Simple]  "}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryEmpty, errors.GetCode(err))
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	embeds := embedServer()
	defer embeds.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, ""))
	_, err := engine.Retrieve(context.Background(), "   ", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryEmpty, errors.GetCode(err))
}

func TestRetrieve_NothingHarvested(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	defer dead.Close()
	embeds := embedServer()
	defer embeds.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, ""))
	_, err := engine.Retrieve(context.Background(), "anything at all", []harvest.FetchTask{
		{ID: 0, URL: dead.URL + "/gone", OriginQuery: "q"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoCandidates, errors.GetCode(err))
	assert.True(t, errors.IsFatal(err))
}

func TestRetrieve_EmbeddingOutageIsFatal(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer broken.Close()

	engine := newTestEngine(t, testEngineConfig(broken.URL, ""))
	_, err := engine.Retrieve(context.Background(), "capital of France", tasksFor(pages))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeEmbeddingFailed, errors.GetCode(err))
}

func TestRetrieve_RerankOutageDegrades(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer broken.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, broken.URL))
	results, err := engine.Retrieve(context.Background(), "capital of France", tasksFor(pages))
	require.NoError(t, err, "rerank failure must not fail retrieval")
	assert.NotEmpty(t, results)
}

func TestRetrieve_ComplexQueryReturnsMore(t *testing.T) {
	pages := pageServer()
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()

	engine := newTestEngine(t, testEngineConfig(embeds.URL, ""))

	simple, err := engine.Retrieve(context.Background(), "[Simple] France capital", tasksFor(pages))
	require.NoError(t, err)
	deep, err := engine.Retrieve(context.Background(), "[Complex] France capital", tasksFor(pages))
	require.NoError(t, err)

	assert.LessOrEqual(t, len(simple), 5)
	assert.GreaterOrEqual(t, len(deep), len(simple))
}

func TestRetrieve_UsesCacheOnSecondCall(t *testing.T) {
	var fetches atomic.Int32
	pages := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "text/html")
		if r.Method == http.MethodHead {
			return
		}
		fmt.Fprint(w, `<html><head><title>Doc</title></head><body><article>
<p>Paris is the capital of France and the seat of its government and culture.</p>
</article></body></html>`)
	}))
	defer pages.Close()
	embeds := embedServer()
	defer embeds.Close()

	cfg := testEngineConfig(embeds.URL, "")
	cfg.Cache.Path = t.TempDir() + "/cache.db"
	cfg.Cache.TTL = time.Hour

	engine := newTestEngine(t, cfg)
	tasks := []harvest.FetchTask{{ID: 0, URL: pages.URL + "/doc", OriginQuery: "q"}}

	_, err := engine.Retrieve(context.Background(), "capital of France", tasks)
	require.NoError(t, err)
	first := fetches.Load()

	_, err = engine.Retrieve(context.Background(), "capital of France", tasks)
	require.NoError(t, err)

	assert.Equal(t, first, fetches.Load(), "second retrieval must be served from cache")
}
