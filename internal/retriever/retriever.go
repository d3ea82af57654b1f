// Package retriever orchestrates the full retrieval pipeline: harvest
// pages, chunk them, score the chunks lexically and semantically,
// rerank, and fuse everything into a final ranked answer set.
package retriever

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/websift/websift/internal/cache"
	"github.com/websift/websift/internal/chunk"
	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
	"github.com/websift/websift/internal/fusion"
	"github.com/websift/websift/internal/harvest"
	"github.com/websift/websift/internal/lexical"
	"github.com/websift/websift/internal/rerank"
	"github.com/websift/websift/internal/sanitize"
	"github.com/websift/websift/internal/vector"
)

// Result is one retrieved passage.
type Result struct {
	Text        string   `json:"text"`
	SourceURL   string   `json:"source_url"`
	SourceTitle string   `json:"source_title"`
	Score       float64  `json:"score"`
	Confidence  float64  `json:"confidence"`
	Sources     []string `json:"sources"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	cfg       *config.Config
	harvester *harvest.Harvester
	chunker   *chunk.Chunker
	lexical   *lexical.Scorer
	embedder  vector.Embedder
	reranker  rerank.Reranker
	fuser     *fusion.Fuser
	policy    fusion.TopKPolicy
	store     *cache.Store
	logger    *slog.Logger
}

// New builds an Engine from configuration. The cache is optional and
// only opened when a path is configured.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	embedder, err := vector.NewCachedEmbedder(
		vector.NewHTTPEmbedder(cfg.Embeddings, logger), cfg.Embeddings.CacheSize)
	if err != nil {
		return nil, errors.InternalError("failed to create embedding cache", err)
	}

	var reranker rerank.Reranker
	if cfg.Rerank.Endpoint != "" {
		reranker = rerank.New(cfg.Rerank, logger)
	}

	var store *cache.Store
	if cfg.Cache.Path != "" {
		store, err = cache.Open(cfg.Cache.Path, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		cfg:       cfg,
		harvester: harvest.New(cfg.Harvest, sanitize.New(), logger),
		chunker:   chunk.New(cfg.Chunking),
		lexical:   lexical.NewScorer(),
		embedder:  embedder,
		reranker:  reranker,
		fuser:     fusion.NewFuser(cfg.Search.RRFConstant),
		policy: fusion.TopKPolicy{
			Simple:   cfg.Search.TopKSimple,
			Moderate: cfg.Search.TopKComplex,
			Complex:  cfg.Search.TopKComplex,
		},
		store:  store,
		logger: logger,
	}, nil
}

// Close releases the cache if one is open.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Retrieve runs the pipeline for one query over the given fetch tasks
// and returns the fused top passages. The result count adapts to
// query complexity. Errors are returned only for conditions that make
// any answer impossible: an empty query, nothing harvestable, or a
// complete embedding failure.
func (e *Engine) Retrieve(ctx context.Context, query string, tasks []harvest.FetchTask) ([]Result, error) {
	return e.RetrieveAll(ctx, []string{query}, tasks)
}

// RetrieveAll runs the pipeline for a plan of one or more queries over
// a shared harvest. Each query is ranked independently against the
// chunk pool; the per-query rankings are then merged with one more
// round of reciprocal rank fusion, so a passage that several queries
// agree on rises above any single query's favorite. Blank queries are
// dropped from the plan; a plan with none left is an error.
func (e *Engine) RetrieveAll(ctx context.Context, queries []string, tasks []harvest.FetchTask) ([]Result, error) {
	started := time.Now()

	type plan struct {
		query      string
		complexity fusion.Complexity
	}
	plans := make([]plan, 0, len(queries))
	for _, q := range queries {
		complexity, clean := fusion.Classify(q)
		if strings.TrimSpace(clean) == "" {
			continue
		}
		plans = append(plans, plan{query: clean, complexity: complexity})
	}
	if len(plans) == 0 {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	docs := e.harvestWithCache(ctx, tasks)
	for origin, group := range harvest.GroupByQuery(docs) {
		e.logger.Debug("harvest_group",
			slog.String("origin_query", origin),
			slog.Int("documents", len(group)))
	}

	chunks, err := e.chunker.Split(docs)
	if err != nil {
		return nil, err
	}
	if max := e.cfg.Chunking.MaxChunks; max > 0 && len(chunks) > max {
		chunks = chunks[:max]
	}
	if len(chunks) == 0 {
		return nil, errors.New(errors.ErrCodeNoCandidates,
			"no usable content harvested for query", nil)
	}

	corpus := make([]string, len(chunks))
	for i, ch := range chunks {
		corpus[i] = ch.Text
	}

	// The widest per-query budget bounds the merged set too.
	topK := 0
	for _, p := range plans {
		if k := e.policy.For(p.complexity, len(chunks)); k > topK {
			topK = k
		}
	}

	var fused []fusion.Ranked
	if len(plans) == 1 {
		fused, err = e.rankQuery(ctx, plans[0].query, chunks, corpus, topK)
		if err != nil {
			return nil, err
		}
	} else {
		perQuery := make([]fusion.List, 0, len(plans))
		for _, p := range plans {
			ranked, rankErr := e.rankQuery(ctx, p.query, chunks, corpus, topK)
			if rankErr != nil {
				return nil, rankErr
			}
			list := fusion.List{Name: p.query, Chunks: make([]chunk.Chunk, len(ranked))}
			for i, r := range ranked {
				list.Chunks[i] = r.Chunk
			}
			perQuery = append(perQuery, list)
		}
		fused = e.fuser.Fuse(perQuery, topK)
	}

	// Raw RRF sums are hard to compare across queries; a softmax over
	// the result set gives each passage a relative confidence.
	rawScores := make([]float64, len(fused))
	for i, r := range fused {
		rawScores[i] = r.Score
	}
	confidence := fusion.Softmax(rawScores)

	results := make([]Result, len(fused))
	for i, r := range fused {
		results[i] = Result{
			Text:        r.Chunk.Text,
			SourceURL:   r.Chunk.SourceURL,
			SourceTitle: r.Chunk.SourceTitle,
			Score:       r.Score,
			Confidence:  confidence[i],
			Sources:     r.Sources,
		}
	}

	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.query
	}
	e.recordRun(ctx, strings.Join(names, " | "), len(docs), len(results), time.Since(started))
	e.logger.Info("retrieve_done",
		slog.Int("queries", len(plans)),
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(chunks)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(started)))
	return results, nil
}

// rankQuery scores one query against the shared chunk pool and fuses
// its backend lists into that query's ranking.
func (e *Engine) rankQuery(ctx context.Context, query string, chunks []chunk.Chunk, corpus []string, topK int) ([]fusion.Ranked, error) {
	bm25List, vectorList, err := e.scoreParallel(ctx, query, chunks, corpus, topK)
	if err != nil {
		return nil, err
	}

	rerankList := e.rerankCandidates(ctx, query, bm25List, vectorList, topK)

	lists := []fusion.List{
		{Name: "bm25", Chunks: bm25List},
		{Name: "vector", Chunks: vectorList},
	}
	if len(rerankList) > 0 {
		lists = append(lists, fusion.List{Name: "rerank", Chunks: rerankList})
	}
	return e.fuser.Fuse(lists, topK), nil
}

// harvestWithCache serves tasks from the cache where possible and
// harvests the rest, writing fresh documents back.
func (e *Engine) harvestWithCache(ctx context.Context, tasks []harvest.FetchTask) []harvest.Document {
	if e.store == nil {
		return e.harvester.Harvest(ctx, tasks)
	}

	var (
		cached []harvest.Document
		misses []harvest.FetchTask
	)
	for _, task := range tasks {
		doc, ok, err := e.store.Get(ctx, task.URL)
		if err != nil || !ok {
			misses = append(misses, task)
			continue
		}
		doc.ID = task.ID
		doc.OriginQuery = task.OriginQuery
		cached = append(cached, *doc)
	}

	fetched := e.harvester.Harvest(ctx, misses)
	for _, doc := range fetched {
		if err := e.store.Put(ctx, doc); err != nil {
			e.logger.Warn("cache_write_failed",
				slog.String("url", doc.URL),
				slog.String("error", err.Error()))
		}
	}

	docs := append(cached, fetched...)
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].OriginQuery != docs[j].OriginQuery {
			return docs[i].OriginQuery < docs[j].OriginQuery
		}
		return docs[i].ID < docs[j].ID
	})
	return docs
}

// scoreParallel runs lexical and vector scoring concurrently and
// returns each backend's ranked list. Embedding failure is fatal for
// the whole call; lexical failure only loses its list.
func (e *Engine) scoreParallel(ctx context.Context, query string, chunks []chunk.Chunk, corpus []string, topK int) (bm25List, vectorList []chunk.Chunk, err error) {
	var (
		lexScores  []float64
		vectorHits []vector.Hit
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scores, lexErr := e.lexical.Score(gctx, query, corpus)
		if lexErr != nil {
			e.logger.Warn("bm25_failed", slog.String("error", lexErr.Error()))
			return nil
		}
		lexScores = scores
		return nil
	})

	g.Go(func() error {
		// Embedding input carries the page title for context; the
		// chunk alone can be ambiguous out of its document.
		inputs := make([]string, len(chunks)+1)
		inputs[0] = query
		for i, ch := range chunks {
			inputs[i+1] = embedInput(ch)
		}

		vectors, embErr := e.embedder.Embed(gctx, inputs)
		if embErr != nil {
			return embErr
		}
		if vectors[0] == nil {
			return errors.New(errors.ErrCodeEmbeddingFailed, "query embedding failed", nil)
		}

		idx, idxErr := vector.NewIndex(e.cfg.Search, vectors[1:])
		if idxErr != nil {
			return idxErr
		}

		hits, searchErr := idx.Search(gctx, vectors[0], topK)
		if searchErr != nil {
			return searchErr
		}
		vectorHits = hits
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return rankByScore(chunks, lexScores, topK), hitsToChunks(chunks, vectorHits), nil
}

// rerankCandidates reranks the union of both backend lists. On any
// failure it degrades to the candidates in their current order.
func (e *Engine) rerankCandidates(ctx context.Context, query string, bm25List, vectorList []chunk.Chunk, topK int) []chunk.Chunk {
	seen := make(map[string]struct{})
	var union []chunk.Chunk
	for _, list := range [][]chunk.Chunk{bm25List, vectorList} {
		for _, ch := range list {
			if _, ok := seen[ch.Text]; ok {
				continue
			}
			seen[ch.Text] = struct{}{}
			union = append(union, ch)
		}
	}
	if len(union) == 0 {
		return nil
	}

	texts := make([]string, len(union))
	for i, ch := range union {
		texts[i] = ch.Text
	}

	var ranked []rerank.Result
	if e.reranker != nil {
		var err error
		ranked, err = e.reranker.Rerank(ctx, query, texts, topK)
		if err != nil {
			e.logger.Warn("rerank_failed", slog.String("error", err.Error()))
			ranked = nil
		}
	}
	if ranked == nil {
		ranked = rerank.Fallback(texts, topK)
	}

	out := make([]chunk.Chunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, union[r.Index])
	}
	return out
}

func (e *Engine) recordRun(ctx context.Context, query string, docs, results int, elapsed time.Duration) {
	if e.store == nil {
		return
	}
	if _, err := e.store.RecordRun(ctx, query, docs, results, elapsed); err != nil {
		e.logger.Warn("run_record_failed", slog.String("error", err.Error()))
	}
}

// embedInput builds the embedding text for a chunk.
func embedInput(ch chunk.Chunk) string {
	if ch.SourceTitle == "" {
		return ch.Text
	}
	return ch.SourceTitle + "\n" + ch.Text
}

// rankByScore returns the chunks with positive scores, best first,
// capped at topK.
func rankByScore(chunks []chunk.Chunk, scores []float64, topK int) []chunk.Chunk {
	if len(scores) != len(chunks) {
		return nil
	}

	type scored struct {
		i     int
		score float64
	}
	order := make([]scored, 0, len(chunks))
	for i, s := range scores {
		if s > 0 {
			order = append(order, scored{i: i, score: s})
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].score > order[b].score
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	out := make([]chunk.Chunk, len(order))
	for i, s := range order {
		out[i] = chunks[s.i]
	}
	return out
}

// hitsToChunks maps index hits back to chunks, preserving hit order.
func hitsToChunks(chunks []chunk.Chunk, hits []vector.Hit) []chunk.Chunk {
	out := make([]chunk.Chunk, 0, len(hits))
	for _, h := range hits {
		if h.Index < 0 || h.Index >= len(chunks) {
			continue
		}
		out = append(out, chunks[h.Index])
	}
	return out
}
