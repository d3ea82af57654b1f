// Package rerank scores candidate passages against a query with a
// remote cross-encoder. Reranking is an accuracy boost, never a
// dependency: any failure falls back to the caller's existing order.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
)

// Result is one reranked candidate.
type Result struct {
	// Index is the candidate's position in the input slice.
	Index int

	// Score is the cross-encoder relevance score.
	Score float64
}

// Reranker orders candidate texts by relevance to a query.
type Reranker interface {
	// Rerank returns up to topN results, most relevant first.
	Rerank(ctx context.Context, query string, candidates []string, topN int) ([]Result, error)
}

// HTTPReranker calls a cross-encoder rerank endpoint.
type HTTPReranker struct {
	cfg      config.RerankConfig
	client   *http.Client
	logger   *slog.Logger
	retryCfg errors.RetryConfig
}

var _ Reranker = (*HTTPReranker)(nil)

// New creates a reranker from configuration.
func New(cfg config.RerankConfig, logger *slog.Logger) *HTTPReranker {
	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.RetryIf = errors.IsRetryable

	return &HTTPReranker{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores candidates against the query. Out-of-range indices in
// the response are dropped; results come back sorted by score.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string, topN int) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	return errors.RetryWithResult(ctx, r.retryCfg, func() ([]Result, error) {
		return r.call(ctx, query, candidates, topN)
	})
}

func (r *HTTPReranker) call(ctx context.Context, query string, candidates []string, topN int) ([]Result, error) {
	payload, err := json.Marshal(rerankRequest{
		Model:           r.cfg.Model,
		Query:           query,
		Documents:       candidates,
		TopN:            topN,
		ReturnDocuments: false,
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.NetworkError("rerank request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeRateLimited, "rerank endpoint rate limited", nil)
	}
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.NetworkError(
			fmt.Sprintf("rerank endpoint returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.ErrCodeClientRejected,
			fmt.Sprintf("rerank endpoint rejected request with %d", resp.StatusCode), nil)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.New(errors.ErrCodeRetrievalFailed, "malformed rerank response", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.Index < 0 || item.Index >= len(candidates) {
			r.logger.Warn("rerank_index_out_of_range", slog.Int("index", item.Index))
			continue
		}
		results = append(results, Result{Index: item.Index, Score: item.RelevanceScore})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// Fallback returns the first topN candidate indices in input order
// with zero scores. It stands in for the reranker when the endpoint
// is unavailable or misbehaving.
func Fallback(candidates []string, topN int) []Result {
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	results := make([]Result, topN)
	for i := range results {
		results[i] = Result{Index: i}
	}
	return results
}
