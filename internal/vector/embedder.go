// Package vector embeds passages through a remote embeddings API and
// serves nearest-neighbor queries over an in-memory HNSW graph.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
)

// Embedder converts texts to dense vectors.
type Embedder interface {
	// Embed returns one vector per input text, in input order. A
	// failed batch leaves nil vectors at its positions; the error is
	// non-nil only when every batch failed.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width, or 0 if unknown yet.
	Dimensions() int
}

// HTTPEmbedder calls an OpenAI-shaped embeddings endpoint.
type HTTPEmbedder struct {
	cfg      config.EmbeddingsConfig
	client   *http.Client
	logger   *slog.Logger
	retryCfg errors.RetryConfig

	mu   sync.Mutex
	dims int
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedder from configuration.
func NewHTTPEmbedder(cfg config.EmbeddingsConfig, logger *slog.Logger) *HTTPEmbedder {
	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.RetryIf = errors.IsRetryable

	return &HTTPEmbedder{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		retryCfg: retryCfg,
	}
}

type embedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed splits texts into batches and embeds them concurrently. Batch
// failures are tolerated as long as at least one batch succeeds; a
// total failure returns ErrCodeEmbeddingFailed.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var (
		mu        sync.Mutex
		failures  int
		batches   int
		lastError error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		batches++

		g.Go(func() error {
			batch := make([]string, end-start)
			for i, t := range texts[start:end] {
				batch[i] = truncateRunes(t, e.cfg.MaxInputChars)
			}

			embeddings, err := errors.RetryWithResult(gctx, e.retryCfg, func() ([][]float32, error) {
				return e.embedBatch(gctx, batch)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastError = err
				e.logger.Warn("embed_batch_failed",
					slog.Int("start", start),
					slog.Int("size", end-start),
					slog.String("error", err.Error()))
				return nil // partial failure is tolerated
			}
			copy(vectors[start:end], embeddings)
			return nil
		})
	}
	_ = g.Wait()

	if failures == batches {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			"all embedding batches failed", lastError)
	}
	return vectors, nil
}

// Dimensions reports the vector width seen on the last successful call.
func (e *HTTPEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Model:          e.cfg.Model,
		Input:          batch,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.NetworkError("embeddings request failed", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, "embeddings"); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "malformed embeddings response", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(parsed.Data)), nil)
	}

	// The API may return items out of order; index is authoritative.
	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	out := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		if len(item.Embedding) == 0 {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed, "empty embedding in response", nil)
		}
		out[i] = item.Embedding
	}

	e.mu.Lock()
	e.dims = len(out[0])
	e.mu.Unlock()

	return out, nil
}

// statusError maps an HTTP status to a retryable or terminal error.
// 429 and 5xx are retryable; other non-2xx statuses are terminal.
func statusError(status int, what string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeRateLimited,
			fmt.Sprintf("%s endpoint rate limited", what), nil)
	case status >= 500:
		return errors.NetworkError(
			fmt.Sprintf("%s endpoint returned %d", what, status), nil)
	default:
		return errors.New(errors.ErrCodeClientRejected,
			fmt.Sprintf("%s endpoint rejected request with %d", what, status), nil)
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
