// Package harvest fetches web documents concurrently and turns them
// into sanitized plain-text documents. Individual fetch failures are
// isolated: one bad URL never fails the batch.
package harvest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/websift/websift/internal/config"
	"github.com/websift/websift/internal/errors"
	"github.com/websift/websift/internal/sanitize"
)

// FetchTask describes one URL to harvest.
type FetchTask struct {
	// ID orders results within an origin query.
	ID int

	// URL is the page to fetch.
	URL string

	// Title is the search-result title, used when extraction finds none.
	Title string

	// OriginQuery is the search query that produced this URL.
	OriginQuery string
}

// Document is a successfully fetched and sanitized page.
type Document struct {
	ID          int
	Title       string
	URL         string
	Content     string
	OriginQuery string
}

// Browsers rotate across requests so a batch does not present a
// uniform fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// skippedMediaPrefixes are media types the sanitizer cannot turn into
// text. Responses carrying them are skipped before download.
var skippedMediaPrefixes = []string{
	"image/", "video/", "audio/", "font/",
	"application/zip", "application/gzip", "application/x-tar",
	"application/octet-stream", "application/javascript",
}

// Harvester fetches batches of URLs through a bounded worker pool.
type Harvester struct {
	cfg       config.HarvestConfig
	client    *http.Client
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	retryCfg  errors.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Harvester. The logger may not be nil.
func New(cfg config.HarvestConfig, sanitizer *sanitize.Sanitizer, logger *slog.Logger) *Harvester {
	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.RetryIf = errors.IsRetryable

	return &Harvester{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		sanitizer: sanitizer,
		logger:    logger,
		retryCfg:  retryCfg,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Harvest fetches all tasks concurrently and returns the documents
// that fetched and sanitized successfully, ordered by origin query and
// task ID. Failures are logged and dropped. The returned slice is
// empty, never nil, when everything fails.
func (h *Harvester) Harvest(ctx context.Context, tasks []FetchTask) []Document {
	results := make([]Document, 0, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Workers)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			doc, err := h.fetchOne(gctx, task)
			if err != nil {
				h.logger.Warn("fetch_failed",
					slog.String("url", task.URL),
					slog.String("code", errors.GetCode(err)),
					slog.String("error", err.Error()))
				return nil // isolate failures
			}
			mu.Lock()
			results = append(results, *doc)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].OriginQuery != results[j].OriginQuery {
			return results[i].OriginQuery < results[j].OriginQuery
		}
		return results[i].ID < results[j].ID
	})

	h.logger.Info("harvest_done",
		slog.Int("requested", len(tasks)),
		slog.Int("harvested", len(results)))
	return results
}

// GroupByQuery buckets harvested documents by their origin query.
// Within each bucket the documents keep their ID order.
func GroupByQuery(docs []Document) map[string][]Document {
	grouped := make(map[string][]Document)
	for _, doc := range docs {
		grouped[doc.OriginQuery] = append(grouped[doc.OriginQuery], doc)
	}
	return grouped
}

// fetchOne runs the full pipeline for a single task: URL validation,
// rate limiting, HEAD probe, retried GET, and sanitization.
func (h *Harvester) fetchOne(ctx context.Context, task FetchTask) (*Document, error) {
	parsed, err := url.Parse(task.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, errors.New(errors.ErrCodeInvalidURL,
			fmt.Sprintf("unsupported url: %s", task.URL), err)
	}

	if err := h.waitHost(ctx, parsed.Host); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkTimeout, err)
	}

	ua := userAgents[task.ID%len(userAgents)]

	// The probe catches dead links, skippable media, and oversized
	// bodies cheaply. Probe errors fall through to GET: plenty of
	// servers reject HEAD.
	if skip, err := h.probe(ctx, task.URL, ua); err == nil && skip != nil {
		return nil, skip
	}

	body, err := errors.RetryWithResult(ctx, h.retryCfg, func() (fetchResult, error) {
		return h.get(ctx, task.URL, ua)
	})
	if err != nil {
		return nil, err
	}

	doc, err := h.sanitizer.Sanitize(body.data, body.mediaType)
	if err != nil {
		return nil, err
	}

	title := doc.Title
	if title == "" {
		title = task.Title
	}

	return &Document{
		ID:          task.ID,
		Title:       title,
		URL:         task.URL,
		Content:     doc.Text,
		OriginQuery: task.OriginQuery,
	}, nil
}

type fetchResult struct {
	data      []byte
	mediaType string
}

// probe issues a HEAD request and returns a skip error when the URL
// should be dropped before download: an unsupported media type or a
// declared Content-Length over the body cap. Probe failures come back
// as err so callers can fall through to GET.
func (h *Harvester) probe(ctx context.Context, rawURL, ua string) (skip, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", ua)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	if mt := resp.Header.Get("Content-Type"); isSkippedMedia(mt) {
		return errors.New(errors.ErrCodeMediaSkipped,
			fmt.Sprintf("unsupported media type %q at %s", mt, rawURL), nil), nil
	}
	if resp.ContentLength > h.cfg.MaxBodyBytes {
		return errors.New(errors.ErrCodeBodyTooLarge,
			fmt.Sprintf("declared length %d exceeds %d bytes at %s",
				resp.ContentLength, h.cfg.MaxBodyBytes, rawURL), nil), nil
	}
	return nil, nil
}

// get downloads the body, enforcing the media-type filter and the
// body-size cap. 4xx responses are terminal; 5xx and transport errors
// are retryable.
func (h *Harvester) get(ctx context.Context, rawURL, ua string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, errors.New(errors.ErrCodeInvalidURL, err.Error(), err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		return fetchResult{}, errors.NetworkError(
			fmt.Sprintf("fetch failed: %s", rawURL), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fetchResult{}, errors.New(errors.ErrCodeRateLimited,
			fmt.Sprintf("rate limited by %s", req.URL.Host), nil)
	case resp.StatusCode >= 500:
		return fetchResult{}, errors.NetworkError(
			fmt.Sprintf("server error %d from %s", resp.StatusCode, rawURL), nil)
	case resp.StatusCode >= 400:
		return fetchResult{}, errors.New(errors.ErrCodeClientRejected,
			fmt.Sprintf("status %d from %s", resp.StatusCode, rawURL), nil)
	}

	mediaType := resp.Header.Get("Content-Type")
	if isSkippedMedia(mediaType) {
		return fetchResult{}, errors.New(errors.ErrCodeMediaSkipped,
			fmt.Sprintf("unsupported media type %q at %s", mediaType, rawURL), nil)
	}

	// Read one byte past the cap to distinguish at-limit from over.
	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		return fetchResult{}, errors.NetworkError("body read failed", err)
	}
	if int64(len(data)) > h.cfg.MaxBodyBytes {
		return fetchResult{}, errors.New(errors.ErrCodeBodyTooLarge,
			fmt.Sprintf("body exceeds %d bytes at %s", h.cfg.MaxBodyBytes, rawURL), nil)
	}

	return fetchResult{data: data, mediaType: mediaType}, nil
}

// waitHost blocks until the per-host rate limiter admits a request.
func (h *Harvester) waitHost(ctx context.Context, host string) error {
	if h.cfg.PerHostRPS <= 0 {
		return nil
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.cfg.PerHostRPS), 1)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}

func isSkippedMedia(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	for _, prefix := range skippedMediaPrefixes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}
