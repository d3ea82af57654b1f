// Package config defines the explicit configuration object for the
// retrieval pipeline. The core never reads ambient global state; a
// Config is loaded once and passed down to every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/websift/websift/internal/errors"
)

// Config represents the complete websift configuration.
type Config struct {
	Harvest    HarvestConfig    `yaml:"harvest" json:"harvest"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// HarvestConfig configures the concurrent web harvester.
type HarvestConfig struct {
	// Workers is the bounded worker-pool width (default: 10).
	Workers int `yaml:"workers" json:"workers"`

	// MaxRetries is the retry budget per fetch task on transient
	// network errors (default: 3 attempts total).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Timeout is the per-request fetch timeout (default: 15s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// ProbeTimeout is the HEAD existence-probe timeout (default: 5s).
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// MaxBodyBytes caps the downloaded body size (default: 5MB).
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`

	// PerHostRPS rate-limits requests per host (default: 2).
	PerHostRPS float64 `yaml:"per_host_rps" json:"per_host_rps"`
}

// ChunkingConfig configures the recursive text splitter.
type ChunkingConfig struct {
	// ChunkSize is the target chunk size in runes (default: 256).
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ChunkOverlap preserves cross-boundary context (default: 32).
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	// MaxChunks caps the candidate corpus per retrieval call (default: 150).
	MaxChunks int `yaml:"max_chunks" json:"max_chunks"`
}

// EmbeddingsConfig configures the remote embeddings endpoint.
type EmbeddingsConfig struct {
	// Endpoint is the embeddings API URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`

	// APIKey authenticates requests. Overridable via WEBSIFT_EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key" json:"api_key"`

	// BatchSize is the maximum texts per request (default: 10).
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Workers bounds concurrent batch requests (default: 10).
	Workers int `yaml:"workers" json:"workers"`

	// MaxRetries is the per-batch retry budget on 429/5xx (default: 3).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxInputChars truncates each embedded text (default: 1024).
	MaxInputChars int `yaml:"max_input_chars" json:"max_input_chars"`

	// CacheSize is the query-embedding LRU size (default: 1000).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// RerankConfig configures the cross-encoder rerank endpoint.
type RerankConfig struct {
	// Endpoint is the rerank API URL. Empty disables remote reranking;
	// the pipeline then keeps the prior-stage order.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the reranker model name.
	Model string `yaml:"model" json:"model"`

	// APIKey authenticates requests. Overridable via WEBSIFT_RERANK_API_KEY.
	APIKey string `yaml:"api_key" json:"api_key"`

	// MaxRetries is the retry budget on 429/5xx (default: 3).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig configures ranking and fusion.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter m (default: 60).
	// Larger values flatten rank influence, smaller values make top
	// ranks dominate.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// TopKSimple is the result count for simple queries (default: 5).
	TopKSimple int `yaml:"top_k_simple" json:"top_k_simple"`

	// TopKComplex is the result count for moderate/complex queries
	// (default: 10).
	TopKComplex int `yaml:"top_k_complex" json:"top_k_complex"`

	// HNSWM is the HNSW graph connectivity parameter (default: 16).
	HNSWM int `yaml:"hnsw_m" json:"hnsw_m"`

	// HNSWEfSearch is the HNSW search depth; tuned low because result
	// sets are small (default: 20).
	HNSWEfSearch int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// CacheConfig configures the sqlite harvest cache.
type CacheConfig struct {
	// Path is the sqlite database path. Empty disables caching.
	Path string `yaml:"path" json:"path"`

	// TTL is how long cached documents stay fresh (default: 1h).
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Harvest: HarvestConfig{
			Workers:      10,
			MaxRetries:   3,
			Timeout:      15 * time.Second,
			ProbeTimeout: 5 * time.Second,
			MaxBodyBytes: 5 * 1024 * 1024,
			PerHostRPS:   2,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    256,
			ChunkOverlap: 32,
			MaxChunks:    150,
		},
		Embeddings: EmbeddingsConfig{
			BatchSize:     10,
			Workers:       10,
			MaxRetries:    3,
			Timeout:       30 * time.Second,
			MaxInputChars: 1024,
			CacheSize:     1000,
		},
		Rerank: RerankConfig{
			MaxRetries: 3,
			Timeout:    30 * time.Second,
		},
		Search: SearchConfig{
			RRFConstant:  60,
			TopKSimple:   5,
			TopKComplex:  10,
			HNSWM:        16,
			HNSWEfSearch: 20,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates the result. A missing path returns defaults
// with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.New(errors.ErrCodeConfigNotFound,
					fmt.Sprintf("config file not found: %s", path), err)
			}
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid config yaml: %v", err), err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies WEBSIFT_* environment overrides. Env vars take
// priority over file values so credentials stay out of config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("WEBSIFT_EMBEDDING_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("WEBSIFT_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("WEBSIFT_EMBEDDING_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("WEBSIFT_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}
	if v := os.Getenv("WEBSIFT_RERANK_MODEL"); v != "" {
		c.Rerank.Model = v
	}
	if v := os.Getenv("WEBSIFT_RERANK_API_KEY"); v != "" {
		c.Rerank.APIKey = v
	}
	if v := os.Getenv("WEBSIFT_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("WEBSIFT_HARVEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Harvest.Workers = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Harvest.Workers <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "harvest.workers must be positive", nil)
	}
	if c.Harvest.MaxBodyBytes <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "harvest.max_body_bytes must be positive", nil)
	}
	if c.Chunking.ChunkSize <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "chunking.chunk_size must be positive", nil)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return errors.New(errors.ErrCodeConfigInvalid, "chunking.chunk_overlap must be in [0, chunk_size)", nil)
	}
	if c.Embeddings.BatchSize <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "embeddings.batch_size must be positive", nil)
	}
	if c.Search.RRFConstant <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "search.rrf_constant must be positive", nil)
	}
	if c.Search.TopKSimple <= 0 || c.Search.TopKComplex <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "search top-k values must be positive", nil)
	}
	return nil
}
