package model

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig configures chunking and embedding
type PipelineConfig struct {
	// Chunking
	ChunkTargetSize   int `yaml:"chunk_target_size"`  // target chunk length in characters
	ChunkOverlap      int `yaml:"chunk_overlap"`      // overlap between consecutive chunks
	BoundaryTolerance int `yaml:"boundary_tolerance"` // window near the target in which a natural boundary is preferred

	// Embedding
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDim       int    `yaml:"embedding_dim"`
	EmbeddingBatchSize int    `yaml:"embedding_batch_size"`
}

// DiscoveryConfig configures relationship discovery and classification
type DiscoveryConfig struct {
	TopK                int     `yaml:"top_k"`                // chunk matches requested per query chunk
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // minimum cosine similarity for a chunk match
	SupersedesThreshold float64 `yaml:"supersedes_threshold"` // minimum average similarity for norm->norm supersedes
	MaxDetailMatches    int     `yaml:"max_detail_matches"`   // representative chunk pairs kept per relationship
}

// WorkerConfig configures the task runner
type WorkerConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// Config is the root pipeline configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// DefaultConfig returns the documented default configuration:
// 512 character chunks with 50 character overlap, a 0.78 similarity
// threshold for discovery and a 0.9 threshold for supersedes.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			ChunkTargetSize:    512,
			ChunkOverlap:       50,
			BoundaryTolerance:  128,
			EmbeddingModel:     "sentence-transformers/all-MiniLM-L6-v2",
			EmbeddingDim:       384,
			EmbeddingBatchSize: 32,
		},
		Discovery: DiscoveryConfig{
			TopK:                10,
			SimilarityThreshold: 0.78,
			SupersedesThreshold: 0.9,
			MaxDetailMatches:    5,
		},
		Worker: WorkerConfig{
			PoolSize:       4,
			MaxAttempts:    3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
	}
}

// LoadConfig reads a config from path. A missing file returns defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

func applyConfigDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Pipeline.ChunkTargetSize <= 0 {
		cfg.Pipeline.ChunkTargetSize = defaults.Pipeline.ChunkTargetSize
	}
	if cfg.Pipeline.ChunkOverlap < 0 {
		cfg.Pipeline.ChunkOverlap = defaults.Pipeline.ChunkOverlap
	}
	if cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkTargetSize {
		cfg.Pipeline.ChunkOverlap = cfg.Pipeline.ChunkTargetSize / 4
	}
	if cfg.Pipeline.BoundaryTolerance <= 0 {
		cfg.Pipeline.BoundaryTolerance = defaults.Pipeline.BoundaryTolerance
	}
	if cfg.Pipeline.EmbeddingModel == "" {
		cfg.Pipeline.EmbeddingModel = defaults.Pipeline.EmbeddingModel
	}
	if cfg.Pipeline.EmbeddingDim <= 0 {
		cfg.Pipeline.EmbeddingDim = defaults.Pipeline.EmbeddingDim
	}
	if cfg.Pipeline.EmbeddingBatchSize <= 0 {
		cfg.Pipeline.EmbeddingBatchSize = defaults.Pipeline.EmbeddingBatchSize
	}

	if cfg.Discovery.TopK <= 0 {
		cfg.Discovery.TopK = defaults.Discovery.TopK
	}
	if cfg.Discovery.SimilarityThreshold <= 0 {
		cfg.Discovery.SimilarityThreshold = defaults.Discovery.SimilarityThreshold
	}
	if cfg.Discovery.SupersedesThreshold <= 0 {
		cfg.Discovery.SupersedesThreshold = defaults.Discovery.SupersedesThreshold
	}
	if cfg.Discovery.MaxDetailMatches <= 0 {
		cfg.Discovery.MaxDetailMatches = defaults.Discovery.MaxDetailMatches
	}

	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = defaults.Worker.PoolSize
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = defaults.Worker.MaxAttempts
	}
	if cfg.Worker.RetryBaseDelay <= 0 {
		cfg.Worker.RetryBaseDelay = defaults.Worker.RetryBaseDelay
	}
}
