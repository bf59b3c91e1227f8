package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
)

// Embedder generates embeddings through a shared hugot feature extraction
// pipeline. It is safe for concurrent use.
type Embedder struct {
	run       func([]string) ([][]float32, error)
	dim       int
	batchSize int
}

var (
	embedderOnce     sync.Once
	embedderInstance *Embedder
	embedderErr      error
)

// DefaultEmbedder returns the process-wide embedder, loading the model on
// first use. The model is downloaded via helper.PrepareModel if missing.
// All callers share one session, repeated calls return the same instance.
func DefaultEmbedder(config *model.PipelineConfig) (*Embedder, error) {
	embedderOnce.Do(func() {
		embedderInstance, embedderErr = newEmbedder(config)
	})
	return embedderInstance, embedderErr
}

func newEmbedder(config *model.PipelineConfig) (*Embedder, error) {
	modelPath, err := helper.PrepareModel(config.EmbeddingModel, "")
	if err != nil {
		return nil, &model.EmbeddingError{Err: err}
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, &model.EmbeddingError{Err: fmt.Errorf("failed to create hugot session: %w", err)}
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, &model.EmbeddingError{Err: fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)}
		}
		return nil, &model.EmbeddingError{Err: fmt.Errorf("failed to create sentence pipeline: %w", err)}
	}

	return &Embedder{
		run: func(texts []string) ([][]float32, error) {
			result, err := sentencePipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
		dim:       config.EmbeddingDim,
		batchSize: config.EmbeddingBatchSize,
	}, nil
}

// Dim returns the dimensionality of produced embeddings
func (e *Embedder) Dim() int {
	return e.dim
}

// Embed generates one embedding per input text, running the model in
// batches. Failures are wrapped in model.EmbeddingError and retryable.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.run(texts[start:end])
		if err != nil {
			return nil, &model.EmbeddingError{Err: err}
		}
		if len(batch) != end-start {
			return nil, &model.EmbeddingError{Err: errEmbeddingCountMismatch(len(batch), end-start)}
		}

		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

// EmbedFunc adapts the embedder to the pipeline function type
func (e *Embedder) EmbedFunc() EmbedFunc {
	return e.Embed
}
