package pipeline

import (
	"context"

	"github.com/mkallweit/normrel/extract"
	"github.com/mkallweit/normrel/model"
)

// ChunkFunc splits extracted text into ordered chunk drafts, using the
// structural markers to carry section and page context
type ChunkFunc func(text string, markers []extract.Marker) ([]ChunkDraft, error)

// EmbedFunc generates one embedding per input text
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ChunkDraft is a chunk before persistence, without database identity
type ChunkDraft struct {
	Index        int
	Content      string
	CharCount    int
	SectionTitle string
	HeadingLevel int
	Page         int
}

// Pipeline combines chunking and embedding functions
type Pipeline struct {
	Chunker  ChunkFunc
	Embedder EmbedFunc
}

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder EmbedFunc) *Pipeline {
	return &Pipeline{
		Chunker:  chunker,
		Embedder: embedder,
	}
}

// Process splits text into chunks and embeds them in one pass.
// The returned chunks carry no database identity yet.
func (p *Pipeline) Process(ctx context.Context, text string, markers []extract.Marker) ([]*model.Chunk, error) {
	drafts, err := p.Chunker(text, markers)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return []*model.Chunk{}, nil
	}

	texts := make([]string, len(drafts))
	for i, draft := range drafts {
		texts[i] = draft.Content
	}

	embeddings, err := p.Embedder(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(drafts) {
		return nil, &model.EmbeddingError{
			Err: errEmbeddingCountMismatch(len(embeddings), len(drafts)),
		}
	}

	chunks := make([]*model.Chunk, 0, len(drafts))
	for i, draft := range drafts {
		chunks = append(chunks, &model.Chunk{
			ChunkIndex:   draft.Index,
			Content:      draft.Content,
			CharCount:    draft.CharCount,
			SectionTitle: draft.SectionTitle,
			HeadingLevel: draft.HeadingLevel,
			Page:         draft.Page,
			Embedding:    embeddings[i],
		})
	}

	return chunks, nil
}
