package discovery

import (
	"context"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
)

// VectorIndex is the nearest-neighbor search contract the aggregator
// depends on. The pgvector-backed chunks handler implements it.
type VectorIndex interface {
	Upsert(ctx context.Context, chunkID int64, embedding []float32) error
	Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter model.SearchFilter) ([]*model.SimilarChunk, error)
}

// ChunkSource provides the embedded chunks of a document
type ChunkSource interface {
	SelectChunkEmbeddings(documentRID uuid.UUID) ([]*model.Chunk, error)
}

// DocumentSource resolves documents by RID
type DocumentSource interface {
	SelectDocument(rid uuid.UUID) (*model.Document, error)
}

// RelationshipSink persists discovered relationships. Insert reports
// false when the (source, target, type) triple already exists.
type RelationshipSink interface {
	InsertRelationship(rel *model.Relationship) (bool, error)
}
