package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk represents a bounded text segment of a document, the unit of
// embedding and similarity search. (document_id, chunk_index) is unique.
type Chunk struct {
	ID           int64     `json:"id"`
	DocumentID   int64     `json:"document_id"`
	DocumentRID  uuid.UUID `json:"document_rid"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	CharCount    int       `json:"char_count"`
	SectionTitle string    `json:"section_title,omitempty"`
	HeadingLevel int       `json:"heading_level,omitempty"`
	Page         int       `json:"page,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SimilarChunk is a chunk returned by a vector index search together
// with its similarity to the query vector and owning document context
type SimilarChunk struct {
	ChunkID      int64        `json:"chunk_id"`
	ChunkIndex   int          `json:"chunk_index"`
	DocumentRID  uuid.UUID    `json:"document_rid"`
	DocumentType DocumentType `json:"document_type"`
	SectionTitle string       `json:"section_title,omitempty"`
	Similarity   float64      `json:"similarity"`
}

// SearchFilter narrows a vector index search.
// ExcludeDocumentRID keeps a document from matching against itself.
type SearchFilter struct {
	ExcludeDocumentRID uuid.UUID
	DocumentType       DocumentType
	OnlyReady          bool
}
