package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	"github.com/pgvector/pgvector-go"
)

// Upsert writes a chunk's embedding vector, idempotent by chunk id.
// It returns model.ErrDocumentNotFound when the chunk no longer exists,
// which happens when the owning document was deleted mid-pipeline.
func (h *ChunksDBHandler) Upsert(ctx context.Context, chunkID int64, embedding []float32) error {
	var updated bool
	err := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT update_chunk_embedding($1, $2)`,
		chunkID,
		pgvector.NewVector(embedding),
	).Scan(&updated)
	if err != nil {
		return &model.IndexError{Err: helper.NewError("upsert embedding", err)}
	}
	if !updated {
		return model.ErrDocumentNotFound
	}

	return nil
}

// Search performs cosine similarity search over all embedded chunks,
// applying the filter's self-exclusion, document type and readiness
// constraints at the database level
func (h *ChunksDBHandler) Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter model.SearchFilter) ([]*model.SimilarChunk, error) {
	var exclude interface{}
	if filter.ExcludeDocumentRID != uuid.Nil {
		exclude = filter.ExcludeDocumentRID
	}

	rows, err := h.db.Instance.QueryContext(
		ctx,
		`SELECT * FROM select_chunks_for_discovery($1, $2, $3, $4, $5, $6)`,
		pgvector.NewVector(embedding),
		topK,
		threshold,
		exclude,
		string(filter.DocumentType),
		filter.OnlyReady,
	)
	if err != nil {
		return nil, &model.IndexError{Err: helper.NewError("query", err)}
	}
	defer rows.Close()

	var matches []*model.SimilarChunk
	for rows.Next() {
		match := &model.SimilarChunk{}
		err := rows.Scan(
			&match.ChunkID,
			&match.ChunkIndex,
			&match.DocumentRID,
			&match.DocumentType,
			&match.SectionTitle,
			&match.Similarity,
		)
		if err != nil {
			return nil, &model.IndexError{Err: helper.NewError("scan", err)}
		}

		matches = append(matches, match)
	}

	err = rows.Err()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, &model.IndexError{Err: helper.NewError("rows error", err)}
	}

	return matches, nil
}
