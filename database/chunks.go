package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	loadSql "github.com/mkallweit/normrel/sql"
	"github.com/pgvector/pgvector-go"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	InsertChunk(chunk *model.Chunk) error
	InsertChunks(chunks []*model.Chunk) error
	SelectChunk(id int64) (*model.Chunk, error)
	SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error)
	CountChunksByDocument(documentRID uuid.UUID) (int64, error)
	SelectChunkEmbeddings(documentRID uuid.UUID) ([]*model.Chunk, error)
	DeleteChunk(id int64) error
	DeleteChunksByDocument(documentRID uuid.UUID) error
}

// ChunksDBHandler handles chunk-related database operations.
// It also implements the vector index contract used by discovery,
// backed by the pgvector embedding column.
type ChunksDBHandler struct {
	db *helper.Database
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	chunksDbHandler := &ChunksDBHandler{
		db: db,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates the vector similarity index.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

func scanChunk(row interface{ Scan(...interface{}) error }, chunk *model.Chunk) error {
	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.DocumentRID,
		&chunk.ChunkIndex,
		&chunk.Content,
		&chunk.CharCount,
		&chunk.SectionTitle,
		&chunk.HeadingLevel,
		&chunk.Page,
		&chunk.Metadata,
		&chunk.CreatedAt,
	)
	return err
}

// InsertChunk inserts a chunk, replacing an existing chunk with the same
// (document_id, chunk_index) so replayed chunking tasks stay idempotent
func (h *ChunksDBHandler) InsertChunk(chunk *model.Chunk) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6, $7, $8)`,
		chunk.DocumentID,
		chunk.ChunkIndex,
		chunk.Content,
		chunk.CharCount,
		chunk.SectionTitle,
		chunk.HeadingLevel,
		chunk.Page,
		chunk.Metadata,
	)

	err := scanChunk(row, chunk)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// InsertChunks inserts all chunks in a single transaction
func (h *ChunksDBHandler) InsertChunks(chunks []*model.Chunk) error {
	tx, err := h.db.Instance.Begin()
	if err != nil {
		return helper.NewError("begin transaction", err)
	}
	defer tx.Rollback()

	for i, chunk := range chunks {
		row := tx.QueryRow(
			`SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6, $7, $8)`,
			chunk.DocumentID,
			chunk.ChunkIndex,
			chunk.Content,
			chunk.CharCount,
			chunk.SectionTitle,
			chunk.HeadingLevel,
			chunk.Page,
			chunk.Metadata,
		)

		err := scanChunk(row, chunk)
		if err != nil {
			return helper.NewError(fmt.Sprintf("insert chunk %d", i), err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return helper.NewError("commit transaction", err)
	}

	return nil
}

// SelectChunk retrieves a chunk by ID
func (h *ChunksDBHandler) SelectChunk(id int64) (*model.Chunk, error) {
	chunk := &model.Chunk{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	err := scanChunk(row, chunk)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves all chunks for a document ordered by chunk index
func (h *ChunksDBHandler) SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_chunks_by_document($1)`,
		documentRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		err := scanChunk(rows, chunk)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// CountChunksByDocument returns the number of chunks stored for a document
func (h *ChunksDBHandler) CountChunksByDocument(documentRID uuid.UUID) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(
		`SELECT count_chunks_by_document($1)`,
		documentRID,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}

	return count, nil
}

// SelectChunkEmbeddings retrieves id, index, section and embedding of all
// embedded chunks of a document, ordered by chunk index
func (h *ChunksDBHandler) SelectChunkEmbeddings(documentRID uuid.UUID) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_chunk_embeddings($1)`,
		documentRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{DocumentRID: documentRID}
		var embedding pgvector.Vector
		err := rows.Scan(
			&chunk.ID,
			&chunk.ChunkIndex,
			&chunk.SectionTitle,
			&embedding,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		chunk.Embedding = embedding.Slice()

		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// DeleteChunk deletes a chunk by ID
func (h *ChunksDBHandler) DeleteChunk(id int64) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_chunk($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteChunksByDocument deletes all chunks of a document
func (h *ChunksDBHandler) DeleteChunksByDocument(documentRID uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_chunks_by_document($1)`,
		documentRID,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
