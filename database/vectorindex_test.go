package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advanceToReady(t *testing.T, documentsDbHandler *DocumentsDBHandler, doc *model.Document) {
	t.Helper()
	status := model.StatusUploading
	for {
		next, ok := status.Next()
		if !ok {
			break
		}
		_, err := documentsDbHandler.UpdateDocumentStatus(doc.RID, status, next, "")
		require.NoError(t, err)
		status = next
	}
}

func insertEmbeddedChunk(t *testing.T, chunksDbHandler *ChunksDBHandler, doc *model.Document, index int, embedding []float32) *model.Chunk {
	t.Helper()
	chunk := &model.Chunk{
		DocumentID: doc.ID,
		ChunkIndex: index,
		Content:    "chunk content",
		CharCount:  13,
	}
	err := chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)
	err = chunksDbHandler.Upsert(context.Background(), chunk.ID, embedding)
	require.NoError(t, err)
	return chunk
}

func TestVectorIndexUpsert(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	chunksDbHandler, err := NewChunksDBHandler(database, 3, true)
	require.NoError(t, err)

	doc := newTestDocument(t, documentsDbHandler, "Embedded Norm", model.DocumentTypeNorm)

	chunk := &model.Chunk{DocumentID: doc.ID, ChunkIndex: 0, Content: "text", CharCount: 4}
	err = chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)

	t.Run("Upsert embedding", func(t *testing.T) {
		err := chunksDbHandler.Upsert(context.Background(), chunk.ID, []float32{1, 0, 0})
		assert.NoError(t, err, "Expected Upsert to not return an error")

		embedded, err := chunksDbHandler.SelectChunkEmbeddings(doc.RID)
		assert.NoError(t, err)
		require.Len(t, embedded, 1, "Expected one embedded chunk")
		assert.Equal(t, []float32{1, 0, 0}, embedded[0].Embedding, "Expected stored embedding to round-trip")
	})

	t.Run("Upsert replaces the embedding", func(t *testing.T) {
		err := chunksDbHandler.Upsert(context.Background(), chunk.ID, []float32{0, 1, 0})
		assert.NoError(t, err)

		embedded, err := chunksDbHandler.SelectChunkEmbeddings(doc.RID)
		assert.NoError(t, err)
		require.Len(t, embedded, 1)
		assert.Equal(t, []float32{0, 1, 0}, embedded[0].Embedding)
	})

	t.Run("Upsert for missing chunk", func(t *testing.T) {
		err := chunksDbHandler.Upsert(context.Background(), 999999, []float32{1, 0, 0})
		assert.Error(t, err, "Expected Upsert for a missing chunk to fail")
	})
}

func TestVectorIndexSearch(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	chunksDbHandler, err := NewChunksDBHandler(database, 3, true)
	require.NoError(t, err)

	norm := newTestDocument(t, documentsDbHandler, "Search Norm", model.DocumentTypeNorm)
	guideline := newTestDocument(t, documentsDbHandler, "Search Guideline", model.DocumentTypeGuideline)
	pending := newTestDocument(t, documentsDbHandler, "Unprocessed Norm", model.DocumentTypeNorm)

	advanceToReady(t, documentsDbHandler, norm)
	advanceToReady(t, documentsDbHandler, guideline)

	insertEmbeddedChunk(t, chunksDbHandler, norm, 0, []float32{1, 0, 0})
	insertEmbeddedChunk(t, chunksDbHandler, guideline, 0, []float32{0.9, 0.1, 0})
	insertEmbeddedChunk(t, chunksDbHandler, pending, 0, []float32{1, 0, 0})

	query := []float32{1, 0, 0}

	t.Run("Search excludes the query document", func(t *testing.T) {
		results, err := chunksDbHandler.Search(context.Background(), query, 10, 0.5, model.SearchFilter{
			ExcludeDocumentRID: norm.RID,
		})
		assert.NoError(t, err, "Expected Search to not return an error")
		for _, result := range results {
			assert.NotEqual(t, norm.RID, result.DocumentRID, "Expected no self matches")
		}
	})

	t.Run("Search filters by document type", func(t *testing.T) {
		results, err := chunksDbHandler.Search(context.Background(), query, 10, 0.5, model.SearchFilter{
			ExcludeDocumentRID: norm.RID,
			DocumentType:       model.DocumentTypeGuideline,
		})
		assert.NoError(t, err)
		require.NotEmpty(t, results, "Expected at least one guideline match")
		for _, result := range results {
			assert.Equal(t, model.DocumentTypeGuideline, result.DocumentType)
		}
	})

	t.Run("Search only ready documents", func(t *testing.T) {
		results, err := chunksDbHandler.Search(context.Background(), query, 10, 0.5, model.SearchFilter{
			ExcludeDocumentRID: norm.RID,
			OnlyReady:          true,
		})
		assert.NoError(t, err)
		for _, result := range results {
			assert.NotEqual(t, pending.RID, result.DocumentRID, "Expected unprocessed documents to be filtered out")
		}
	})

	t.Run("Search respects the threshold", func(t *testing.T) {
		results, err := chunksDbHandler.Search(context.Background(), []float32{0, 0, 1}, 10, 0.9, model.SearchFilter{})
		assert.NoError(t, err)
		assert.Empty(t, results, "Expected no matches above an orthogonal threshold")
	})

	t.Run("Search orders by similarity", func(t *testing.T) {
		results, err := chunksDbHandler.Search(context.Background(), query, 10, 0.0, model.SearchFilter{
			ExcludeDocumentRID: uuid.Nil,
			OnlyReady:          true,
		})
		assert.NoError(t, err)
		require.GreaterOrEqual(t, len(results), 2, "Expected matches from both ready documents")
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity, "Expected descending similarity")
		}
	})
}

func TestChangeIndexType(t *testing.T) {
	database := initDB(t)

	chunksDbHandler, err := NewChunksDBHandler(database, 3, true)
	require.NoError(t, err)

	t.Run("Switch to ivfflat and back", func(t *testing.T) {
		err := chunksDbHandler.ChangeIndexType(context.Background(), "ivfflat", map[string]interface{}{"lists": 10})
		assert.NoError(t, err, "Expected switch to ivfflat to not return an error")

		err = chunksDbHandler.ChangeIndexType(context.Background(), "hnsw", nil)
		assert.NoError(t, err, "Expected switch back to hnsw to not return an error")
	})

	t.Run("Unsupported index type", func(t *testing.T) {
		err := chunksDbHandler.ChangeIndexType(context.Background(), "btree", nil)
		assert.Error(t, err, "Expected unsupported index type to fail")
	})
}
