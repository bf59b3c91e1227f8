package discovery

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	matchesByChunk map[int64][]*model.SimilarChunk
	searches       int
}

func (f *fakeIndex) Upsert(ctx context.Context, chunkID int64, embedding []float32) error {
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, topK int, threshold float64, filter model.SearchFilter) ([]*model.SimilarChunk, error) {
	f.searches++
	// the fake keys matches by the first embedding component
	return f.matchesByChunk[int64(embedding[0])], nil
}

type fakeStore struct {
	documents map[uuid.UUID]*model.Document
	chunks    map[uuid.UUID][]*model.Chunk
	inserted  []*model.Relationship
	existing  map[string]bool
}

func (f *fakeStore) SelectDocument(rid uuid.UUID) (*model.Document, error) {
	doc, ok := f.documents[rid]
	if !ok {
		return nil, model.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeStore) SelectChunkEmbeddings(documentRID uuid.UUID) ([]*model.Chunk, error) {
	return f.chunks[documentRID], nil
}

func (f *fakeStore) InsertRelationship(rel *model.Relationship) (bool, error) {
	key := rel.SourceDocumentRID.String() + "|" + rel.TargetDocumentRID.String() + "|" + string(rel.Type)
	if f.existing[key] {
		return false, nil
	}
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[key] = true
	f.inserted = append(f.inserted, rel)
	return true, nil
}

func testDoc(docType model.DocumentType, title string) *model.Document {
	return &model.Document{
		RID:       uuid.New(),
		Title:     title,
		Type:      docType,
		Status:    model.StatusReady,
		CreatedAt: time.Now(),
	}
}

func embeddedChunk(id int64, index int, section string) *model.Chunk {
	return &model.Chunk{
		ID:           id,
		ChunkIndex:   index,
		SectionTitle: section,
		Embedding:    []float32{float32(id), 0, 0},
	}
}

func discoveryLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAggregatorDiscover(t *testing.T) {
	config := classifierConfig()

	source := testDoc(model.DocumentTypeNorm, "Source Norm")
	guideline := testDoc(model.DocumentTypeGuideline, "Target Guideline")

	store := &fakeStore{
		documents: map[uuid.UUID]*model.Document{
			source.RID:    source,
			guideline.RID: guideline,
		},
		chunks: map[uuid.UUID][]*model.Chunk{
			source.RID: {embeddedChunk(1, 0, "Scope"), embeddedChunk(2, 1, "Safety")},
		},
		existing: map[string]bool{},
	}
	index := &fakeIndex{
		matchesByChunk: map[int64][]*model.SimilarChunk{
			1: {{ChunkID: 10, ChunkIndex: 0, DocumentRID: guideline.RID, DocumentType: model.DocumentTypeGuideline, Similarity: 0.9}},
			2: {{ChunkID: 11, ChunkIndex: 2, DocumentRID: guideline.RID, DocumentType: model.DocumentTypeGuideline, Similarity: 0.8}},
		},
	}

	aggregator := NewAggregator(index, store, store, store, config, discoveryLogger())

	created, err := aggregator.Discover(context.Background(), source.RID)
	require.NoError(t, err)
	require.Len(t, created, 1, "Expected one relationship for the single target document")

	rel := created[0]
	assert.Equal(t, source.RID, rel.SourceDocumentRID)
	assert.Equal(t, guideline.RID, rel.TargetDocumentRID)
	assert.Equal(t, model.RelationshipCompliance, rel.Type)
	assert.InDelta(t, 0.85, rel.Confidence, 1e-9, "Expected confidence to be the average similarity")
	assert.Equal(t, 2, rel.Detail.Stats.MatchCount)
	assert.InDelta(t, 0.8, rel.Detail.Stats.MinSimilarity, 1e-9)
	assert.InDelta(t, 0.9, rel.Detail.Stats.MaxSimilarity, 1e-9)
	require.Len(t, rel.Detail.Matches, 2)
	assert.Equal(t, 0.9, rel.Detail.Matches[0].Similarity, "Expected strongest match first")
	assert.NotEmpty(t, rel.Summary)
	assert.Equal(t, 2, index.searches, "Expected one search per embedded chunk")
}

func TestAggregatorDiscoverIdempotent(t *testing.T) {
	config := classifierConfig()

	source := testDoc(model.DocumentTypeNorm, "Source Norm")
	guideline := testDoc(model.DocumentTypeGuideline, "Target Guideline")

	store := &fakeStore{
		documents: map[uuid.UUID]*model.Document{source.RID: source, guideline.RID: guideline},
		chunks:    map[uuid.UUID][]*model.Chunk{source.RID: {embeddedChunk(1, 0, "")}},
		existing:  map[string]bool{},
	}
	index := &fakeIndex{
		matchesByChunk: map[int64][]*model.SimilarChunk{
			1: {{ChunkID: 10, DocumentRID: guideline.RID, DocumentType: model.DocumentTypeGuideline, Similarity: 0.9}},
		},
	}

	aggregator := NewAggregator(index, store, store, store, config, discoveryLogger())

	first, err := aggregator.Discover(context.Background(), source.RID)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := aggregator.Discover(context.Background(), source.RID)
	require.NoError(t, err)
	assert.Empty(t, second, "Expected rediscovery over an unchanged corpus to create nothing")
	assert.Len(t, store.inserted, 1)
}

func TestAggregatorDiscoverEdgeCases(t *testing.T) {
	config := classifierConfig()

	t.Run("Missing source document", func(t *testing.T) {
		store := &fakeStore{documents: map[uuid.UUID]*model.Document{}}
		aggregator := NewAggregator(&fakeIndex{}, store, store, store, config, discoveryLogger())

		_, err := aggregator.Discover(context.Background(), uuid.New())
		assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	})

	t.Run("No embedded chunks", func(t *testing.T) {
		source := testDoc(model.DocumentTypeNorm, "Empty Norm")
		store := &fakeStore{documents: map[uuid.UUID]*model.Document{source.RID: source}}
		aggregator := NewAggregator(&fakeIndex{}, store, store, store, config, discoveryLogger())

		created, err := aggregator.Discover(context.Background(), source.RID)
		assert.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("No matches above threshold", func(t *testing.T) {
		source := testDoc(model.DocumentTypeNorm, "Lonely Norm")
		store := &fakeStore{
			documents: map[uuid.UUID]*model.Document{source.RID: source},
			chunks:    map[uuid.UUID][]*model.Chunk{source.RID: {embeddedChunk(1, 0, "")}},
		}
		aggregator := NewAggregator(&fakeIndex{matchesByChunk: map[int64][]*model.SimilarChunk{}}, store, store, store, config, discoveryLogger())

		created, err := aggregator.Discover(context.Background(), source.RID)
		assert.NoError(t, err)
		assert.Empty(t, created, "Expected empty match groups to yield no candidates")
	})

	t.Run("Target deleted mid-run", func(t *testing.T) {
		source := testDoc(model.DocumentTypeNorm, "Source Norm")
		ghost := uuid.New()
		store := &fakeStore{
			documents: map[uuid.UUID]*model.Document{source.RID: source},
			chunks:    map[uuid.UUID][]*model.Chunk{source.RID: {embeddedChunk(1, 0, "")}},
			existing:  map[string]bool{},
		}
		index := &fakeIndex{
			matchesByChunk: map[int64][]*model.SimilarChunk{
				1: {{ChunkID: 10, DocumentRID: ghost, DocumentType: model.DocumentTypeNorm, Similarity: 0.9}},
			},
		}
		aggregator := NewAggregator(index, store, store, store, config, discoveryLogger())

		created, err := aggregator.Discover(context.Background(), source.RID)
		assert.NoError(t, err, "Expected a deleted target to be skipped, not fail the run")
		assert.Empty(t, created)
	})

	t.Run("Detail matches are capped", func(t *testing.T) {
		source := testDoc(model.DocumentTypeNorm, "Source Norm")
		target := testDoc(model.DocumentTypeNorm, "Target Norm")
		store := &fakeStore{
			documents: map[uuid.UUID]*model.Document{source.RID: source, target.RID: target},
			chunks:    map[uuid.UUID][]*model.Chunk{source.RID: {embeddedChunk(1, 0, "")}},
			existing:  map[string]bool{},
		}
		matches := make([]*model.SimilarChunk, 0, 8)
		for i := 0; i < 8; i++ {
			matches = append(matches, &model.SimilarChunk{
				ChunkID:      int64(10 + i),
				ChunkIndex:   i,
				DocumentRID:  target.RID,
				DocumentType: model.DocumentTypeNorm,
				Similarity:   0.95 - float64(i)*0.01,
			})
		}
		index := &fakeIndex{matchesByChunk: map[int64][]*model.SimilarChunk{1: matches}}
		aggregator := NewAggregator(index, store, store, store, config, discoveryLogger())

		created, err := aggregator.Discover(context.Background(), source.RID)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Equal(t, 8, created[0].Detail.Stats.MatchCount, "Expected stats over all matches")
		assert.Len(t, created[0].Detail.Matches, config.MaxDetailMatches, "Expected representative matches to be capped")
	})
}
