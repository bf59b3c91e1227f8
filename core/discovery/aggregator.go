package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
)

// Aggregator runs cross-document similarity discovery: it searches the
// vector index for every embedded chunk of a source document, groups the
// matches by target document and turns each group into a classified
// relationship candidate.
type Aggregator struct {
	index         VectorIndex
	chunks        ChunkSource
	documents     DocumentSource
	relationships RelationshipSink
	config        *model.DiscoveryConfig
	logger        *slog.Logger
}

// NewAggregator creates a relationship discovery aggregator
func NewAggregator(index VectorIndex, chunks ChunkSource, documents DocumentSource, relationships RelationshipSink, config *model.DiscoveryConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		index:         index,
		chunks:        chunks,
		documents:     documents,
		relationships: relationships,
		config:        config,
		logger:        logger,
	}
}

// WithThreshold returns a copy of the aggregator using the given
// similarity threshold. A threshold of 0 or less keeps the configured one.
func (a *Aggregator) WithThreshold(threshold float64) *Aggregator {
	if threshold <= 0 {
		return a
	}

	config := *a.config
	config.SimilarityThreshold = threshold
	copied := *a
	copied.config = &config
	return &copied
}

// Discover finds and persists relationships between the given document and
// all other ready documents. Already-known (source, target, type) triples
// are skipped, so re-running discovery over an unchanged corpus is a no-op.
// Returns the relationships created by this run.
func (a *Aggregator) Discover(ctx context.Context, documentRID uuid.UUID) ([]*model.Relationship, error) {
	source, err := a.documents.SelectDocument(documentRID)
	if err != nil {
		return nil, err
	}

	chunks, err := a.chunks.SelectChunkEmbeddings(documentRID)
	if err != nil {
		return nil, helper.NewError("select chunk embeddings", err)
	}
	if len(chunks) == 0 {
		a.logger.Info("No embedded chunks, skipping discovery", slog.String("document", documentRID.String()))
		return nil, nil
	}

	groups := map[uuid.UUID][]model.ChunkMatch{}
	for _, chunk := range chunks {
		matches, err := a.index.Search(ctx, chunk.Embedding, a.config.TopK, a.config.SimilarityThreshold, model.SearchFilter{
			ExcludeDocumentRID: documentRID,
			OnlyReady:          true,
		})
		if err != nil {
			return nil, err
		}

		for _, match := range matches {
			groups[match.DocumentRID] = append(groups[match.DocumentRID], model.ChunkMatch{
				SourceChunkID:    chunk.ID,
				SourceChunkIndex: chunk.ChunkIndex,
				SourceSection:    chunk.SectionTitle,
				TargetChunkID:    match.ChunkID,
				TargetChunkIndex: match.ChunkIndex,
				TargetSection:    match.SectionTitle,
				Similarity:       match.Similarity,
			})
		}
	}

	// Sorted target RIDs keep the run order deterministic
	targetRIDs := make([]uuid.UUID, 0, len(groups))
	for rid := range groups {
		targetRIDs = append(targetRIDs, rid)
	}
	sort.Slice(targetRIDs, func(i, j int) bool {
		return targetRIDs[i].String() < targetRIDs[j].String()
	})

	var created []*model.Relationship
	for _, targetRID := range targetRIDs {
		target, err := a.documents.SelectDocument(targetRID)
		if errors.Is(err, model.ErrDocumentNotFound) {
			// Target deleted mid-run, skip it
			continue
		}
		if err != nil {
			return nil, err
		}

		matches := groups[targetRID]
		stats := pairStats(matches)
		relType, confidence := Classify(source, target, stats, a.config)

		rel := &model.Relationship{
			SourceDocumentRID: documentRID,
			TargetDocumentRID: targetRID,
			Type:              relType,
			Confidence:        confidence,
			Summary:           SummaryFor(relType, source, target, stats),
			Detail: model.RelationshipDetail{
				Stats:   stats,
				Matches: representativeMatches(matches, a.config.MaxDetailMatches),
			},
		}

		inserted, err := a.relationships.InsertRelationship(rel)
		if err != nil {
			return nil, err
		}
		if !inserted {
			a.logger.Info("Relationship already known, skipping",
				slog.String("source", documentRID.String()),
				slog.String("target", targetRID.String()),
				slog.String("type", string(relType)))
			continue
		}

		created = append(created, rel)
	}

	a.logger.Info("Discovery finished",
		slog.String("document", documentRID.String()),
		slog.Int("candidates", len(groups)),
		slog.Int("created", len(created)))

	return created, nil
}

// pairStats computes the aggregate similarity statistics of a match group
func pairStats(matches []model.ChunkMatch) model.PairStats {
	stats := model.PairStats{
		MatchCount:    len(matches),
		MinSimilarity: 1,
	}
	if len(matches) == 0 {
		stats.MinSimilarity = 0
		return stats
	}

	sum := 0.0
	for _, match := range matches {
		sum += match.Similarity
		if match.Similarity < stats.MinSimilarity {
			stats.MinSimilarity = match.Similarity
		}
		if match.Similarity > stats.MaxSimilarity {
			stats.MaxSimilarity = match.Similarity
		}
	}
	stats.AvgSimilarity = sum / float64(len(matches))
	return stats
}

// representativeMatches returns the strongest matches of a group, capped
// and deterministically ordered by similarity, then chunk indices
func representativeMatches(matches []model.ChunkMatch, limit int) []model.ChunkMatch {
	sorted := make([]model.ChunkMatch, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Similarity != sorted[j].Similarity {
			return sorted[i].Similarity > sorted[j].Similarity
		}
		if sorted[i].SourceChunkIndex != sorted[j].SourceChunkIndex {
			return sorted[i].SourceChunkIndex < sorted[j].SourceChunkIndex
		}
		return sorted[i].TargetChunkIndex < sorted[j].TargetChunkIndex
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
