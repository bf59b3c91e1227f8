package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelationship(source, target uuid.UUID, relType model.RelationshipType) *model.Relationship {
	return &model.Relationship{
		SourceDocumentRID: source,
		TargetDocumentRID: target,
		Type:              relType,
		Confidence:        0.85,
		Summary:           "strong chunk-level overlap",
		Detail: model.RelationshipDetail{
			Stats: model.PairStats{
				MatchCount:    3,
				AvgSimilarity: 0.85,
				MinSimilarity: 0.8,
				MaxSimilarity: 0.9,
			},
		},
	}
}

func TestRelationshipsNewRelationshipsDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewRelationshipsDBHandler", func(t *testing.T) {
		relationshipsDbHandler, err := NewRelationshipsDBHandler(database, true)
		assert.NoError(t, err, "Expected NewRelationshipsDBHandler to not return an error")
		require.NotNil(t, relationshipsDbHandler, "Expected NewRelationshipsDBHandler to return a non-nil instance")
		require.NotNil(t, relationshipsDbHandler.db, "Expected NewRelationshipsDBHandler to have a non-nil database instance")
	})

	t.Run("Invalid call NewRelationshipsDBHandler with nil database", func(t *testing.T) {
		_, err := NewRelationshipsDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating RelationshipsDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestRelationshipsInsert(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	relationshipsDbHandler, err := NewRelationshipsDBHandler(database, true)
	require.NoError(t, err)

	norm := newTestDocument(t, documentsDbHandler, "DIN 4109", model.DocumentTypeNorm)
	guideline := newTestDocument(t, documentsDbHandler, "VDI 4100", model.DocumentTypeGuideline)

	t.Run("Insert relationship", func(t *testing.T) {
		rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipCompliance)

		inserted, err := relationshipsDbHandler.InsertRelationship(rel)
		assert.NoError(t, err, "Expected InsertRelationship to not return an error")
		assert.True(t, inserted, "Expected a new relationship to be inserted")
		assert.NotEmpty(t, rel.RID, "Expected inserted relationship to have a RID")
		assert.Equal(t, model.ValidationPendingReview, rel.ValidationStatus, "Expected relationship to await review")
		assert.Nil(t, rel.ValidatedAt, "Expected no validation timestamp yet")
		assert.Equal(t, 3, rel.Detail.Stats.MatchCount, "Expected detail payload to round-trip")
	})

	t.Run("Insert duplicate triple is a no-op", func(t *testing.T) {
		duplicate := newTestRelationship(norm.RID, guideline.RID, model.RelationshipCompliance)
		duplicate.Confidence = 0.99

		inserted, err := relationshipsDbHandler.InsertRelationship(duplicate)
		assert.NoError(t, err, "Expected duplicate insert to not return an error")
		assert.False(t, inserted, "Expected duplicate triple to leave the existing row untouched")

		existing, err := relationshipsDbHandler.SelectRelationshipByTriple(norm.RID, guideline.RID, model.RelationshipCompliance)
		require.NoError(t, err)
		assert.Equal(t, 0.85, existing.Confidence, "Expected the first confidence to survive rediscovery")
	})

	t.Run("Insert with different type is a new relationship", func(t *testing.T) {
		rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipReference)

		inserted, err := relationshipsDbHandler.InsertRelationship(rel)
		assert.NoError(t, err)
		assert.True(t, inserted, "Expected a different type to create a second relationship")
	})

	t.Run("Insert with invalid type", func(t *testing.T) {
		rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipType("mentions"))

		_, err := relationshipsDbHandler.InsertRelationship(rel)
		assert.Error(t, err, "Expected error for invalid relationship type")
	})

	t.Run("Insert with out of range confidence", func(t *testing.T) {
		rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipSimilar)
		rel.Confidence = 1.2

		_, err := relationshipsDbHandler.InsertRelationship(rel)
		assert.Error(t, err, "Expected error for confidence above 1")
	})
}

func TestRelationshipsSelect(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	relationshipsDbHandler, err := NewRelationshipsDBHandler(database, true)
	require.NoError(t, err)

	normA := newTestDocument(t, documentsDbHandler, "Norm A", model.DocumentTypeNorm)
	normB := newTestDocument(t, documentsDbHandler, "Norm B", model.DocumentTypeNorm)
	guideline := newTestDocument(t, documentsDbHandler, "Guideline", model.DocumentTypeGuideline)

	relAB := newTestRelationship(normA.RID, normB.RID, model.RelationshipSimilar)
	_, err = relationshipsDbHandler.InsertRelationship(relAB)
	require.NoError(t, err)
	relAG := newTestRelationship(normA.RID, guideline.RID, model.RelationshipCompliance)
	_, err = relationshipsDbHandler.InsertRelationship(relAG)
	require.NoError(t, err)

	t.Run("Select by RID", func(t *testing.T) {
		selected, err := relationshipsDbHandler.SelectRelationship(relAB.RID)
		assert.NoError(t, err)
		assert.Equal(t, relAB.RID, selected.RID)
		assert.Equal(t, model.RelationshipSimilar, selected.Type)
	})

	t.Run("Select missing RID", func(t *testing.T) {
		_, err := relationshipsDbHandler.SelectRelationship(uuid.New())
		assert.ErrorIs(t, err, model.ErrRelationshipNotFound, "Expected ErrRelationshipNotFound for unknown RID")
	})

	t.Run("Select by document includes source and target roles", func(t *testing.T) {
		forA, err := relationshipsDbHandler.SelectRelationshipsByDocument(normA.RID)
		assert.NoError(t, err)
		assert.Len(t, forA, 2, "Expected both relationships of document A")

		forB, err := relationshipsDbHandler.SelectRelationshipsByDocument(normB.RID)
		assert.NoError(t, err)
		assert.Len(t, forB, 1, "Expected one relationship where B is the target")
	})

	t.Run("Select pending", func(t *testing.T) {
		pending, err := relationshipsDbHandler.SelectPendingRelationships(10)
		assert.NoError(t, err)
		assert.Len(t, pending, 2, "Expected both relationships to be pending")
	})
}

func TestRelationshipsValidate(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	relationshipsDbHandler, err := NewRelationshipsDBHandler(database, true)
	require.NoError(t, err)

	norm := newTestDocument(t, documentsDbHandler, "Validated Norm", model.DocumentTypeNorm)
	guideline := newTestDocument(t, documentsDbHandler, "Validated Guideline", model.DocumentTypeGuideline)

	rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipCompliance)
	_, err = relationshipsDbHandler.InsertRelationship(rel)
	require.NoError(t, err)

	t.Run("Approve pending relationship", func(t *testing.T) {
		validated, err := relationshipsDbHandler.ValidateRelationship(rel.RID, model.ValidationApproved, "reviewer@example.com", "checked both sections")
		assert.NoError(t, err, "Expected validation to not return an error")
		assert.Equal(t, model.ValidationApproved, validated.ValidationStatus)
		assert.Equal(t, "reviewer@example.com", validated.ValidatedBy)
		assert.Equal(t, "checked both sections", validated.ValidationNotes)
		require.NotNil(t, validated.ValidatedAt, "Expected validation timestamp to be set")
		assert.WithinDuration(t, *validated.ValidatedAt, time.Now(), 2*time.Second)
	})

	t.Run("Validated relationship is immutable", func(t *testing.T) {
		_, err := relationshipsDbHandler.ValidateRelationship(rel.RID, model.ValidationRejected, "reviewer@example.com", "")
		assert.Error(t, err, "Expected second validation to fail")
		var transitionErr *model.InvalidValidationTransitionError
		require.ErrorAs(t, err, &transitionErr, "Expected InvalidValidationTransitionError")
		assert.Equal(t, model.ValidationApproved, transitionErr.From, "Expected error to carry the current status")
	})

	t.Run("Reject needs a valid decision", func(t *testing.T) {
		_, err := relationshipsDbHandler.ValidateRelationship(rel.RID, model.ValidationPendingReview, "reviewer@example.com", "")
		assert.Error(t, err, "Expected pending_review to be rejected as a decision")
	})

	t.Run("Validate requires a validator", func(t *testing.T) {
		_, err := relationshipsDbHandler.ValidateRelationship(rel.RID, model.ValidationRejected, "", "")
		assert.Error(t, err, "Expected missing validator identity to fail")
	})

	t.Run("Validate missing relationship", func(t *testing.T) {
		_, err := relationshipsDbHandler.ValidateRelationship(uuid.New(), model.ValidationApproved, "reviewer@example.com", "")
		assert.ErrorIs(t, err, model.ErrRelationshipNotFound, "Expected ErrRelationshipNotFound for unknown RID")
	})
}

func TestRelationshipsDelete(t *testing.T) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)
	relationshipsDbHandler, err := NewRelationshipsDBHandler(database, true)
	require.NoError(t, err)

	norm := newTestDocument(t, documentsDbHandler, "Cascade Norm", model.DocumentTypeNorm)
	guideline := newTestDocument(t, documentsDbHandler, "Cascade Guideline", model.DocumentTypeGuideline)

	rel := newTestRelationship(norm.RID, guideline.RID, model.RelationshipCompliance)
	_, err = relationshipsDbHandler.InsertRelationship(rel)
	require.NoError(t, err)

	t.Run("Delete relationship", func(t *testing.T) {
		err := relationshipsDbHandler.DeleteRelationship(rel.RID)
		assert.NoError(t, err)

		_, err = relationshipsDbHandler.SelectRelationship(rel.RID)
		assert.ErrorIs(t, err, model.ErrRelationshipNotFound)
	})

	t.Run("Deleting a document cascades", func(t *testing.T) {
		cascading := newTestRelationship(norm.RID, guideline.RID, model.RelationshipSimilar)
		_, err := relationshipsDbHandler.InsertRelationship(cascading)
		require.NoError(t, err)

		err = documentsDbHandler.DeleteDocument(norm.RID)
		require.NoError(t, err)

		_, err = relationshipsDbHandler.SelectRelationship(cascading.RID)
		assert.ErrorIs(t, err, model.ErrRelationshipNotFound, "Expected relationship to be removed with its document")
	})
}
