package review

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/model"
)

// DefaultPendingLimit caps Pending listings when no limit is given
const DefaultPendingLimit = 100

// RelationshipStore is the relationship persistence the workflow depends on
type RelationshipStore interface {
	SelectRelationship(rid uuid.UUID) (*model.Relationship, error)
	SelectRelationshipsByDocument(documentRID uuid.UUID) ([]*model.Relationship, error)
	SelectPendingRelationships(limit int) ([]*model.Relationship, error)
	ValidateRelationship(rid uuid.UUID, decision model.ValidationStatus, validatedBy, notes string) (*model.Relationship, error)
}

// Workflow is the human validation workflow for discovered relationships.
// Every decision is a guarded single transition out of pending_review;
// validated relationships are immutable.
type Workflow struct {
	relationships RelationshipStore
	logger        *slog.Logger
}

// NewWorkflow creates a validation workflow
func NewWorkflow(relationships RelationshipStore, logger *slog.Logger) *Workflow {
	return &Workflow{
		relationships: relationships,
		logger:        logger,
	}
}

// Approve confirms a pending relationship. Returns
// InvalidValidationTransitionError if the relationship was already decided.
func (w *Workflow) Approve(ctx context.Context, rid uuid.UUID, validatedBy, notes string) (*model.Relationship, error) {
	return w.decide(ctx, rid, model.ValidationApproved, validatedBy, notes)
}

// Reject dismisses a pending relationship. The row is kept with its decision
// so the pair is not rediscovered as a fresh candidate.
func (w *Workflow) Reject(ctx context.Context, rid uuid.UUID, validatedBy, notes string) (*model.Relationship, error) {
	return w.decide(ctx, rid, model.ValidationRejected, validatedBy, notes)
}

func (w *Workflow) decide(ctx context.Context, rid uuid.UUID, decision model.ValidationStatus, validatedBy, notes string) (*model.Relationship, error) {
	rel, err := w.relationships.ValidateRelationship(rid, decision, validatedBy, notes)
	if err != nil {
		return nil, err
	}

	w.logger.Info("Relationship validated",
		slog.String("relationship", rid.String()),
		slog.String("decision", string(decision)),
		slog.String("validated_by", validatedBy))

	return rel, nil
}

// Get returns a single relationship by its RID
func (w *Workflow) Get(ctx context.Context, rid uuid.UUID) (*model.Relationship, error) {
	return w.relationships.SelectRelationship(rid)
}

// ForDocument returns all relationships a document participates in,
// as source or as target
func (w *Workflow) ForDocument(ctx context.Context, documentRID uuid.UUID) ([]*model.Relationship, error) {
	return w.relationships.SelectRelationshipsByDocument(documentRID)
}

// Pending returns the oldest relationships awaiting review, up to limit.
// A limit of 0 or less falls back to DefaultPendingLimit.
func (w *Workflow) Pending(ctx context.Context, limit int) ([]*model.Relationship, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return w.relationships.SelectPendingRelationships(limit)
}
