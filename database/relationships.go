package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	loadSql "github.com/mkallweit/normrel/sql"
)

// RelationshipsDBHandlerFunctions defines the interface for Relationships database operations.
type RelationshipsDBHandlerFunctions interface {
	InsertRelationship(rel *model.Relationship) (bool, error)
	SelectRelationship(rid uuid.UUID) (*model.Relationship, error)
	SelectRelationshipByTriple(source, target uuid.UUID, relType model.RelationshipType) (*model.Relationship, error)
	SelectRelationshipsByDocument(documentRID uuid.UUID) ([]*model.Relationship, error)
	SelectPendingRelationships(limit int) ([]*model.Relationship, error)
	ValidateRelationship(rid uuid.UUID, decision model.ValidationStatus, validatedBy, notes string) (*model.Relationship, error)
	DeleteRelationship(rid uuid.UUID) error
}

// RelationshipsDBHandler handles relationship-related database operations
type RelationshipsDBHandler struct {
	db *helper.Database
}

// NewRelationshipsDBHandler creates a new relationships database handler.
// It initializes the database connection and loads relationship-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewRelationshipsDBHandler(db *helper.Database, force bool) (*RelationshipsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationshipsDbHandler := &RelationshipsDBHandler{
		db: db,
	}

	err := loadSql.LoadRelationshipsSql(relationshipsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relationships sql", err)
	}

	err = relationshipsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationshipsDBHandler")

	return relationshipsDbHandler, nil
}

// CreateTable creates the 'relationships' table in the database.
// If the table already exists, it does not create it again.
func (h *RelationshipsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relationships();`)
	if err != nil {
		log.Panicf("error initializing relationships table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table relationships")

	return nil
}

func scanRelationship(row interface{ Scan(...interface{}) error }, rel *model.Relationship) error {
	return row.Scan(
		&rel.ID,
		&rel.RID,
		&rel.SourceDocumentRID,
		&rel.TargetDocumentRID,
		&rel.Type,
		&rel.Confidence,
		&rel.Summary,
		&rel.Detail,
		&rel.ValidationStatus,
		&rel.ValidatedBy,
		&rel.ValidationNotes,
		&rel.ValidatedAt,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
}

// InsertRelationship inserts a relationship in status 'pending_review'.
// It returns false without error when a relationship for the same
// (source, target, type) triple already exists, keeping rediscovery
// idempotent and validated rows untouched.
func (h *RelationshipsDBHandler) InsertRelationship(rel *model.Relationship) (bool, error) {
	if !rel.Type.Valid() {
		return false, helper.NewError("relationship type validation", fmt.Errorf("invalid relationship type %q", rel.Type))
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return false, helper.NewError("confidence validation", fmt.Errorf("confidence %f out of range [0,1]", rel.Confidence))
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_relationship($1, $2, $3, $4, $5, $6)`,
		rel.SourceDocumentRID,
		rel.TargetDocumentRID,
		rel.Type,
		rel.Confidence,
		rel.Summary,
		rel.Detail,
	)

	err := scanRelationship(row, rel)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict on the triple, the existing row wins
		return false, nil
	}
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return true, nil
}

// SelectRelationship retrieves a relationship by RID
func (h *RelationshipsDBHandler) SelectRelationship(rid uuid.UUID) (*model.Relationship, error) {
	rel := &model.Relationship{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_relationship($1)`,
		rid,
	)

	err := scanRelationship(row, rel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRelationshipNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return rel, nil
}

// SelectRelationshipByTriple retrieves the relationship for an ordered
// document pair and type, or model.ErrRelationshipNotFound
func (h *RelationshipsDBHandler) SelectRelationshipByTriple(source, target uuid.UUID, relType model.RelationshipType) (*model.Relationship, error) {
	rel := &model.Relationship{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_relationship_by_triple($1, $2, $3)`,
		source,
		target,
		relType,
	)

	err := scanRelationship(row, rel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRelationshipNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return rel, nil
}

// SelectRelationshipsByDocument retrieves all relationships a document
// participates in, as source or target
func (h *RelationshipsDBHandler) SelectRelationshipsByDocument(documentRID uuid.UUID) ([]*model.Relationship, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_relationships_by_document($1)`,
		documentRID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// SelectPendingRelationships retrieves relationships waiting for review,
// oldest first
func (h *RelationshipsDBHandler) SelectPendingRelationships(limit int) ([]*model.Relationship, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_pending_relationships($1)`,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// ValidateRelationship records a reviewer decision with a guarded update.
// Only pending_review rows can be validated; anything else fails with
// model.InvalidValidationTransitionError.
func (h *RelationshipsDBHandler) ValidateRelationship(rid uuid.UUID, decision model.ValidationStatus, validatedBy, notes string) (*model.Relationship, error) {
	if !model.ValidationPendingReview.CanTransition(decision) {
		return nil, &model.InvalidValidationTransitionError{RID: rid, From: model.ValidationPendingReview, To: decision}
	}
	if validatedBy == "" {
		return nil, helper.NewError("validator validation", fmt.Errorf("validator identity is required"))
	}

	rel := &model.Relationship{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM validate_relationship($1, $2, $3, $4)`,
		rid,
		decision,
		validatedBy,
		notes,
	)

	err := scanRelationship(row, rel)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the relationship is gone or it is not pending anymore
		current, selectErr := h.SelectRelationship(rid)
		if selectErr != nil {
			return nil, selectErr
		}
		return nil, &model.InvalidValidationTransitionError{RID: rid, From: current.ValidationStatus, To: decision}
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return rel, nil
}

// DeleteRelationship deletes a relationship by RID
func (h *RelationshipsDBHandler) DeleteRelationship(rid uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_relationship($1)`,
		rid,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func collectRelationships(rows *sql.Rows) ([]*model.Relationship, error) {
	var relationships []*model.Relationship
	for rows.Next() {
		rel := &model.Relationship{}
		err := scanRelationship(rows, rel)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		relationships = append(relationships, rel)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return relationships, nil
}
