package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// RelationshipType represents the type of discovered connection between documents
type RelationshipType string

const (
	RelationshipCompliance RelationshipType = "compliance"
	RelationshipConflict   RelationshipType = "conflict"
	RelationshipReference  RelationshipType = "reference"
	RelationshipSimilar    RelationshipType = "similar"
	RelationshipSupersedes RelationshipType = "supersedes"
)

// Valid reports whether the relationship type is one of the known types
func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipCompliance, RelationshipConflict, RelationshipReference,
		RelationshipSimilar, RelationshipSupersedes:
		return true
	}
	return false
}

// ValidationStatus represents the human review state of a relationship
type ValidationStatus string

const (
	ValidationAutoDetected  ValidationStatus = "auto_detected"
	ValidationPendingReview ValidationStatus = "pending_review"
	ValidationApproved      ValidationStatus = "approved"
	ValidationRejected      ValidationStatus = "rejected"
)

// Validated reports whether a human decision has been recorded.
// Validated relationships are immutable to rediscovery.
func (s ValidationStatus) Validated() bool {
	return s == ValidationApproved || s == ValidationRejected
}

// CanTransition reports whether the validation transition s -> to is allowed
func (s ValidationStatus) CanTransition(to ValidationStatus) bool {
	switch s {
	case ValidationAutoDetected:
		return to == ValidationPendingReview
	case ValidationPendingReview:
		return to == ValidationApproved || to == ValidationRejected
	}
	return false
}

// PairStats summarizes the chunk-level matches between a document pair
type PairStats struct {
	MatchCount    int     `json:"match_count"`
	AvgSimilarity float64 `json:"avg_similarity"`
	MinSimilarity float64 `json:"min_similarity"`
	MaxSimilarity float64 `json:"max_similarity"`
}

// ChunkMatch is a matched chunk pair kept as evidence in the detail payload
type ChunkMatch struct {
	SourceChunkID    int64   `json:"source_chunk_id"`
	SourceChunkIndex int     `json:"source_chunk_index"`
	SourceSection    string  `json:"source_section,omitempty"`
	TargetChunkID    int64   `json:"target_chunk_id"`
	TargetChunkIndex int     `json:"target_chunk_index"`
	TargetSection    string  `json:"target_section,omitempty"`
	Similarity       float64 `json:"similarity"`
}

// RelationshipDetail is the structured JSONB payload of a relationship
type RelationshipDetail struct {
	Stats   PairStats    `json:"stats"`
	Matches []ChunkMatch `json:"matches,omitempty"`
}

// Value implements the driver.Valuer interface for database storage
func (d RelationshipDetail) Value() (driver.Value, error) {
	return jsonbValue(d)
}

// Scan implements the sql.Scanner interface for database retrieval
func (d *RelationshipDetail) Scan(value interface{}) error {
	*d = RelationshipDetail{}
	return jsonbScan(value, d)
}

// Relationship represents a discovered, typed connection between an ordered
// pair of documents, subject to human validation.
// (source_document_rid, target_document_rid, relationship_type) is unique.
type Relationship struct {
	ID                int64              `json:"id"`
	RID               uuid.UUID          `json:"rid"`
	SourceDocumentRID uuid.UUID          `json:"source_document_rid"`
	TargetDocumentRID uuid.UUID          `json:"target_document_rid"`
	Type              RelationshipType   `json:"relationship_type"`
	Confidence        float64            `json:"confidence"`
	Summary           string             `json:"summary,omitempty"`
	Detail            RelationshipDetail `json:"detail"`
	ValidationStatus  ValidationStatus   `json:"validation_status"`
	ValidatedBy       string             `json:"validated_by,omitempty"`
	ValidationNotes   string             `json:"validation_notes,omitempty"`
	ValidatedAt       *time.Time         `json:"validated_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
