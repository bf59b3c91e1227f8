package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors
var (
	// ErrDocumentNotFound indicates the referenced document does not exist,
	// typically because it was deleted while a pipeline step was in flight.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRelationshipNotFound indicates the referenced relationship does not exist.
	ErrRelationshipNotFound = errors.New("relationship not found")

	// ErrDuplicateRelationship indicates a relationship already exists for the
	// (source, target, type) triple. Discovery treats this as a no-op.
	ErrDuplicateRelationship = errors.New("relationship already exists for pair and type")
)

// InvalidTransitionError indicates a lifecycle advance was attempted with a
// stale from-status. It guards against duplicate or out-of-order task delivery
// and is never retried.
type InvalidTransitionError struct {
	RID     uuid.UUID
	From    DocumentStatus
	To      DocumentStatus
	Current DocumentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for document %s (current status %s)",
		e.From, e.To, e.RID, e.Current)
}

// InvalidValidationTransitionError indicates an approve/reject was attempted
// on a relationship that is not pending review. Never retried.
type InvalidValidationTransitionError struct {
	RID  uuid.UUID
	From ValidationStatus
	To   ValidationStatus
}

func (e *InvalidValidationTransitionError) Error() string {
	return fmt.Sprintf("invalid validation transition %s -> %s for relationship %s",
		e.From, e.To, e.RID)
}

// ExtractionReason categorizes why text extraction failed
type ExtractionReason string

const (
	ExtractionUnsupportedFormat ExtractionReason = "unsupported_format"
	ExtractionCorruptFile       ExtractionReason = "corrupt_file"
	ExtractionOCRFailure        ExtractionReason = "ocr_failure"
)

// ExtractionError indicates the extraction collaborator failed
type ExtractionError struct {
	Reason ExtractionReason
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// EmbeddingError indicates model load or inference failed. Retryable.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IndexError indicates the vector index rejected an upsert or search. Retryable.
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index error: %v", e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// Retryable reports whether an error is a transient infrastructure failure
// worth retrying. Business-rule violations and missing documents indicate a
// caller bug or a concurrent delete and are surfaced immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var transitionErr *InvalidTransitionError
	if errors.As(err, &transitionErr) {
		return false
	}
	var validationErr *InvalidValidationTransitionError
	if errors.As(err, &validationErr) {
		return false
	}
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return false
	}
	if errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrRelationshipNotFound) ||
		errors.Is(err, ErrDuplicateRelationship) {
		return false
	}

	return true
}
