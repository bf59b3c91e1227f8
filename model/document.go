package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType distinguishes binding norms from implementing guidelines
type DocumentType string

const (
	DocumentTypeNorm      DocumentType = "norm"
	DocumentTypeGuideline DocumentType = "guideline"
)

// Valid reports whether the document type is one of the known types
func (t DocumentType) Valid() bool {
	return t == DocumentTypeNorm || t == DocumentTypeGuideline
}

// DocumentStatus represents a document's position in the processing pipeline
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusExtracting DocumentStatus = "extracting"
	StatusAnalyzing  DocumentStatus = "analyzing"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// statusOrder defines the total order of the pipeline path.
// StatusError is deliberately absent, it sits outside the path.
var statusOrder = map[DocumentStatus]int{
	StatusUploading:  0,
	StatusProcessing: 1,
	StatusExtracting: 2,
	StatusAnalyzing:  3,
	StatusEmbedding:  4,
	StatusReady:      5,
}

// statusPath is the fixed pipeline path in order
var statusPath = []DocumentStatus{
	StatusUploading,
	StatusProcessing,
	StatusExtracting,
	StatusAnalyzing,
	StatusEmbedding,
	StatusReady,
}

// Valid reports whether the status is a known status
func (s DocumentStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok || s == StatusError
}

// Ordinal returns the position of the status on the pipeline path.
// StatusError returns -1 as it is not part of the path.
func (s DocumentStatus) Ordinal() int {
	if ord, ok := statusOrder[s]; ok {
		return ord
	}
	return -1
}

// Terminal reports whether a document in this status can never transition again
func (s DocumentStatus) Terminal() bool {
	return s == StatusError
}

// Next returns the next status on the pipeline path.
// The second return value is false for StatusReady and StatusError.
func (s DocumentStatus) Next() (DocumentStatus, bool) {
	ord, ok := statusOrder[s]
	if !ok || ord >= len(statusPath)-1 {
		return "", false
	}
	return statusPath[ord+1], true
}

// CanTransition reports whether the transition s -> to is allowed.
// A status may only advance to the single next status on the path,
// or shunt to StatusError from any non-terminal status.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if to == StatusError {
		return !s.Terminal()
	}
	next, ok := s.Next()
	return ok && next == to
}

// Progress returns a rough completion percentage for notification events
func (s DocumentStatus) Progress() int {
	ord, ok := statusOrder[s]
	if !ok {
		return 0
	}
	return ord * 100 / (len(statusPath) - 1)
}

// Document represents a regulatory or guideline source document
type Document struct {
	ID           int64          `json:"id"`
	RID          uuid.UUID      `json:"rid"`
	Title        string         `json:"title"`
	Source       string         `json:"source,omitempty"`
	Type         DocumentType   `json:"document_type"`
	Status       DocumentStatus `json:"status"`
	FileRef      string         `json:"file_ref,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     Metadata       `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EffectiveDate returns the date the document became effective.
// It prefers the "effective_date" metadata key (RFC 3339 or YYYY-MM-DD)
// and falls back to the creation timestamp.
func (d *Document) EffectiveDate() time.Time {
	if raw, ok := d.Metadata["effective_date"]; ok {
		if s, ok := raw.(string); ok {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				return ts
			}
			if ts, err := time.Parse("2006-01-02", s); err == nil {
				return ts
			}
		}
	}
	return d.CreatedAt
}

// NewerThan reports whether this document is newer than other,
// comparing effective dates
func (d *Document) NewerThan(other *Document) bool {
	return d.EffectiveDate().After(other.EffectiveDate())
}
