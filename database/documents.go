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

// DocumentsDBHandlerFunctions defines the interface for Documents database operations.
type DocumentsDBHandlerFunctions interface {
	InsertDocument(doc *model.Document) error
	SelectDocument(rid uuid.UUID) (*model.Document, error)
	SelectAllDocuments(lastCreatedAt *time.Time, limit int) ([]*model.Document, error)
	SelectDocumentsByStatus(status model.DocumentStatus, limit int) ([]*model.Document, error)
	SelectReadyDocuments(excludeRID uuid.UUID) ([]*model.Document, error)
	UpdateDocumentStatus(rid uuid.UUID, from, to model.DocumentStatus, message string) (*model.Document, error)
	UpdateDocumentMetadataKey(rid uuid.UUID, key, value string) (*model.Document, error)
	MarkDocumentError(rid uuid.UUID, message string) (*model.Document, error)
	DeleteDocument(rid uuid.UUID) error
}

// DocumentsDBHandler handles document-related database operations
type DocumentsDBHandler struct {
	db *helper.Database
}

// NewDocumentsDBHandler creates a new documents database handler.
// It initializes the database connection and loads document-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewDocumentsDBHandler(db *helper.Database, force bool) (*DocumentsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	documentsDbHandler := &DocumentsDBHandler{
		db: db,
	}

	err := loadSql.LoadDocumentsSql(documentsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load documents sql", err)
	}

	err = documentsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized DocumentsDBHandler")

	return documentsDbHandler, nil
}

// CreateTable creates the 'documents' table in the database.
// If the table already exists, it does not create it again.
func (h *DocumentsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_documents();`)
	if err != nil {
		log.Panicf("error initializing documents table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table documents")

	return nil
}

func scanDocument(row interface{ Scan(...interface{}) error }, doc *model.Document) error {
	return row.Scan(
		&doc.ID,
		&doc.RID,
		&doc.Title,
		&doc.Source,
		&doc.Type,
		&doc.Status,
		&doc.FileRef,
		&doc.ErrorMessage,
		&doc.Metadata,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
}

// InsertDocument inserts a new document in status 'uploading'
func (h *DocumentsDBHandler) InsertDocument(doc *model.Document) error {
	if !doc.Type.Valid() {
		return helper.NewError("document type validation", fmt.Errorf("invalid document type %q", doc.Type))
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_document($1, $2, $3, $4, $5)`,
		doc.Title,
		doc.Source,
		doc.Type,
		doc.FileRef,
		doc.Metadata,
	)

	err := scanDocument(row, doc)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectDocument retrieves a document by RID
func (h *DocumentsDBHandler) SelectDocument(rid uuid.UUID) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_document($1)`,
		rid,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// SelectAllDocuments retrieves all documents with pagination
func (h *DocumentsDBHandler) SelectAllDocuments(lastCreatedAt *time.Time, limit int) ([]*model.Document, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_all_documents($1, $2)`,
		lastCreatedAt,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// SelectDocumentsByStatus retrieves documents in the given status
func (h *DocumentsDBHandler) SelectDocumentsByStatus(status model.DocumentStatus, limit int) ([]*model.Document, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_documents_by_status($1, $2)`,
		status,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// SelectReadyDocuments retrieves all documents in status 'ready',
// excluding the given RID. Pass uuid.Nil to not exclude any document.
func (h *DocumentsDBHandler) SelectReadyDocuments(excludeRID uuid.UUID) ([]*model.Document, error) {
	var exclude interface{}
	if excludeRID != uuid.Nil {
		exclude = excludeRID
	}

	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_ready_documents($1)`,
		exclude,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// UpdateDocumentStatus advances a document's status with a guarded
// compare-and-swap. It fails with model.InvalidTransitionError when the
// stored status does not match from, which rejects duplicate and
// out-of-order task delivery, and with model.ErrDocumentNotFound when the
// document was deleted in the meantime.
func (h *DocumentsDBHandler) UpdateDocumentStatus(rid uuid.UUID, from, to model.DocumentStatus, message string) (*model.Document, error) {
	if !from.CanTransition(to) {
		return nil, &model.InvalidTransitionError{RID: rid, From: from, To: to, Current: from}
	}

	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_document_status($1, $2, $3, $4)`,
		rid,
		from,
		to,
		message,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the document is gone or its status moved on
		current, selectErr := h.SelectDocument(rid)
		if selectErr != nil {
			return nil, selectErr
		}
		return nil, &model.InvalidTransitionError{RID: rid, From: from, To: to, Current: current.Status}
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// UpdateDocumentMetadataKey sets a single metadata key, e.g. the storage
// ref of the extracted text
func (h *DocumentsDBHandler) UpdateDocumentMetadataKey(rid uuid.UUID, key, value string) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_document_metadata_key($1, $2, $3)`,
		rid,
		key,
		value,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// MarkDocumentError shunts a document into status 'error' from any
// non-terminal status, recording the causing message
func (h *DocumentsDBHandler) MarkDocumentError(rid uuid.UUID, message string) (*model.Document, error) {
	doc := &model.Document{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_document_error($1, $2)`,
		rid,
		message,
	)

	err := scanDocument(row, doc)
	if errors.Is(err, sql.ErrNoRows) {
		// Document gone or already in error
		return h.SelectDocument(rid)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return doc, nil
}

// DeleteDocument deletes a document by RID, cascading to its chunks
// and relationships
func (h *DocumentsDBHandler) DeleteDocument(rid uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_document($1)`,
		rid,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func collectDocuments(rows *sql.Rows) ([]*model.Document, error) {
	var documents []*model.Document
	for rows.Next() {
		doc := &model.Document{}
		err := scanDocument(rows, doc)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		documents = append(documents, doc)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return documents, nil
}
