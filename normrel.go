package normrel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/core/discovery"
	"github.com/mkallweit/normrel/core/lifecycle"
	"github.com/mkallweit/normrel/core/pipeline"
	"github.com/mkallweit/normrel/core/review"
	"github.com/mkallweit/normrel/database"
	"github.com/mkallweit/normrel/extract"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	loadSql "github.com/mkallweit/normrel/sql"
	"github.com/mkallweit/normrel/storage"
	"github.com/mkallweit/normrel/worker"
)

// Normrel provides a unified interface to the document pipeline,
// relationship discovery and the validation workflow
type Normrel struct {
	DB            *helper.Database
	Documents     *database.DocumentsDBHandler
	Chunks        *database.ChunksDBHandler
	Relationships *database.RelationshipsDBHandler
	Storage       storage.Storage
	Review        *review.Workflow

	config     *model.Config
	controller *lifecycle.Controller
	aggregator *discovery.Aggregator
	extractor  extract.Extractor
	embed      lifecycle.EmbedFunc
	queue      *worker.Queue
	runner     *worker.Runner
	notifier   *worker.Notifier
	cancel     context.CancelFunc
	// Logging
	log *slog.Logger
}

// NewNormrel creates a new Normrel instance with all handlers initialized.
// storageRoot is the directory for uploaded files and extraction results.
// A nil config uses the documented defaults. Call Start before uploading
// documents, the pipeline workers do not run until then.
func NewNormrel(dbConfig *helper.DatabaseConfiguration, storageRoot string, config *model.Config) (*Normrel, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	if config == nil {
		config = model.DefaultConfig()
	}

	// Initialize database
	db := helper.NewDatabase("normrel", dbConfig, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers in the correct order (documents first, then the
	// tables referencing them). force=false to not reload existing functions.
	documents, err := database.NewDocumentsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	chunks, err := database.NewChunksDBHandler(db, config.Pipeline.EmbeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	relationships, err := database.NewRelationshipsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create relationships handler", err)
	}

	store, err := storage.NewFilesystem(storageRoot)
	if err != nil {
		return nil, helper.NewError("create file storage", err)
	}

	queue := worker.NewQueue(0)
	notifier := worker.NewNotifier(0, logger)
	controller := lifecycle.NewController(documents, queue, notifier, logger)
	aggregator := discovery.NewAggregator(chunks, chunks, documents, relationships, &config.Discovery, logger)

	runner, err := worker.NewRunner(queue, &config.Worker, logger)
	if err != nil {
		return nil, helper.NewError("create task runner", err)
	}

	n := &Normrel{
		DB:            db,
		Documents:     documents,
		Chunks:        chunks,
		Relationships: relationships,
		Storage:       store,
		Review:        review.NewWorkflow(relationships, logger),
		config:        config,
		controller:    controller,
		aggregator:    aggregator,
		extractor:     extract.NewPlaintextExtractor(),
		queue:         queue,
		runner:        runner,
		notifier:      notifier,
		log:           logger,
	}

	runner.OnExhausted(func(ctx context.Context, task model.Task, err error) {
		if task.DocumentRID == uuid.Nil {
			return
		}
		controller.Fail(ctx, task.DocumentRID, err)
	})

	return n, nil
}

// SetExtractor replaces the default plain text extractor
func (n *Normrel) SetExtractor(extractor extract.Extractor) {
	n.extractor = extractor
}

// SetEmbedder sets the embedding function used by the pipeline
func (n *Normrel) SetEmbedder(embed lifecycle.EmbedFunc) {
	n.embed = embed
}

// UseDefaultEmbedder sets up the default embedder with the configured
// model (all-MiniLM-L6-v2, 384 dimensions, unless overridden). The model
// is downloaded on first use and shared process-wide.
func (n *Normrel) UseDefaultEmbedder() error {
	embedder, err := pipeline.DefaultEmbedder(&n.config.Pipeline)
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	n.embed = lifecycle.EmbedFunc(embedder.EmbedFunc())
	return nil
}

// Start registers the pipeline step handlers and starts the workers.
// Without an explicitly set embedder the default one is loaded, which
// downloads the embedding model on first run.
func (n *Normrel) Start(ctx context.Context) error {
	if n.embed == nil {
		if err := n.UseDefaultEmbedder(); err != nil {
			return err
		}
	}

	chunker := pipeline.StructureChunker(
		n.config.Pipeline.ChunkTargetSize,
		n.config.Pipeline.ChunkOverlap,
		n.config.Pipeline.BoundaryTolerance,
	)

	steps := lifecycle.NewSteps(
		n.controller,
		n.Documents,
		n.Chunks,
		n.Chunks,
		n.Storage,
		n.extractor,
		adaptChunker(chunker),
		n.embed,
		n.aggregator,
		n.notifier,
		n.log,
	)
	steps.Register(n.runner)

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.runner.Start(runCtx)

	n.log.Info("Pipeline started",
		slog.Int("pool_size", n.config.Worker.PoolSize),
		slog.Int("embedding_dim", n.config.Pipeline.EmbeddingDim))
	return nil
}

// adaptChunker lifts pipeline chunk drafts into persistable chunks
func adaptChunker(chunker pipeline.ChunkFunc) lifecycle.ChunkFunc {
	return func(text string, markers []extract.Marker) ([]model.Chunk, error) {
		drafts, err := chunker(text, markers)
		if err != nil {
			return nil, err
		}

		chunks := make([]model.Chunk, len(drafts))
		for i, draft := range drafts {
			chunks[i] = model.Chunk{
				ChunkIndex:   draft.Index,
				Content:      draft.Content,
				CharCount:    draft.CharCount,
				SectionTitle: draft.SectionTitle,
				HeadingLevel: draft.HeadingLevel,
				Page:         draft.Page,
			}
		}
		return chunks, nil
	}
}

// UploadDocument stores the file, inserts the document and hands it to the
// asynchronous pipeline. The returned document is in status processing;
// subscribe to progress events or poll GetDocument to follow it.
func (n *Normrel) UploadDocument(ctx context.Context, title, source string, docType model.DocumentType, data []byte, metadata model.Metadata) (*model.Document, error) {
	if title == "" {
		return nil, helper.NewError("upload document", fmt.Errorf("title is empty"))
	}
	if len(data) == 0 {
		return nil, helper.NewError("upload document", fmt.Errorf("file is empty"))
	}

	ref, err := n.Storage.Upload(ctx, data)
	if err != nil {
		return nil, helper.NewError("store uploaded file", err)
	}

	doc := &model.Document{
		Title:    title,
		Source:   source,
		Type:     docType,
		FileRef:  ref,
		Metadata: metadata,
	}
	if err := n.Documents.InsertDocument(doc); err != nil {
		return nil, helper.NewError("insert document", err)
	}

	n.log.Info("Uploaded document",
		slog.String("document", doc.RID.String()),
		slog.String("title", doc.Title),
		slog.String("type", string(doc.Type)))

	updated, err := n.controller.Advance(ctx, doc.RID, model.StatusUploading, model.StatusProcessing, "queued for processing")
	if err != nil {
		return doc, err
	}
	return updated, nil
}

// GetDocument retrieves a document by RID
func (n *Normrel) GetDocument(ctx context.Context, rid uuid.UUID) (*model.Document, error) {
	return n.Documents.SelectDocument(rid)
}

// ListDocuments retrieves documents ordered by creation time, newest first
func (n *Normrel) ListDocuments(ctx context.Context, lastCreatedAt *time.Time, limit int) ([]*model.Document, error) {
	return n.Documents.SelectAllDocuments(lastCreatedAt, limit)
}

// DeleteDocument removes a document with its chunks and relationships and
// deletes its stored files. Storage deletion is best-effort, the database
// row is the source of truth.
func (n *Normrel) DeleteDocument(ctx context.Context, rid uuid.UUID) error {
	doc, err := n.Documents.SelectDocument(rid)
	if err != nil {
		return err
	}

	if err := n.Documents.DeleteDocument(rid); err != nil {
		return err
	}

	refs := []string{doc.FileRef}
	if extracted, ok := doc.Metadata[lifecycle.MetadataKeyExtractedRef].(string); ok {
		refs = append(refs, extracted)
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := n.Storage.Delete(ctx, ref); err != nil {
			n.log.Error("Failed to delete stored file",
				slog.String("document", rid.String()),
				slog.String("ref", ref),
				slog.String("error", err.Error()))
		}
	}

	n.log.Info("Deleted document", slog.String("document", rid.String()))
	return nil
}

// TriggerDiscovery re-runs relationship discovery for a ready document.
// Discovery runs automatically when a document reaches ready; this enqueues
// another pass, for example after new documents were added.
func (n *Normrel) TriggerDiscovery(ctx context.Context, rid uuid.UUID) error {
	doc, err := n.Documents.SelectDocument(rid)
	if err != nil {
		return err
	}
	if doc.Status != model.StatusReady {
		return helper.NewError("trigger discovery", fmt.Errorf("document %s is %s, not ready", rid, doc.Status))
	}

	return n.queue.Enqueue(model.Task{Name: model.TaskDiscover, DocumentRID: rid})
}

// Discover runs relationship discovery for a ready document synchronously
// and returns the newly created relationships. Pairs that already have a
// relationship of the same type are skipped.
func (n *Normrel) Discover(ctx context.Context, rid uuid.UUID) ([]*model.Relationship, error) {
	doc, err := n.Documents.SelectDocument(rid)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.StatusReady {
		return nil, helper.NewError("discover relationships", fmt.Errorf("document %s is %s, not ready", rid, doc.Status))
	}

	return n.aggregator.Discover(ctx, rid)
}

// Compare runs relationship discovery for the given ready documents with
// an optional similarity threshold override (0 keeps the configured one).
// Returns all relationships created across the runs.
func (n *Normrel) Compare(ctx context.Context, documentRIDs []uuid.UUID, threshold float64) ([]*model.Relationship, error) {
	if len(documentRIDs) == 0 {
		return nil, helper.NewError("compare documents", fmt.Errorf("no document ids given"))
	}

	aggregator := n.aggregator.WithThreshold(threshold)

	created := []*model.Relationship{}
	for _, rid := range documentRIDs {
		doc, err := n.Documents.SelectDocument(rid)
		if err != nil {
			return created, err
		}
		if doc.Status != model.StatusReady {
			return created, helper.NewError("compare documents", fmt.Errorf("document %s is %s, not ready", rid, doc.Status))
		}

		found, err := aggregator.Discover(ctx, rid)
		if err != nil {
			return created, err
		}
		created = append(created, found...)
	}
	return created, nil
}

// ValidateRelationship applies a reviewer decision (approved or rejected)
// to a pending relationship. Shorthand for the Review workflow.
func (n *Normrel) ValidateRelationship(ctx context.Context, rid uuid.UUID, decision model.ValidationStatus, validatedBy, notes string) (*model.Relationship, error) {
	switch decision {
	case model.ValidationApproved:
		return n.Review.Approve(ctx, rid, validatedBy, notes)
	case model.ValidationRejected:
		return n.Review.Reject(ctx, rid, validatedBy, notes)
	default:
		return nil, helper.NewError("validate relationship", fmt.Errorf("decision must be approved or rejected, got %q", decision))
	}
}

// PendingRelationships lists relationships awaiting review, oldest first
func (n *Normrel) PendingRelationships(ctx context.Context, limit int) ([]*model.Relationship, error) {
	return n.Review.Pending(ctx, limit)
}

// Subscribe returns a channel of progress events and a cancel function.
// Delivery is best-effort, a slow consumer misses events instead of
// blocking the pipeline.
func (n *Normrel) Subscribe() (<-chan model.ProgressEvent, func()) {
	return n.notifier.Subscribe()
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (n *Normrel) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return n.Chunks.ChangeIndexType(ctx, indexType, params)
}

// Close drains the task queue, stops the workers and closes the database
// connection. In-flight pipeline steps finish before Close returns.
func (n *Normrel) Close() error {
	if n.runner != nil {
		n.runner.Stop()
	}
	if n.cancel != nil {
		n.cancel()
	}
	if n.notifier != nil {
		n.notifier.Close()
	}
	if n.DB != nil && n.DB.Instance != nil {
		return n.DB.Instance.Close()
	}
	return nil
}
