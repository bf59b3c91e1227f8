package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/extract"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
	"github.com/mkallweit/normrel/storage"
	"github.com/mkallweit/normrel/worker"
)

// MetadataKeyExtractedRef is the document metadata key holding the storage
// ref of the extracted text
const MetadataKeyExtractedRef = "extracted_ref"

// ChunkStore is the chunk persistence the pipeline steps depend on
type ChunkStore interface {
	InsertChunks(chunks []*model.Chunk) error
	SelectChunksByDocument(documentRID uuid.UUID) ([]*model.Chunk, error)
}

// VectorIndex is the index write contract of the embed step
type VectorIndex interface {
	Upsert(ctx context.Context, chunkID int64, embedding []float32) error
}

// Discoverer runs relationship discovery for one document
type Discoverer interface {
	Discover(ctx context.Context, documentRID uuid.UUID) ([]*model.Relationship, error)
}

// ChunkFunc splits extracted text into chunks, adapted from the pipeline
// package chunker
type ChunkFunc func(text string, markers []extract.Marker) ([]model.Chunk, error)

// EmbedFunc generates one embedding per input text
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Steps holds the pipeline step handlers the runner executes. Every
// handler is idempotent: it re-fetches the document so a concurrent
// delete aborts the step cleanly, redoes its work when a retried
// delivery finds the document still mid-step, and treats deliveries for
// documents that already moved on as no-ops (replacing the follow-up
// task when the document sits exactly one step ahead, in case the
// previous attempt lost it to an enqueue failure).
type Steps struct {
	controller *Controller
	documents  DocumentStore
	chunks     ChunkStore
	index      VectorIndex
	store      storage.Storage
	extractor  extract.Extractor
	chunker    ChunkFunc
	embed      EmbedFunc
	discoverer Discoverer
	events     EventSink
	logger     *slog.Logger
}

// NewSteps wires the pipeline step handlers
func NewSteps(
	controller *Controller,
	documents DocumentStore,
	chunks ChunkStore,
	index VectorIndex,
	store storage.Storage,
	extractor extract.Extractor,
	chunker ChunkFunc,
	embed EmbedFunc,
	discoverer Discoverer,
	events EventSink,
	logger *slog.Logger,
) *Steps {
	return &Steps{
		controller: controller,
		documents:  documents,
		chunks:     chunks,
		index:      index,
		store:      store,
		extractor:  extractor,
		chunker:    chunker,
		embed:      embed,
		discoverer: discoverer,
		events:     events,
		logger:     logger,
	}
}

// Register binds the step handlers to their task names
func (s *Steps) Register(runner *worker.Runner) {
	runner.Register(model.TaskExtract, s.HandleExtract)
	runner.Register(model.TaskChunk, s.HandleChunk)
	runner.Register(model.TaskEmbed, s.HandleEmbed)
	runner.Register(model.TaskDiscover, s.HandleDiscover)
}

// extractionPayload is the persisted result of the extract step
type extractionPayload struct {
	Text    string           `json:"text"`
	Markers []extract.Marker `json:"markers,omitempty"`
}

// HandleExtract downloads the uploaded file, extracts text and markers,
// stores the result and advances the document to analyzing
func (s *Steps) HandleExtract(ctx context.Context, task model.Task) error {
	doc, err := s.documents.SelectDocument(task.DocumentRID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return nil
	}
	if err != nil {
		return err
	}

	switch doc.Status {
	case model.StatusProcessing:
		_, err = s.controller.Advance(ctx, task.DocumentRID, model.StatusProcessing, model.StatusExtracting, "")
		if s.rejected(task, err) {
			return nil
		}
		if err != nil {
			return err
		}
	case model.StatusExtracting:
		// A previous attempt failed mid-step, redo the work
	case model.StatusAnalyzing:
		return s.controller.Redispatch(ctx, task.DocumentRID, doc.Status)
	default:
		s.logger.Info("Extract task for document past extraction, skipping",
			slog.String("document", task.DocumentRID.String()),
			slog.String("status", string(doc.Status)))
		return nil
	}

	data, err := s.store.Download(ctx, doc.FileRef)
	if errors.Is(err, storage.ErrNotFound) {
		return &model.ExtractionError{Reason: model.ExtractionCorruptFile, Err: fmt.Errorf("uploaded file %s is gone", doc.FileRef)}
	}
	if err != nil {
		return err
	}

	text, markers, err := s.extractor.Extract(ctx, data, extract.Hints{Filename: doc.Source})
	if err != nil {
		return err
	}

	payload, err := json.Marshal(extractionPayload{Text: text, Markers: markers})
	if err != nil {
		return helper.NewError("marshal extraction result", err)
	}
	ref, err := s.store.Upload(ctx, payload)
	if err != nil {
		return err
	}

	_, err = s.documents.UpdateDocumentMetadataKey(task.DocumentRID, MetadataKeyExtractedRef, ref)
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.controller.Advance(ctx, task.DocumentRID, model.StatusExtracting, model.StatusAnalyzing, "")
	if s.rejected(task, err) {
		return nil
	}
	return err
}

// HandleChunk splits the extracted text into chunks, persists them and
// advances the document to embedding. Chunk inserts are upserts on
// (document_id, chunk_index), so a replayed delivery rewrites the same
// rows instead of duplicating them.
func (s *Steps) HandleChunk(ctx context.Context, task model.Task) error {
	doc, err := s.documents.SelectDocument(task.DocumentRID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status != model.StatusAnalyzing {
		if doc.Status == model.StatusEmbedding {
			return s.controller.Redispatch(ctx, task.DocumentRID, doc.Status)
		}
		s.logger.Info("Chunk task for document not in analyzing, skipping",
			slog.String("document", task.DocumentRID.String()),
			slog.String("status", string(doc.Status)))
		return nil
	}

	ref, _ := doc.Metadata[MetadataKeyExtractedRef].(string)
	if ref == "" {
		return &model.ExtractionError{Reason: model.ExtractionCorruptFile, Err: fmt.Errorf("document has no extracted text")}
	}

	data, err := s.store.Download(ctx, ref)
	if err != nil {
		return err
	}
	payload := extractionPayload{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return helper.NewError("unmarshal extraction result", err)
	}

	chunks, err := s.chunker(payload.Text, payload.Markers)
	if err != nil {
		return err
	}

	inserts := make([]*model.Chunk, 0, len(chunks))
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		inserts = append(inserts, &chunks[i])
	}
	if err := s.chunks.InsertChunks(inserts); err != nil {
		return err
	}

	s.logger.Info("Document chunked",
		slog.String("document", task.DocumentRID.String()),
		slog.Int("chunks", len(inserts)))

	_, err = s.controller.Advance(ctx, task.DocumentRID, model.StatusAnalyzing, model.StatusEmbedding, "")
	if s.rejected(task, err) {
		return nil
	}
	return err
}

// HandleEmbed embeds all chunks of the document, writes the vectors to
// the index and advances the document to ready
func (s *Steps) HandleEmbed(ctx context.Context, task model.Task) error {
	doc, err := s.documents.SelectDocument(task.DocumentRID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Status != model.StatusEmbedding {
		if doc.Status == model.StatusReady {
			return s.controller.Redispatch(ctx, task.DocumentRID, doc.Status)
		}
		s.logger.Info("Embed task for document not in embedding, skipping",
			slog.String("document", task.DocumentRID.String()),
			slog.String("status", string(doc.Status)))
		return nil
	}

	chunks, err := s.chunks.SelectChunksByDocument(task.DocumentRID)
	if err != nil {
		return err
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}

		embeddings, err := s.embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(embeddings) != len(chunks) {
			return &model.EmbeddingError{Err: fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(embeddings), len(chunks))}
		}

		for i, chunk := range chunks {
			if err := s.index.Upsert(ctx, chunk.ID, embeddings[i]); err != nil {
				return err
			}
		}
	}

	_, err = s.controller.Advance(ctx, task.DocumentRID, model.StatusEmbedding, model.StatusReady, "")
	if s.rejected(task, err) {
		return nil
	}
	return err
}

// HandleDiscover runs relationship discovery for a ready document
func (s *Steps) HandleDiscover(ctx context.Context, task model.Task) error {
	created, err := s.discoverer.Discover(ctx, task.DocumentRID)
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return nil
	}
	if err != nil {
		return err
	}

	if len(created) > 0 {
		s.events.Publish(model.ProgressEvent{
			DocumentRID: task.DocumentRID,
			Status:      model.StatusReady,
			Progress:    model.StatusReady.Progress(),
			Message:     fmt.Sprintf("discovered %d relationship candidates", len(created)),
		})
	}
	return nil
}

// rejected reports whether an advance failed because the document already
// moved on, which makes the delivery a duplicate to be dropped
func (s *Steps) rejected(task model.Task, err error) bool {
	var transitionErr *model.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		s.logger.Info("Rejected stale task delivery",
			slog.String("task", string(task.Name)),
			slog.String("document", task.DocumentRID.String()),
			slog.String("current", string(transitionErr.Current)))
		return true
	}
	if errors.Is(err, model.ErrDocumentNotFound) {
		s.logDeleted(task)
		return true
	}
	return false
}

func (s *Steps) logDeleted(task model.Task) {
	s.logger.Info("Document deleted mid-pipeline, aborting step",
		slog.String("task", string(task.Name)),
		slog.String("document", task.DocumentRID.String()))
}
