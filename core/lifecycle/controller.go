package lifecycle

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mkallweit/normrel/helper"
	"github.com/mkallweit/normrel/model"
)

// TaskQueue is where the controller enqueues downstream pipeline tasks
type TaskQueue interface {
	Enqueue(task model.Task) error
}

// EventSink receives best-effort progress events
type EventSink interface {
	Publish(event model.ProgressEvent)
}

// DocumentStore is the document persistence the controller depends on
type DocumentStore interface {
	SelectDocument(rid uuid.UUID) (*model.Document, error)
	UpdateDocumentStatus(rid uuid.UUID, from, to model.DocumentStatus, message string) (*model.Document, error)
	UpdateDocumentMetadataKey(rid uuid.UUID, key, value string) (*model.Document, error)
	MarkDocumentError(rid uuid.UUID, message string) (*model.Document, error)
}

// statusTasks maps each status to the one task enqueued on entering it.
// Statuses without an entry (uploading, extracting, error) have their work
// driven by the surrounding step.
var statusTasks = map[model.DocumentStatus]model.TaskName{
	model.StatusProcessing: model.TaskExtract,
	model.StatusAnalyzing:  model.TaskChunk,
	model.StatusEmbedding:  model.TaskEmbed,
	model.StatusReady:      model.TaskDiscover,
}

// Controller owns the document state machine. Every advance is a guarded
// single-step transition; duplicate or out-of-order task deliveries are
// rejected with InvalidTransitionError instead of blocking.
type Controller struct {
	documents DocumentStore
	queue     TaskQueue
	events    EventSink
	logger    *slog.Logger
}

// NewController creates a lifecycle controller
func NewController(documents DocumentStore, queue TaskQueue, events EventSink, logger *slog.Logger) *Controller {
	return &Controller{
		documents: documents,
		queue:     queue,
		events:    events,
		logger:    logger,
	}
}

// Advance moves a document one step along the pipeline. On success it
// publishes a progress event and enqueues the task for the new status.
func (c *Controller) Advance(ctx context.Context, rid uuid.UUID, from, to model.DocumentStatus, message string) (*model.Document, error) {
	doc, err := c.documents.UpdateDocumentStatus(rid, from, to, message)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Document advanced",
		slog.String("document", rid.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)))

	c.events.Publish(model.ProgressEvent{
		DocumentRID: rid,
		Status:      doc.Status,
		Progress:    doc.Status.Progress(),
		Message:     message,
	})

	if taskName, ok := statusTasks[doc.Status]; ok {
		err := c.queue.Enqueue(model.Task{Name: taskName, DocumentRID: rid})
		if err != nil {
			return doc, helper.NewError("enqueue task", err)
		}
	}

	return doc, nil
}

// Redispatch enqueues the task of the given status again. Step handlers
// use it when a retried delivery finds the document already advanced: the
// previous attempt may have advanced the status but lost the follow-up
// task to an enqueue failure, and replacing that task is harmless because
// every handler is idempotent.
func (c *Controller) Redispatch(ctx context.Context, rid uuid.UUID, status model.DocumentStatus) error {
	taskName, ok := statusTasks[status]
	if !ok {
		return nil
	}

	c.logger.Info("Redispatching task for already advanced document",
		slog.String("document", rid.String()),
		slog.String("status", string(status)),
		slog.String("task", string(taskName)))

	err := c.queue.Enqueue(model.Task{Name: taskName, DocumentRID: rid})
	if err != nil {
		return helper.NewError("enqueue task", err)
	}
	return nil
}

// Fail shunts a document into the error status, recording the cause. The
// pipeline halts for the document, there is no automatic recovery.
func (c *Controller) Fail(ctx context.Context, rid uuid.UUID, cause error) {
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}

	doc, err := c.documents.MarkDocumentError(rid, message)
	if err != nil {
		c.logger.Error("Failed to mark document as errored",
			slog.String("document", rid.String()),
			slog.String("cause", message),
			slog.String("error", err.Error()))
		return
	}

	c.logger.Error("Document failed",
		slog.String("document", rid.String()),
		slog.String("cause", message))

	c.events.Publish(model.ProgressEvent{
		DocumentRID: rid,
		Status:      doc.Status,
		Message:     message,
	})
}
