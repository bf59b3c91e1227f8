package model

import "github.com/google/uuid"

// TaskName identifies a pipeline step delivered through the task queue
type TaskName string

const (
	TaskExtract  TaskName = "extract"
	TaskChunk    TaskName = "chunk"
	TaskEmbed    TaskName = "embed"
	TaskDiscover TaskName = "discover"
)

// Task is the task queue message schema. Delivery is at-least-once,
// handlers must be idempotent.
type Task struct {
	Name        TaskName  `json:"task_name"`
	DocumentRID uuid.UUID `json:"document_id,omitempty"`
	RequestRID  uuid.UUID `json:"relationship_request_id,omitempty"`
	Attempt     int       `json:"attempt_count"`
}

// ProgressEvent is the notification channel message schema.
// Delivery is best-effort, dropped events only affect UI freshness.
type ProgressEvent struct {
	DocumentRID uuid.UUID      `json:"document_id"`
	Status      DocumentStatus `json:"status"`
	Progress    int            `json:"progress_percent,omitempty"`
	Message     string         `json:"message,omitempty"`
}
