// Package tasks defines the background task queue used for blob uploads and
// time-series publishing.
//
// Tasks run asynchronously with at-least-once delivery, so every task must
// be safe to execute more than once. Task status is durable and queryable
// by the task id handed back at enqueue time.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Kind identifies what a task does.
type Kind string

const (
	// KindUpload writes a payload to object storage.
	KindUpload Kind = "upload"
	// KindPublish transforms a job and writes it to the time-series sink.
	KindPublish Kind = "publish"
)

// State is the lifecycle state of a task.
type State string

const (
	// StatePending means the task has not started yet.
	StatePending State = "PENDING"
	// StateStarted means a worker picked up the task.
	StateStarted State = "STARTED"
	// StateSuccess means the task completed.
	StateSuccess State = "SUCCESS"
	// StateFailure means the task failed; the status message says why.
	StateFailure State = "FAILURE"
)

// ErrTaskNotFound is returned by StatusStore lookups when no task matches.
var ErrTaskNotFound = errors.New("task not found")

// UploadPayload is the payload of a KindUpload task.
type UploadPayload struct {
	// Identifier is the client-supplied blob identifier; the storage key is
	// derived from it, so repeated deliveries overwrite the same object.
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	// Data is the payload bytes, base64 encoded on the wire.
	Data     []byte            `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
	// JobID is set when the payload is the job document itself rather than
	// a measurement blob; the job row's locator is updated instead.
	JobID int64 `json:"job_id,omitempty"`
}

// PublishPayload is the payload of a KindPublish task.
type PublishPayload struct {
	JobID int64 `json:"job_id"`
}

// Envelope is the wire format of a queued task.
type Envelope struct {
	TaskID  string          `json:"task_id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Status is the durable record of one task.
type Status struct {
	TaskID      string    `json:"task_id"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"status"`
	Message     string    `json:"message,omitempty"`
	DateCreated time.Time `json:"-"`
	DateUpdated time.Time `json:"-"`
}

// StatusStore persists task statuses.
type StatusStore interface {
	// Create records a new task in StatePending.
	Create(ctx context.Context, taskID string, kind Kind) error

	// SetState moves a task to the given state. The message is only
	// meaningful for StateFailure.
	SetState(ctx context.Context, taskID string, state State, message string) error

	// Get returns the status of the given task, or ErrTaskNotFound.
	Get(ctx context.Context, taskID string) (*Status, error)
}

// Dispatcher enqueues tasks and reports their status.
//
// Enqueue methods record a pending status before publishing, so the task id
// they return always resolves even if the worker has not seen the task yet.
type Dispatcher interface {
	// EnqueueUpload queues a blob upload and returns its task id.
	EnqueueUpload(ctx context.Context, payload *UploadPayload) (string, error)

	// EnqueuePublish queues a time-series publish and returns its task id.
	EnqueuePublish(ctx context.Context, payload *PublishPayload) (string, error)

	// Status returns the status of a previously enqueued task.
	Status(ctx context.Context, taskID string) (*Status, error)
}
