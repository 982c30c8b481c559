package tasks

import (
	"context"
	"encoding/json"

	"github.com/lsst-sqre/squash-rest-api/go/influxdb"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
	"github.com/lsst-sqre/squash-rest-api/go/transform"
)

// Sink is the subset of the time-series client the executor needs.
type Sink interface {
	WriteLines(ctx context.Context, lines []string) error
}

// Executor runs tasks pulled off the queue.
type Executor struct {
	jobStore    job.Store
	objects     objectstore.Client
	transformer *transform.Job
	sink        Sink
}

// NewExecutor returns a new Executor.
func NewExecutor(jobStore job.Store, objects objectstore.Client, transformer *transform.Job, sink Sink) *Executor {
	return &Executor{
		jobStore:    jobStore,
		objects:     objects,
		transformer: transformer,
		sink:        sink,
	}
}

// Execute runs a single task. The returned error becomes the FAILURE
// message in the task's status record.
func (e *Executor) Execute(ctx context.Context, env *Envelope) error {
	switch env.Kind {
	case KindUpload:
		var payload UploadPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return skerr.Wrapf(err, "Invalid upload payload for task %s", env.TaskID)
		}
		return e.upload(ctx, &payload)
	case KindPublish:
		var payload PublishPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return skerr.Wrapf(err, "Invalid publish payload for task %s", env.TaskID)
		}
		return e.publish(ctx, &payload)
	default:
		return skerr.Fmt("Unknown task kind %q", env.Kind)
	}
}

// UploadKey derives the deterministic storage key for a blob identifier.
func UploadKey(identifier string) string {
	return identifier
}

// upload writes the payload to object storage and records the resulting
// locator. Redelivery overwrites the same object, so repeated execution is
// safe.
func (e *Executor) upload(ctx context.Context, payload *UploadPayload) error {
	uri, err := e.objects.Put(ctx, UploadKey(payload.Identifier), payload.Data, payload.Metadata)
	if err != nil {
		return skerr.Wrapf(err, "Failed to upload %q", payload.Identifier)
	}
	if payload.JobID != 0 {
		// The payload is the job document itself.
		if err := e.jobStore.SetJobURI(ctx, payload.JobID, uri); err != nil {
			return skerr.Wrapf(err, "Uploaded job %d but failed to record its locator", payload.JobID)
		}
	} else {
		if err := e.jobStore.SetBlobURI(ctx, payload.Identifier, uri); err != nil {
			return skerr.Wrapf(err, "Uploaded %q but failed to record its locator", payload.Identifier)
		}
	}
	sklog.Infof("Uploaded %q to %s", payload.Identifier, uri)
	return nil
}

// publish loads the job, transforms it and writes the lines to the sink in
// one batch. Any line failing fails the whole task with the job id and the
// sink's answer in the message.
func (e *Executor) publish(ctx context.Context, payload *PublishPayload) error {
	j, err := e.jobStore.Get(ctx, payload.JobID)
	if err != nil {
		return skerr.Wrapf(err, "Failed to load job %d for publishing", payload.JobID)
	}
	lines, err := e.transformer.ToLines(ctx, j)
	if err != nil {
		return skerr.Wrapf(err, "Failed to transform job %d", payload.JobID)
	}
	if err := e.sink.WriteLines(ctx, lines); err != nil {
		return skerr.Wrapf(err, "Failed to publish %d lines for job %d", len(lines), payload.JobID)
	}
	sklog.Infof("Published %d lines for job %d", len(lines), payload.JobID)
	return nil
}

// Confirm the influxdb client satisfies Sink.
var _ Sink = (*influxdb.Client)(nil)
