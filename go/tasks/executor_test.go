package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/job/memjobstore"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore/mem"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/transform"
)

// failingSink always rejects writes.
type failingSink struct{}

func (failingSink) WriteLines(_ context.Context, _ []string) error {
	return skerr.Fmt("connection refused")
}

// recordingSink captures written lines.
type recordingSink struct {
	lines []string
}

func (s *recordingSink) WriteLines(_ context.Context, lines []string) error {
	s.lines = append(s.lines, lines...)
	return nil
}

func createJob(t *testing.T, jobs job.Store) int64 {
	id, err := jobs.Create(context.Background(), &job.CreateRequest{
		EnvName:     "jenkins",
		Env:         map[string]interface{}{"env_name": "jenkins"},
		Meta:        map[string]interface{}{"filter": "HSC-R"},
		DateCreated: time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC),
		Measurements: []job.NewMeasurement{
			{MetricName: "demo.m1", Value: 5.0, Unit: "mag", BlobRefs: []string{"blob-1"}},
		},
		Blobs: []job.NewBlob{
			{Identifier: "blob-1", Name: "MatchedMultiVisitDataset"},
		},
	})
	require.NoError(t, err)
	return id
}

func envelope(t *testing.T, kind Kind, payload interface{}) *Envelope {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Envelope{TaskID: "task-1", Kind: kind, Payload: body}
}

func TestExecute_UploadSetsBlobURI(t *testing.T) {
	jobs := memjobstore.New(nil)
	jobID := createJob(t, jobs)
	objects := mem.New("squash-data")
	executor := NewExecutor(jobs, objects, transform.NewJob("https://api.example.com", nil), &recordingSink{})

	err := executor.Execute(context.Background(), envelope(t, KindUpload, &UploadPayload{
		Identifier: "blob-1",
		Name:       "MatchedMultiVisitDataset",
		Data:       []byte(`{"k": 1}`),
	}))
	require.NoError(t, err)

	j, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "mem://squash-data/blob-1", j.Measurements[0].Blobs[0].S3URI)

	data, err := objects.Get(context.Background(), "mem://squash-data/blob-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k": 1}`, string(data))
}

func TestExecute_UploadIsIdempotent(t *testing.T) {
	jobs := memjobstore.New(nil)
	createJob(t, jobs)
	objects := mem.New("squash-data")
	executor := NewExecutor(jobs, objects, transform.NewJob("https://api.example.com", nil), &recordingSink{})

	payload := &UploadPayload{Identifier: "blob-1", Name: "n", Data: []byte(`{"k": 2}`)}
	require.NoError(t, executor.Execute(context.Background(), envelope(t, KindUpload, payload)))
	require.NoError(t, executor.Execute(context.Background(), envelope(t, KindUpload, payload)))

	// Redelivery overwrites, it never duplicates.
	assert.Equal(t, 1, objects.Len())
}

func TestExecute_UploadJobDocument(t *testing.T) {
	jobs := memjobstore.New(nil)
	jobID := createJob(t, jobs)
	objects := mem.New("squash-data")
	executor := NewExecutor(jobs, objects, transform.NewJob("https://api.example.com", nil), &recordingSink{})

	err := executor.Execute(context.Background(), envelope(t, KindUpload, &UploadPayload{
		Identifier: "job-doc-1",
		Data:       []byte(`{"id": 1}`),
		JobID:      jobID,
	}))
	require.NoError(t, err)

	j, err := jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "mem://squash-data/job-doc-1", j.S3URI)
}

func TestExecute_PublishWritesLines(t *testing.T) {
	jobs := memjobstore.New(nil)
	jobID := createJob(t, jobs)
	sink := &recordingSink{}
	executor := NewExecutor(jobs, mem.New("squash-data"), transform.NewJob("https://api.example.com", nil), sink)

	err := executor.Execute(context.Background(), envelope(t, KindPublish, &PublishPayload{JobID: jobID}))
	require.NoError(t, err)

	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "demo,")
	assert.Contains(t, sink.lines[0], "m1=5.0")
}

func TestExecute_PublishUnknownJob(t *testing.T) {
	executor := NewExecutor(memjobstore.New(nil), mem.New("squash-data"), transform.NewJob("https://api.example.com", nil), &recordingSink{})

	err := executor.Execute(context.Background(), envelope(t, KindPublish, &PublishPayload{JobID: 404}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestExecute_PublishSinkFailure(t *testing.T) {
	jobs := memjobstore.New(nil)
	jobID := createJob(t, jobs)
	executor := NewExecutor(jobs, mem.New("squash-data"), transform.NewJob("https://api.example.com", nil), failingSink{})

	err := executor.Execute(context.Background(), envelope(t, KindPublish, &PublishPayload{JobID: jobID}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job 1")
}

func TestExecute_UnknownKind(t *testing.T) {
	executor := NewExecutor(memjobstore.New(nil), mem.New("squash-data"), transform.NewJob("https://api.example.com", nil), &recordingSink{})
	err := executor.Execute(context.Background(), &Envelope{TaskID: "t", Kind: Kind("bogus")})
	require.Error(t, err)
}
