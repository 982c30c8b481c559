package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/job/memjobstore"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/metric/memmetricstore"
	"github.com/lsst-sqre/squash-rest-api/go/now"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// recordingDispatcher captures enqueued tasks.
type recordingDispatcher struct {
	uploads   []*tasks.UploadPayload
	publishes []*tasks.PublishPayload
}

func (d *recordingDispatcher) EnqueueUpload(_ context.Context, payload *tasks.UploadPayload) (string, error) {
	d.uploads = append(d.uploads, payload)
	return "upload-task", nil
}

func (d *recordingDispatcher) EnqueuePublish(_ context.Context, payload *tasks.PublishPayload) (string, error) {
	d.publishes = append(d.publishes, payload)
	return "publish-task", nil
}

func (d *recordingDispatcher) Status(_ context.Context, taskID string) (*tasks.Status, error) {
	return &tasks.Status{TaskID: taskID, State: tasks.StatePending}, nil
}

func newMetricStore(t *testing.T, names ...string) metric.Store {
	store := memmetricstore.New()
	metrics := make([]metric.Metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, metric.Metric{Name: name, Unit: "mag"})
	}
	require.NoError(t, store.Insert(context.Background(), metrics))
	return store
}

func validRequest() *Request {
	return &Request{
		Measurements: []RequestMeasurement{
			{Metric: "demo.m1", Value: 5.0, Unit: "mag"},
		},
		Meta: map[string]interface{}{
			"env": map[string]interface{}{
				"env_name": "jenkins",
				"ci_id":    "42",
			},
			"packages": map[string]interface{}{
				"afw": map[string]interface{}{
					"name":    "afw",
					"git_sha": "abc123",
				},
			},
			"filter": "HSC-R",
		},
	}
}

func newService(t *testing.T) (*Service, *memjobstore.MemJobStore, *recordingDispatcher) {
	jobs := memjobstore.New(newMetricStore(t, "demo.m1"))
	dispatcher := &recordingDispatcher{}
	return New(jobs, dispatcher, false), jobs, dispatcher
}

func TestCreateJob_Success(t *testing.T) {
	service, jobs, dispatcher := newService(t)

	handle, err := service.CreateJob(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, "publish-task", handle.TaskID)

	j, err := jobs.Get(context.Background(), handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, "jenkins", j.Env["env_name"])
	assert.Len(t, j.Measurements, 1)
	assert.Equal(t, "demo.m1", j.Measurements[0].MetricName)
	assert.Len(t, j.Packages, 1)
	assert.Equal(t, "abc123", j.Packages[0].GitSHA)
	// env and packages are stripped from the stored metadata.
	assert.NotContains(t, j.Meta, "env")
	assert.NotContains(t, j.Meta, "packages")
	assert.Equal(t, "HSC-R", j.Meta["filter"])

	require.Len(t, dispatcher.publishes, 1)
	assert.Equal(t, handle.JobID, dispatcher.publishes[0].JobID)
}

func TestCreateJob_MissingMeta(t *testing.T) {
	service, _, _ := newService(t)
	req := validRequest()
	req.Meta = nil

	_, err := service.CreateJob(context.Background(), req)
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, inputErr.Message, "metadata")
}

func TestCreateJob_MissingEnvName(t *testing.T) {
	service, _, _ := newService(t)
	req := validRequest()
	req.Meta["env"] = map[string]interface{}{"ci_id": "42"}

	_, err := service.CreateJob(context.Background(), req)
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, inputErr.Message, "env_name")
}

func TestCreateJob_MissingPackages(t *testing.T) {
	service, _, _ := newService(t)
	req := validRequest()
	delete(req.Meta, "packages")

	_, err := service.CreateJob(context.Background(), req)
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Contains(t, inputErr.Message, "packages")
}

func TestCreateJob_UnknownMetric(t *testing.T) {
	service, _, dispatcher := newService(t)
	req := validRequest()
	req.Measurements[0].Metric = "demo.unknown"

	_, err := service.CreateJob(context.Background(), req)
	assert.True(t, job.IsMetricNotFound(err))
	assert.Empty(t, dispatcher.publishes)
}

func TestCreateJob_NaNCoercedToZero(t *testing.T) {
	service, jobs, _ := newService(t)
	req, err := DecodeRequest(strings.NewReader(`{
		"measurements": [{"metric": "demo.m1", "value": NaN, "unit": "mag"}],
		"meta": {"env": {"env_name": "jenkins"}, "packages": {}}
	}`))
	require.NoError(t, err)

	handle, err := service.CreateJob(context.Background(), req)
	require.NoError(t, err)

	j, err := jobs.Get(context.Background(), handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.Value(0), j.Measurements[0].Value)
}

func TestCreateJob_BlobsEnqueued(t *testing.T) {
	service, jobs, dispatcher := newService(t)
	req := validRequest()
	req.Blobs = []RequestBlob{
		{Identifier: "88c3f896", Name: "MatchedMultiVisitDataset", Data: []byte(`{"k": 1}`)},
	}
	req.Measurements[0].BlobRefs = []string{"88c3f896"}

	handle, err := service.CreateJob(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, dispatcher.uploads, 1)
	assert.Equal(t, "88c3f896", dispatcher.uploads[0].Identifier)

	j, err := jobs.Get(context.Background(), handle.JobID)
	require.NoError(t, err)
	require.Len(t, j.Measurements[0].Blobs, 1)
	assert.Equal(t, "88c3f896", j.Measurements[0].Blobs[0].Identifier)
}

func TestCreateJob_ETLModePreservesDate(t *testing.T) {
	jobs := memjobstore.New(newMetricStore(t, "demo.m1"))
	service := New(jobs, &recordingDispatcher{}, true)

	req := validRequest()
	req.Meta["env"].(map[string]interface{})["date"] = "2018-07-01T22:00:00Z"

	handle, err := service.CreateJob(context.Background(), req)
	require.NoError(t, err)

	j, err := jobs.Get(context.Background(), handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, time.July, 1, 22, 0, 0, 0, time.UTC), j.DateCreated)
}

func TestCreateJob_ServerAssignedDate(t *testing.T) {
	service, jobs, _ := newService(t)
	ts := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.WithValue(context.Background(), now.ContextKey, ts)

	handle, err := service.CreateJob(ctx, validRequest())
	require.NoError(t, err)

	j, err := jobs.Get(context.Background(), handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, ts, j.DateCreated)
}

func TestDecodeRequest_BareNaN(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"measurements": [{"metric": "demo.m1", "value": NaN}], "meta": {}}`))
	require.NoError(t, err)
	assert.False(t, req.Measurements[0].Value.IsRepresentable())
}

func TestDecodeRequest_ConsecutiveBareNaNs(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{
		"measurements": [
			{"metric": "demo.m1", "value": NaN},
			{"metric": "demo.m2", "value": NaN}
		],
		"meta": {"values": [NaN, NaN, NaN]}
	}`))
	require.NoError(t, err)
	assert.False(t, req.Measurements[0].Value.IsRepresentable())
	assert.False(t, req.Measurements[1].Value.IsRepresentable())
	assert.Equal(t, []interface{}{nil, nil, nil}, req.Meta["values"])
}

func TestDecodeRequest_NaNInsideStringUntouched(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"measurements": [], "meta": {"note": "NaN values happen"}}`))
	require.NoError(t, err)
	assert.Equal(t, "NaN values happen", req.Meta["note"])
}

func TestDecodeRequest_Invalid(t *testing.T) {
	_, err := DecodeRequest(strings.NewReader(`{`))
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}
