package memjobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/metric/memmetricstore"
)

func jenkinsRun(ciID string, date time.Time) *job.CreateRequest {
	return &job.CreateRequest{
		EnvName: "jenkins",
		Env: map[string]interface{}{
			"env_name": "jenkins",
			"ci_id":    ciID,
			"ci_name":  "validate_drp",
		},
		Meta:        map[string]interface{}{},
		DateCreated: date,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	id, err := s.Create(ctx, &job.CreateRequest{
		EnvName:     "local",
		Env:         map[string]interface{}{"env_name": "local"},
		Meta:        map[string]interface{}{"filter": "HSC-R"},
		CiDataset:   "cfht",
		DateCreated: time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC),
		Measurements: []job.NewMeasurement{
			{MetricName: "demo.m1", Value: job.Value(5), Unit: "mag", BlobRefs: []string{"blob-1"}},
		},
		Blobs: []job.NewBlob{
			{Identifier: "blob-1", Name: "MatchedMultiVisitDataset"},
		},
	})
	require.NoError(t, err)

	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cfht", j.CiDataset)
	require.Len(t, j.Measurements, 1)
	require.Len(t, j.Measurements[0].Blobs, 1)
	assert.Equal(t, "blob-1", j.Measurements[0].Blobs[0].Identifier)
}

func TestCreate_FailureAfterJobRow_LeavesNoJob(t *testing.T) {
	metrics := memmetricstore.New()
	require.NoError(t, metrics.Insert(context.Background(), []metric.Metric{{Name: "demo.m1"}}))
	s := New(metrics)
	ctx := context.Background()

	// The second metric lookup fails after the job row and packages are
	// already written, so the whole create must roll back.
	req := jenkinsRun("42", time.Now())
	req.Packages = []job.Package{{Name: "afw", GitSHA: "abc123"}}
	req.Measurements = []job.NewMeasurement{
		{MetricName: "demo.m1", Value: job.Value(1)},
		{MetricName: "demo.unknown", Value: job.Value(2)},
	}
	_, err := s.Create(ctx, req)
	require.True(t, job.IsMetricNotFound(err))

	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	_, err = s.FindJenkinsRun(ctx, "42", "validate_drp")
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	// A later valid create succeeds and is visible.
	req.Measurements = req.Measurements[:1]
	id, err := s.Create(ctx, req)
	require.NoError(t, err)
	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, j.Measurements, 1)
}

func TestDelete(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	id, err := s.Create(ctx, jenkinsRun("42", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id))
	require.ErrorIs(t, s.Delete(ctx, id), job.ErrJobNotFound)
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestFindJenkinsRun_ReturnsNewestMatch(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	older := time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2021, time.March, 1, 11, 0, 0, 0, time.UTC)
	_, err := s.Create(ctx, jenkinsRun("42", older))
	require.NoError(t, err)
	newerID, err := s.Create(ctx, jenkinsRun("42", newer))
	require.NoError(t, err)

	j, err := s.FindJenkinsRun(ctx, "42", "validate_drp")
	require.NoError(t, err)
	assert.Equal(t, newerID, j.ID)

	_, err = s.FindJenkinsRun(ctx, "42", "ap_verify")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestPreviousJenkinsRun_SkipsSameRunID(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	// Run 41, then two uploads of run 42. The previous run of 42 is 41,
	// not the earlier upload of 42 itself.
	run41, err := s.Create(ctx, jenkinsRun("41", time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = s.Create(ctx, jenkinsRun("42", time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	_, err = s.Create(ctx, jenkinsRun("42", time.Date(2021, time.March, 1, 11, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	j, err := s.PreviousJenkinsRun(ctx, "42", "validate_drp")
	require.NoError(t, err)
	assert.Equal(t, run41, j.ID)

	// The oldest run has no predecessor.
	_, err = s.PreviousJenkinsRun(ctx, "41", "validate_drp")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestSetBlobURI(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	req := jenkinsRun("42", time.Now())
	req.Measurements = []job.NewMeasurement{
		{MetricName: "demo.m1", Value: job.Value(1), BlobRefs: []string{"blob-1"}},
	}
	req.Blobs = []job.NewBlob{{Identifier: "blob-1", Name: "stats"}}
	id, err := s.Create(ctx, req)
	require.NoError(t, err)

	require.NoError(t, s.SetBlobURI(ctx, "blob-1", "gs://squash-data/blob-1"))
	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gs://squash-data/blob-1", j.Measurements[0].Blobs[0].S3URI)
}

func TestSetJobURI(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	id, err := s.Create(ctx, jenkinsRun("42", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.SetJobURI(ctx, id, "gs://squash-data/1"))
	j, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gs://squash-data/1", j.S3URI)

	require.ErrorIs(t, s.SetJobURI(ctx, 999, "gs://x"), job.ErrJobNotFound)
}
