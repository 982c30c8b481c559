package memdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/job/memjobstore"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore/mem"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
	"github.com/lsst-sqre/squash-rest-api/go/transform"
)

func newDispatcher(t *testing.T) (*Dispatcher, *memjobstore.MemJobStore, int64) {
	jobs := memjobstore.New(nil)
	id, err := jobs.Create(context.Background(), &job.CreateRequest{
		EnvName:     "local",
		Env:         map[string]interface{}{"env_name": "local"},
		Meta:        map[string]interface{}{},
		DateCreated: time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC),
		Measurements: []job.NewMeasurement{
			{MetricName: "demo.m1", Value: 5.0, Unit: "mag"},
		},
	})
	require.NoError(t, err)

	executor := tasks.NewExecutor(jobs, mem.New("squash-data"), transform.NewJob("https://api.example.com", nil), nopSink{})
	return New(NewStatusStore(), executor), jobs, id
}

type nopSink struct{}

func (nopSink) WriteLines(_ context.Context, _ []string) error {
	return nil
}

func TestEnqueuePublish_RunsToSuccess(t *testing.T) {
	dispatcher, _, jobID := newDispatcher(t)

	taskID, err := dispatcher.EnqueuePublish(context.Background(), &tasks.PublishPayload{JobID: jobID})
	require.NoError(t, err)

	status, err := dispatcher.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateSuccess, status.State)
	assert.Equal(t, tasks.KindPublish, status.Kind)
}

func TestEnqueuePublish_UnknownJobEndsInFailure(t *testing.T) {
	dispatcher, _, _ := newDispatcher(t)

	taskID, err := dispatcher.EnqueuePublish(context.Background(), &tasks.PublishPayload{JobID: 404})
	require.NoError(t, err)

	status, err := dispatcher.Status(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateFailure, status.State)
	assert.NotEmpty(t, status.Message)
}

func TestStatus_UnknownTask(t *testing.T) {
	dispatcher, _, _ := newDispatcher(t)
	_, err := dispatcher.Status(context.Background(), "nope")
	assert.Equal(t, tasks.ErrTaskNotFound, err)
}
