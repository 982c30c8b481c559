// Package memdispatch implements tasks.Dispatcher in memory, executing
// tasks synchronously. It backs local development and tests, where a real
// queue adds nothing.
package memdispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// StatusStore implements tasks.StatusStore in memory.
type StatusStore struct {
	mutex    sync.Mutex
	statuses map[string]*tasks.Status
}

// NewStatusStore returns a new in-memory *StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		statuses: map[string]*tasks.Status{},
	}
}

// Create implements the tasks.StatusStore interface.
func (s *StatusStore) Create(_ context.Context, taskID string, kind tasks.Kind) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := time.Now().UTC()
	s.statuses[taskID] = &tasks.Status{
		TaskID:      taskID,
		Kind:        kind,
		State:       tasks.StatePending,
		DateCreated: now,
		DateUpdated: now,
	}
	return nil
}

// SetState implements the tasks.StatusStore interface.
func (s *StatusStore) SetState(_ context.Context, taskID string, state tasks.State, message string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	status, ok := s.statuses[taskID]
	if !ok {
		return tasks.ErrTaskNotFound
	}
	status.State = state
	status.Message = message
	status.DateUpdated = time.Now().UTC()
	return nil
}

// Get implements the tasks.StatusStore interface.
func (s *StatusStore) Get(_ context.Context, taskID string) (*tasks.Status, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	status, ok := s.statuses[taskID]
	if !ok {
		return nil, tasks.ErrTaskNotFound
	}
	ret := *status
	return &ret, nil
}

// Dispatcher implements tasks.Dispatcher by running tasks inline.
type Dispatcher struct {
	statuses *StatusStore
	executor *tasks.Executor
}

// New returns a new *Dispatcher using the given executor.
func New(statuses *StatusStore, executor *tasks.Executor) *Dispatcher {
	return &Dispatcher{
		statuses: statuses,
		executor: executor,
	}
}

// EnqueueUpload implements the tasks.Dispatcher interface.
func (d *Dispatcher) EnqueueUpload(ctx context.Context, payload *tasks.UploadPayload) (string, error) {
	return d.run(ctx, tasks.KindUpload, payload)
}

// EnqueuePublish implements the tasks.Dispatcher interface.
func (d *Dispatcher) EnqueuePublish(ctx context.Context, payload *tasks.PublishPayload) (string, error) {
	return d.run(ctx, tasks.KindPublish, payload)
}

// Status implements the tasks.Dispatcher interface.
func (d *Dispatcher) Status(ctx context.Context, taskID string) (*tasks.Status, error) {
	return d.statuses.Get(ctx, taskID)
}

func (d *Dispatcher) run(ctx context.Context, kind tasks.Kind, payload interface{}) (string, error) {
	taskID := uuid.New().String()
	if err := d.statuses.Create(ctx, taskID, kind); err != nil {
		return "", skerr.Wrap(err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	envelope := &tasks.Envelope{
		TaskID:  taskID,
		Kind:    kind,
		Payload: body,
	}
	if err := d.statuses.SetState(ctx, taskID, tasks.StateStarted, ""); err != nil {
		return "", skerr.Wrap(err)
	}
	if err := d.executor.Execute(ctx, envelope); err != nil {
		if serr := d.statuses.SetState(ctx, taskID, tasks.StateFailure, err.Error()); serr != nil {
			return "", skerr.Wrap(serr)
		}
		return taskID, nil
	}
	if err := d.statuses.SetState(ctx, taskID, tasks.StateSuccess, ""); err != nil {
		return "", skerr.Wrap(err)
	}
	return taskID, nil
}

// Confirm the implementations satisfy their interfaces.
var _ tasks.StatusStore = (*StatusStore)(nil)
var _ tasks.Dispatcher = (*Dispatcher)(nil)
