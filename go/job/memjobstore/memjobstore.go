// Package memjobstore implements job.Store in memory, for tests and local
// development.
package memjobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
)

// MemJobStore implements the job.Store interface in memory.
type MemJobStore struct {
	mutex sync.Mutex
	// metrics resolves measurement metric names; may be nil, in which case
	// all metric names are accepted.
	metrics metric.Store
	nextID  int64
	jobs    map[int64]*job.Job
	// envNames records the env name each job was created under.
	envNames map[int64]string
}

// New returns a new *MemJobStore. metrics may be nil to skip metric name
// validation.
func New(metrics metric.Store) *MemJobStore {
	return &MemJobStore{
		metrics:  metrics,
		nextID:   1,
		jobs:     map[int64]*job.Job{},
		envNames: map[int64]string{},
	}
}

// Create implements the job.Store interface. It follows the write order of
// the SQL store's transaction: the job row first, then packages, then
// measurements with their metric lookups. A failure after the job row is
// written rolls the whole job back, so a failed create is never visible.
func (s *MemJobStore) Create(ctx context.Context, req *job.CreateRequest) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextID
	s.nextID++

	j := &job.Job{
		ID:          id,
		DateCreated: req.DateCreated.UTC(),
		CiDataset:   req.CiDataset,
		Env:         req.Env,
		Meta:        req.Meta,
	}
	s.jobs[id] = j
	s.envNames[id] = req.EnvName
	rollback := func() {
		delete(s.jobs, id)
		delete(s.envNames, id)
	}

	j.Packages = append([]job.Package{}, req.Packages...)

	blobsByRef := map[string]job.Blob{}
	for _, b := range req.Blobs {
		blobsByRef[b.Identifier] = job.Blob{Identifier: b.Identifier, Name: b.Name}
	}

	for i, meas := range req.Measurements {
		if s.metrics != nil {
			if _, err := s.metrics.Get(ctx, meas.MetricName); err != nil {
				rollback()
				if err == metric.ErrNotFound {
					return 0, &job.MetricNotFoundError{MetricName: meas.MetricName}
				}
				return 0, err
			}
		}
		m := job.Measurement{
			ID:         int64(i + 1),
			MetricName: meas.MetricName,
			Value:      meas.Value,
			Unit:       meas.Unit,
		}
		for _, ref := range meas.BlobRefs {
			if b, ok := blobsByRef[ref]; ok {
				m.Blobs = append(m.Blobs, b)
			}
		}
		j.Measurements = append(j.Measurements, m)
	}
	return id, nil
}

// Get implements the job.Store interface.
func (s *MemJobStore) Get(_ context.Context, id int64) (*job.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	ret := *j
	return &ret, nil
}

// Delete implements the job.Store interface.
func (s *MemJobStore) Delete(_ context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return job.ErrJobNotFound
	}
	delete(s.jobs, id)
	delete(s.envNames, id)
	return nil
}

// FindJenkinsRun implements the job.Store interface.
func (s *MemJobStore) FindJenkinsRun(_ context.Context, ciID, ciName string) (*job.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, j := range s.jenkinsRunsByDate() {
		if envValue(j, "ci_id") == ciID && envValue(j, "ci_name") == ciName {
			ret := *j
			return &ret, nil
		}
	}
	return nil, job.ErrJobNotFound
}

// PreviousJenkinsRun implements the job.Store interface.
func (s *MemJobStore) PreviousJenkinsRun(_ context.Context, ciID, ciName string) (*job.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var current *job.Job
	for _, j := range s.jenkinsRunsByDate() {
		if envValue(j, "ci_id") == ciID && envValue(j, "ci_name") == ciName {
			current = j
			break
		}
	}
	if current == nil {
		return nil, job.ErrJobNotFound
	}
	for _, j := range s.jenkinsRunsByDate() {
		if envValue(j, "ci_name") == ciName && envValue(j, "ci_id") != ciID && j.DateCreated.Before(current.DateCreated) {
			ret := *j
			return &ret, nil
		}
	}
	return nil, job.ErrJobNotFound
}

// SetBlobURI implements the job.Store interface.
func (s *MemJobStore) SetBlobURI(_ context.Context, identifier, uri string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, j := range s.jobs {
		for i := range j.Measurements {
			for k := range j.Measurements[i].Blobs {
				if j.Measurements[i].Blobs[k].Identifier == identifier {
					j.Measurements[i].Blobs[k].S3URI = uri
				}
			}
		}
	}
	return nil
}

// SetJobURI implements the job.Store interface.
func (s *MemJobStore) SetJobURI(_ context.Context, id int64, uri string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	j.S3URI = uri
	return nil
}

// jenkinsRunsByDate returns jenkins jobs newest first. Callers must hold
// the mutex.
func (s *MemJobStore) jenkinsRunsByDate() []*job.Job {
	ret := []*job.Job{}
	for id, j := range s.jobs {
		if s.envNames[id] == "jenkins" {
			ret = append(ret, j)
		}
	}
	sort.Slice(ret, func(i, k int) bool {
		return ret[i].DateCreated.After(ret[k].DateCreated)
	})
	return ret
}

func envValue(j *job.Job, key string) string {
	v, ok := j.Env[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// Confirm MemJobStore implements job.Store.
var _ job.Store = (*MemJobStore)(nil)
