// Package memmetricstore implements metric.Store in memory, for tests and
// local development.
package memmetricstore

import (
	"context"
	"sort"
	"sync"

	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// MemMetricStore implements the metric.Store interface in memory.
type MemMetricStore struct {
	mutex   sync.Mutex
	metrics map[string]metric.Metric
	specs   map[string]metric.Specification
}

// New returns a new *MemMetricStore.
func New() *MemMetricStore {
	return &MemMetricStore{
		metrics: map[string]metric.Metric{},
		specs:   map[string]metric.Specification{},
	}
}

// Insert implements the metric.Store interface.
func (s *MemMetricStore) Insert(_ context.Context, metrics []metric.Metric) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, m := range metrics {
		if _, ok := s.metrics[m.Name]; ok {
			return metric.ErrAlreadyExists
		}
	}
	for _, m := range metrics {
		if m.Package == "" || m.DisplayName == "" {
			pkg, displayName, ok := metric.SplitName(m.Name)
			if !ok {
				return skerr.Fmt("Metric name %q is not fully qualified, e.g. validate_drp.AM1", m.Name)
			}
			m.Package, m.DisplayName = pkg, displayName
		}
		s.metrics[m.Name] = m
	}
	return nil
}

// Get implements the metric.Store interface.
func (s *MemMetricStore) Get(_ context.Context, name string) (*metric.Metric, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	m, ok := s.metrics[name]
	if !ok {
		return nil, metric.ErrNotFound
	}
	ret := m
	return &ret, nil
}

// List implements the metric.Store interface.
func (s *MemMetricStore) List(_ context.Context) ([]metric.Metric, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ret := make([]metric.Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		ret = append(ret, m)
	}
	sort.Slice(ret, func(i, k int) bool {
		return ret[i].Name < ret[k].Name
	})
	return ret, nil
}

// InsertSpecifications implements the metric.Store interface.
func (s *MemMetricStore) InsertSpecifications(_ context.Context, specs []metric.Specification) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, spec := range specs {
		if _, ok := s.metrics[spec.MetricName]; !ok {
			return metric.ErrNotFound
		}
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
	}
	return nil
}

// ListSpecifications implements the metric.Store interface.
func (s *MemMetricStore) ListSpecifications(_ context.Context, metricName string) ([]metric.Specification, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ret := []metric.Specification{}
	for _, spec := range s.specs {
		if metricName != "" && spec.MetricName != metricName {
			continue
		}
		ret = append(ret, spec)
	}
	sort.Slice(ret, func(i, k int) bool {
		return ret[i].Name < ret[k].Name
	})
	return ret, nil
}

// Confirm MemMetricStore implements metric.Store.
var _ metric.Store = (*MemMetricStore)(nil)
