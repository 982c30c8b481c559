// Package mem implements objectstore.Client in memory, for tests and local
// development.
package mem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// Store implements the objectstore.Client interface in memory.
type Store struct {
	mutex   sync.Mutex
	bucket  string
	objects map[string][]byte
}

// New returns a new in-memory *Store.
func New(bucket string) *Store {
	return &Store{
		bucket:  bucket,
		objects: map[string][]byte{},
	}
}

// Put implements the objectstore.Client interface.
func (s *Store) Put(_ context.Context, key string, data []byte, _ map[string]string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	b := make([]byte, len(data))
	copy(b, data)
	s.objects[key] = b
	return s.URI(key), nil
}

// Get implements the objectstore.Client interface.
func (s *Store) Get(_ context.Context, uri string) ([]byte, error) {
	prefix := fmt.Sprintf("mem://%s/", s.bucket)
	if !strings.HasPrefix(uri, prefix) {
		return nil, skerr.Fmt("URI %q does not belong to bucket %q", uri, s.bucket)
	}
	key := strings.TrimPrefix(uri, prefix)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	ret := make([]byte, len(b))
	copy(ret, b)
	return ret, nil
}

// Exists implements the objectstore.Client interface.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

// URI implements the objectstore.Client interface.
func (s *Store) URI(key string) string {
	return fmt.Sprintf("mem://%s/%s", s.bucket, key)
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.objects)
}

// Confirm Store implements objectstore.Client.
var _ objectstore.Client = (*Store)(nil)
