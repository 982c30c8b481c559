// Package gcsobjectstore implements objectstore.Client on Google Cloud
// Storage.
package gcsobjectstore

import (
	"context"
	"fmt"
	"io/ioutil"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// GCSObjectStore implements the objectstore.Client interface. The bucket
// name is given at creation time so method signatures only carry object
// keys.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// New returns a new *GCSObjectStore writing to the given bucket.
func New(client *storage.Client, bucket string) *GCSObjectStore {
	return &GCSObjectStore{
		client: client,
		bucket: bucket,
	}
}

// Put implements the objectstore.Client interface. An existing object under
// the same key is overwritten.
func (s *GCSObjectStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ObjectAttrs.ContentType = "application/json"
	w.ObjectAttrs.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", skerr.Wrapf(err, "Failed writing %q", key)
	}
	if err := w.Close(); err != nil {
		return "", skerr.Wrapf(err, "Failed closing %q", key)
	}
	return s.URI(key), nil
}

// Get implements the objectstore.Client interface.
func (s *GCSObjectStore) Get(ctx context.Context, uri string) ([]byte, error) {
	key, err := s.key(uri)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, objectstore.ErrNotFound
		}
		return nil, skerr.Wrapf(err, "Failed opening %q", key)
	}
	defer func() {
		_ = r.Close()
	}()
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed reading %q", key)
	}
	return b, nil
}

// Exists implements the objectstore.Client interface.
func (s *GCSObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, skerr.Wrap(err)
	}
	return true, nil
}

// URI implements the objectstore.Client interface.
func (s *GCSObjectStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

// key extracts the object key from a URI produced by URI.
func (s *GCSObjectStore) key(uri string) (string, error) {
	prefix := fmt.Sprintf("gs://%s/", s.bucket)
	if !strings.HasPrefix(uri, prefix) {
		return "", skerr.Fmt("URI %q does not belong to bucket %q", uri, s.bucket)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

// Confirm GCSObjectStore implements objectstore.Client.
var _ objectstore.Client = (*GCSObjectStore)(nil)
