// Package objectstore abstracts the object storage that holds job and blob
// payloads.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists at the given URI.
var ErrNotFound = errors.New("object not found")

// Client reads and writes payloads in object storage.
//
// Put has overwrite semantics: writing the same key twice replaces the
// payload. The task queue delivers at least once, so uploads must be safe
// to repeat.
type Client interface {
	// Put writes data under key and returns the URI of the stored object.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error)

	// Get returns the payload stored at the given URI.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Exists returns true if an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the URI an object stored under key would have.
	URI(key string) string
}
