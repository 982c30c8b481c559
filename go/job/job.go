// Package job defines verification jobs and the Store interface for
// persisting them.
//
// A job records one verification run: its execution environment, arbitrary
// metadata, the versions of the packages it ran with, the measurements it
// produced, and references to any data blobs uploaded alongside them.
package job

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"context"
	"fmt"
)

// DateFormat is the wire format for job timestamps.
const DateFormat = "2006-01-02T15:04:05Z"

// Value is a measurement value. Unlike a plain float64 it survives JSON
// decoding of the bare NaN token that some verification clients emit, as
// well as "NaN" strings and nulls.
type Value float64

// IsRepresentable returns true if the value can be written to the
// time-series sink, which stores neither NaN nor infinities.
func (v Value) IsRepresentable() bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	switch s {
	case "null", "NaN", `"NaN"`, "nan", `"nan"`:
		*v = Value(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid measurement value %s: %s", s, err)
	}
	*v = Value(f)
	return nil
}

// MarshalJSON implements json.Marshaler. Unrepresentable values are encoded
// as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsRepresentable() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(v))
}

// Package is a specific version of a software package used by a job.
type Package struct {
	Name        string `json:"name"`
	GitSHA      string `json:"git_sha"`
	GitURL      string `json:"git_url,omitempty"`
	GitBranch   string `json:"git_branch,omitempty"`
	EupsVersion string `json:"eups_version,omitempty"`
}

// Blob is a reference to an opaque named binary payload. S3URI is empty
// until the asynchronous upload completes.
type Blob struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	S3URI      string `json:"s3_uri,omitempty"`
}

// Measurement is one metric's value produced in a job. MetricName is
// denormalized so the measurement stays meaningful if the metric catalog
// changes.
type Measurement struct {
	ID         int64  `json:"-"`
	MetricName string `json:"metric"`
	Value      Value  `json:"value"`
	Unit       string `json:"unit"`
	Blobs      []Blob `json:"blobs,omitempty"`
}

// Job is one verification run's full record.
type Job struct {
	ID           int64                  `json:"id"`
	DateCreated  time.Time              `json:"-"`
	CiDataset    string                 `json:"ci_dataset,omitempty"`
	S3URI        string                 `json:"s3_uri,omitempty"`
	Env          map[string]interface{} `json:"-"`
	Meta         map[string]interface{} `json:"meta"`
	Packages     []Package              `json:"-"`
	Measurements []Measurement          `json:"measurements"`
}

// NewMeasurement is the ingestion-time form of a Measurement before metric
// resolution.
type NewMeasurement struct {
	MetricName string
	Value      Value
	Unit       string
	// BlobRefs lists the client-supplied identifiers of the blobs this
	// measurement references.
	BlobRefs []string
}

// NewBlob is the ingestion-time form of a Blob; the payload itself is
// uploaded asynchronously.
type NewBlob struct {
	Identifier string
	Name       string
}

// CreateRequest is everything needed to persist one job atomically.
type CreateRequest struct {
	// EnvName names the execution environment; the env row is resolved or
	// created by name.
	EnvName string
	// Env is the full env metadata object.
	Env map[string]interface{}
	// Meta is the remaining arbitrary metadata, with the env and packages
	// keys already stripped out.
	Meta map[string]interface{}
	// CiDataset is copied out of the env metadata for query convenience.
	CiDataset string
	// DateCreated is the job's creation timestamp.
	DateCreated time.Time

	Packages     []Package
	Measurements []NewMeasurement
	Blobs        []NewBlob
}

// Store persists jobs and their owned entities.
//
// Create runs as a single transaction: either the job with all its packages,
// measurements, blob rows and cross-references is committed, or nothing is.
type Store interface {
	// Create persists the request atomically and returns the new job id. It
	// returns a MetricNotFoundError if a measurement references an unknown
	// metric.
	Create(ctx context.Context, req *CreateRequest) (int64, error)

	// Get returns the job with the given id, or ErrJobNotFound.
	Get(ctx context.Context, id int64) (*Job, error)

	// Delete removes the job and, by cascade, its packages, measurements and
	// blob cross-references.
	Delete(ctx context.Context, id int64) error

	// FindJenkinsRun returns the jenkins job whose env metadata matches the
	// given CI run id and pipeline name, or ErrJobNotFound.
	FindJenkinsRun(ctx context.Context, ciID, ciName string) (*Job, error)

	// PreviousJenkinsRun returns the jenkins job that precedes the given CI
	// run for the same pipeline, or ErrJobNotFound if there is none.
	PreviousJenkinsRun(ctx context.Context, ciID, ciName string) (*Job, error)

	// SetBlobURI records the storage locator of an uploaded blob.
	SetBlobURI(ctx context.Context, identifier, uri string) error

	// SetJobURI records the storage locator of an uploaded job document.
	SetJobURI(ctx context.Context, id int64, uri string) error
}
