// Package ingest validates and persists verification jobs.
//
// Ingestion is the write path of the API: it checks the request shape,
// writes the job and everything it owns in one transaction, and then
// enqueues the background tasks that upload blobs and publish the job to
// the time-series sink. The request never waits for those tasks.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/now"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// etlDateFormat is the format of the upstream timestamp honored in ETL
// mode.
const etlDateFormat = "2006-01-02T15:04:05Z"

// nanToken rewrites bare NaN tokens, which some verification clients emit,
// into null before JSON decoding. Values inside strings are untouched, the
// token must follow a ':', '[' or ','.
var nanToken = regexp.MustCompile(`([:\[,]\s*)NaN(\s*[,\]}])`)

// InputError is a request validation failure, reported synchronously with
// a 400-equivalent code.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func inputErrorf(format string, args ...interface{}) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// RequestMeasurement is one measurement in an ingestion request.
type RequestMeasurement struct {
	Metric string    `json:"metric"`
	Value  job.Value `json:"value"`
	Unit   string    `json:"unit"`
	// BlobRefs lists identifiers of blobs this measurement references.
	BlobRefs []string `json:"blob_refs,omitempty"`
	// Identifier is an optional blob identifier older clients send instead
	// of blob_refs.
	Identifier string `json:"identifier,omitempty"`
}

// RequestBlob is one blob in an ingestion request. Data is the payload
// document; it is uploaded asynchronously.
type RequestBlob struct {
	Identifier string          `json:"identifier"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Request is a job ingestion request.
type Request struct {
	Measurements []RequestMeasurement   `json:"measurements"`
	Meta         map[string]interface{} `json:"meta"`
	Blobs        []RequestBlob          `json:"blobs,omitempty"`
}

// DecodeRequest reads and decodes an ingestion request body.
func DecodeRequest(r io.Reader) (*Request, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to read request body")
	}
	// Each replacement consumes the token's trailing separator, which is
	// the leading separator of an immediately following token, so repeat
	// until the body is stable.
	for {
		replaced := nanToken.ReplaceAll(b, []byte("${1}null${2}"))
		if bytes.Equal(replaced, b) {
			break
		}
		b = replaced
	}
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, inputErrorf("Invalid request body: %s", err)
	}
	return &req, nil
}

// Handle is returned on successful ingestion. The task id resolves through
// the status endpoint and tracks the publish task.
type Handle struct {
	JobID  int64
	TaskID string
}

// Service validates and persists jobs and enqueues their background tasks.
type Service struct {
	jobs       job.Store
	dispatcher tasks.Dispatcher
	// etlMode preserves the upstream creation timestamp found in env
	// metadata instead of assigning server time, used when backfilling.
	etlMode bool
}

// New returns a new *Service.
func New(jobs job.Store, dispatcher tasks.Dispatcher, etlMode bool) *Service {
	return &Service{
		jobs:       jobs,
		dispatcher: dispatcher,
		etlMode:    etlMode,
	}
}

// CreateJob runs one ingestion request. Validation failures return an
// *InputError, a measurement referencing an unknown metric returns a
// *job.MetricNotFoundError, and nothing is persisted in either case.
func (s *Service) CreateJob(ctx context.Context, req *Request) (*Handle, error) {
	createReq, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	jobID, err := s.jobs.Create(ctx, createReq)
	if err != nil {
		return nil, err
	}

	// The transaction committed; failures from here on are asynchronous
	// and observable only through task status polling.
	taskID, err := s.dispatcher.EnqueuePublish(ctx, &tasks.PublishPayload{JobID: jobID})
	if err != nil {
		return nil, skerr.Wrapf(err, "Job %d created but publish task could not be enqueued", jobID)
	}

	for _, blob := range req.Blobs {
		if len(blob.Data) == 0 {
			continue
		}
		uploadID, err := s.dispatcher.EnqueueUpload(ctx, &tasks.UploadPayload{
			Identifier: blob.Identifier,
			Name:       blob.Name,
			Data:       blob.Data,
			Metadata:   map[string]string{"name": blob.Name},
		})
		if err != nil {
			sklog.Errorf("Failed to enqueue upload of blob %q for job %d: %s", blob.Identifier, jobID, err)
			continue
		}
		sklog.Infof("Enqueued upload task %s for blob %q", uploadID, blob.Identifier)
	}

	return &Handle{
		JobID:  jobID,
		TaskID: taskID,
	}, nil
}

// validate checks the request shape and builds the storage-level create
// request. It applies the ingestion-time NaN policy: unrepresentable
// measurement values are stored as zero.
func (s *Service) validate(ctx context.Context, req *Request) (*job.CreateRequest, error) {
	if len(req.Meta) == 0 {
		return nil, inputErrorf("Missing job metadata.")
	}
	env, ok := req.Meta["env"].(map[string]interface{})
	if !ok {
		return nil, inputErrorf("Missing env metadata.")
	}
	envName, ok := env["env_name"].(string)
	if !ok || envName == "" {
		return nil, inputErrorf("Missing `env_name` in env metadata.")
	}

	packagesRaw, ok := req.Meta["packages"]
	if !ok {
		return nil, inputErrorf("Missing packages metadata.")
	}
	packages, err := parsePackages(packagesRaw)
	if err != nil {
		return nil, err
	}

	measurements := make([]job.NewMeasurement, 0, len(req.Measurements))
	for _, meas := range req.Measurements {
		if meas.Metric == "" {
			return nil, inputErrorf("You must provide a list of measurements and the associated metric name.")
		}
		value := meas.Value
		if !value.IsRepresentable() {
			// NaNs are coerced to zero at ingestion time. The publish path
			// has its own, different NaN policy.
			value = 0
		}
		refs := meas.BlobRefs
		if len(refs) == 0 && meas.Identifier != "" {
			refs = []string{meas.Identifier}
		}
		measurements = append(measurements, job.NewMeasurement{
			MetricName: meas.Metric,
			Value:      value,
			Unit:       meas.Unit,
			BlobRefs:   refs,
		})
	}

	blobs := make([]job.NewBlob, 0, len(req.Blobs))
	for _, blob := range req.Blobs {
		if blob.Identifier == "" {
			return nil, inputErrorf("Missing blob identifier.")
		}
		blobs = append(blobs, job.NewBlob{
			Identifier: blob.Identifier,
			Name:       blob.Name,
		})
	}

	// Strip env and packages out of the stored metadata, they are
	// persisted on their own.
	meta := map[string]interface{}{}
	for k, v := range req.Meta {
		if k == "env" || k == "packages" {
			continue
		}
		meta[k] = v
	}

	return &job.CreateRequest{
		EnvName:      envName,
		Env:          env,
		Meta:         meta,
		CiDataset:    ciDataset(env),
		DateCreated:  s.dateCreated(ctx, env),
		Packages:     packages,
		Measurements: measurements,
		Blobs:        blobs,
	}, nil
}

// parsePackages converts the packages metadata object, a mapping of
// arbitrary keys to package field sets, into package rows.
func parsePackages(raw interface{}) ([]job.Package, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, inputErrorf("Invalid packages metadata.")
	}
	ret := make([]job.Package, 0, len(obj))
	for key, v := range obj {
		fields, ok := v.(map[string]interface{})
		if !ok {
			return nil, inputErrorf("Invalid package entry %q.", key)
		}
		pkg := job.Package{
			Name:        stringField(fields, "name"),
			GitSHA:      stringField(fields, "git_sha"),
			GitURL:      stringField(fields, "git_url"),
			GitBranch:   stringField(fields, "git_branch"),
			EupsVersion: stringField(fields, "eups_version"),
		}
		if pkg.Name == "" {
			pkg.Name = key
		}
		ret = append(ret, pkg)
	}
	return ret, nil
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

// ciDataset extracts the dataset name out of env metadata for query
// convenience.
func ciDataset(env map[string]interface{}) string {
	if s, ok := env["ci_dataset"].(string); ok {
		return s
	}
	if s, ok := env["dataset"].(string); ok {
		return s
	}
	return ""
}

// dateCreated assigns the job timestamp: server time, or the upstream date
// from env metadata when running in ETL mode.
func (s *Service) dateCreated(ctx context.Context, env map[string]interface{}) time.Time {
	if s.etlMode {
		if raw, ok := env["date"].(string); ok {
			if d, err := time.Parse(etlDateFormat, raw); err == nil {
				return d
			}
			sklog.Warningf("Ignoring unparsable env date %q", raw)
		}
	}
	return now.Now(ctx).UTC()
}
