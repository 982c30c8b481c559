package transform

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/lsst-sqre/squash-rest-api/go/ci"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/lineformat"
	"github.com/lsst-sqre/squash-rest-api/go/mapping"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
)

// Job transforms a persisted verification job into time-series lines.
type Job struct {
	apiURL string
	ci     ci.Client
	meta   *Metadata
}

// NewJob returns a Job transformer. apiURL is the externally visible root
// URL of the API, used to render links back to job resources. ciClient may
// be nil; timestamp overrides and code-change lookups then degrade
// gracefully.
func NewJob(apiURL string, ciClient ci.Client) *Job {
	return &Job{
		apiURL: apiURL,
		ci:     ciClient,
		meta:   NewMetadata(mapping.Default()),
	}
}

// ToLines renders one line per top-level measurement namespace, the portion
// of a metric's fully qualified name before the first dot. All lines share
// the same tag set, extra fields, and timestamp.
func (t *Job) ToLines(ctx context.Context, j *job.Job) ([]string, error) {
	timestamp := t.timestamp(ctx, j)

	meta, env := t.augment(j)

	tc := &mapping.Context{
		APIURL: t.apiURL,
		CI:     t.ci,
		Env:    env,
	}
	tags, extraFields := t.meta.Process(ctx, tc, meta)

	byNamespace := measurementsByNamespace(j.Measurements)

	namespaces := make([]string, 0, len(byNamespace))
	for ns := range byNamespace {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	lines := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		fields := append(byNamespace[ns], extraFields...)
		lines = append(lines, lineformat.Line(ns, tags, fields, timestamp))
	}
	return lines, nil
}

// timestamp resolves the timestamp to write. Jobs default to their creation
// time; jenkins jobs use the pipeline run time instead, since jobs can be
// ingested long after the pipeline ran. A failed lookup falls back to the
// default.
func (t *Job) timestamp(ctx context.Context, j *job.Job) int64 {
	timestamp := lineformat.Timestamp(j.DateCreated)

	if envString(j.Env, "env_name") != "jenkins" || t.ci == nil {
		return timestamp
	}
	ciID := envString(j.Env, "ci_id")
	ciName := envString(j.Env, "ci_name")
	runTime, err := t.ci.RunTimestamp(ctx, ciID, ciName)
	if err != nil {
		sklog.Errorf("Could not get timestamp for run %s: %s", ciID, err)
		return timestamp
	}
	return lineformat.Timestamp(runTime)
}

// augment builds the metadata object that feeds the metadata transformer.
// The job's own copies are left untouched.
func (t *Job) augment(j *job.Job) (meta, env map[string]interface{}) {
	meta = map[string]interface{}{}
	for k, v := range j.Meta {
		meta[k] = v
	}
	env = map[string]interface{}{}
	for k, v := range j.Env {
		env[k] = v
	}

	meta["id"] = j.ID
	meta["url"] = t.jobURL(j.ID)
	meta["date_created"] = j.DateCreated.UTC().Format(job.DateFormat)
	env["ci_dataset"] = j.CiDataset

	// The dataset repository URL duplicates package metadata.
	delete(meta, "dataset_repo_url")

	envName := envString(env, "env_name")
	if envName != "jenkins" {
		// ci_dataset only makes sense for jenkins runs.
		delete(env, "ci_dataset")
	} else {
		// Placeholders resolved by the code_changes transformations.
		env["code_changes"] = ""
		env["code_changes_counts"] = ""
	}

	// Older jenkins jobs recorded the pipeline name only inside ci_url.
	if ciURL := envString(env, "ci_url"); ciURL != "" {
		if strings.Contains(ciURL, "validate_drp") {
			env["ci_name"] = "validate_drp"
		} else if strings.Contains(ciURL, "ap_verify") {
			env["ci_name"] = "ap_verify"
		}
	}

	meta["env"] = env
	return meta, env
}

// jobURL renders the canonical URL of a job resource.
func (t *Job) jobURL(id int64) string {
	u, err := url.Parse(t.apiURL)
	if err != nil {
		return fmt.Sprintf("%s/job/%d", strings.TrimRight(t.apiURL, "/"), id)
	}
	u.Path = fmt.Sprintf("/job/%d", id)
	u.RawQuery = ""
	return u.String()
}

// measurementsByNamespace groups rendered metric field tokens by top-level
// namespace, preserving input order within each group. The sink stores no
// NaNs, so NaN values are skipped rather than coerced.
func measurementsByNamespace(measurements []job.Measurement) map[string][]string {
	byNamespace := map[string][]string{}
	for _, meas := range measurements {
		parts := strings.Split(meas.MetricName, ".")
		namespace := parts[0]
		metric := parts[0]
		if len(parts) > 1 {
			metric = parts[1]
		}
		if _, ok := byNamespace[namespace]; !ok {
			byNamespace[namespace] = []string{}
		}
		if math.IsNaN(float64(meas.Value)) {
			continue
		}
		byNamespace[namespace] = append(byNamespace[namespace], fmt.Sprintf("%s=%s", metric, lineformat.FormatFloat(float64(meas.Value))))
	}
	return byNamespace
}

func envString(env map[string]interface{}, key string) string {
	v, ok := env[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// Lines is a convenience wrapper that loads the job from the store and
// transforms it.
func (t *Job) Lines(ctx context.Context, store job.Store, id int64) ([]string, error) {
	j, err := store.Get(ctx, id)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed loading job %d", id)
	}
	return t.ToLines(ctx, j)
}
