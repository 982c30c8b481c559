// Package mapping declares how job metadata keys map onto time-series tags
// and fields.
//
// Each metadata key resolves to a target schema (tag or field), a target key
// name, and an optional value transformation. Keys without an explicit entry
// default to a tag under their original name so that unknown metadata is
// never silently lost. Transformations are named, registered Go functions
// resolved at build time; there is no runtime expression evaluation.
package mapping

import (
	"context"
	"fmt"
	"strings"

	"github.com/lsst-sqre/squash-rest-api/go/ci"
	"github.com/lsst-sqre/squash-rest-api/go/codechanges"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

// Schema says whether a metadata key becomes an indexed tag or an unindexed
// field on the written point.
type Schema string

const (
	Tag   Schema = "tag"
	Field Schema = "field"
)

// Context carries the per-job data that transformations may need.
type Context struct {
	// APIURL is the externally visible root URL of this API.
	APIURL string

	// CI looks up CI run metadata. May be nil, in which case transforms that
	// need it fail.
	CI ci.Client

	// Env is the job's environment metadata.
	Env map[string]interface{}
}

// TransformFunc rewrites a metadata value before it is written. Returning an
// error means the key is skipped; it must never abort the whole transform.
type TransformFunc func(ctx context.Context, tc *Context, value interface{}) (interface{}, error)

// Entry describes the mapping for a single metadata key.
type Entry struct {
	Schema Schema
	// Key is the target key name. An empty Key drops the metadata key
	// entirely.
	Key       string
	Transform TransformFunc
}

// Table maps metadata key names to their Entry.
type Table map[string]Entry

// Lookup returns the Entry for key. Unmapped keys become a tag under their
// original name with no transformation.
func (t Table) Lookup(key string) Entry {
	if entry, ok := t[key]; ok {
		return entry
	}
	return Entry{Schema: Tag, Key: key}
}

// envString returns the string form of an env metadata value, or "" if
// absent.
func envString(env map[string]interface{}, key string) string {
	v, ok := env[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// FormatLink formats a markdown link.
func FormatLink(text, url string) string {
	return fmt.Sprintf("[%s](%s)", text, url)
}

// RunLink renders the CI run id as a markdown link to the run's page.
func RunLink(_ context.Context, tc *Context, value interface{}) (interface{}, error) {
	ciURL := envString(tc.Env, "ci_url")
	if ciURL == "" {
		return value, nil
	}
	return FormatLink(fmt.Sprint(value), ciURL), nil
}

// CodeChanges fetches the code-change summary for the job's CI run and
// renders one markdown commit link per changed package.
func CodeChanges(ctx context.Context, tc *Context, _ interface{}) (interface{}, error) {
	summary, err := fetchCodeChanges(ctx, tc)
	if err != nil {
		return nil, err
	}
	links := make([]string, 0, len(summary.Packages))
	for _, pkg := range summary.Packages {
		commitURL := strings.Replace(pkg.GitURL, ".git", "/commit/", 1) + pkg.GitSHA
		links = append(links, FormatLink(pkg.Name, commitURL))
	}
	return strings.Join(links, ", "), nil
}

// CodeChangesCounts fetches the code-change summary for the job's CI run and
// returns the number of changed packages.
func CodeChangesCounts(ctx context.Context, tc *Context, _ interface{}) (interface{}, error) {
	summary, err := fetchCodeChanges(ctx, tc)
	if err != nil {
		return nil, err
	}
	return summary.Counts, nil
}

func fetchCodeChanges(ctx context.Context, tc *Context) (codechanges.Summary, error) {
	if tc.CI == nil {
		return codechanges.Summary{}, skerr.Fmt("No CI client configured")
	}
	ciID := envString(tc.Env, "ci_id")
	summary, err := tc.CI.CodeChanges(ctx, ciID, envString(tc.Env, "ci_name"))
	if err != nil {
		return codechanges.Summary{}, skerr.Wrapf(err, "Could not get code_changes for run %s", ciID)
	}
	return summary, nil
}

// Default returns the built-in mapping table.
func Default() Table {
	return Table{
		// The job id and its canonical URL are injected into the metadata
		// before transformation.
		"id":  {Schema: Tag, Key: "id"},
		"url": {Schema: Field, Key: "url"},
		// The creation timestamp also flows through as a field so dashboards
		// can display it.
		"date_created": {Schema: Field, Key: "date_created"},
		// The run link rendered from ci_id already carries ci_url.
		"ci_url": {Schema: Tag, Key: ""},
		"ci_id":  {Schema: Field, Key: "ci_id", Transform: RunLink},
		// Placeholders injected for jenkins runs, filled by lookups against
		// the code_changes endpoint.
		"code_changes":        {Schema: Field, Key: "code_changes", Transform: CodeChanges},
		"code_changes_counts": {Schema: Field, Key: "code_changes_counts", Transform: CodeChangesCounts},
	}
}
