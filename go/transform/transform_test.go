package transform

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-sqre/squash-rest-api/go/codechanges"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/mapping"
	"github.com/lsst-sqre/squash-rest-api/go/skerr"
)

const apiURL = "https://squash.example.com"

// fakeCI is a canned ci.Client.
type fakeCI struct {
	runTime      time.Time
	runErr       error
	summary      codechanges.Summary
	summaryErr   error
	timestampLog []string
}

func (f *fakeCI) RunTimestamp(_ context.Context, ciID, ciName string) (time.Time, error) {
	f.timestampLog = append(f.timestampLog, fmt.Sprintf("%s/%s", ciID, ciName))
	return f.runTime, f.runErr
}

func (f *fakeCI) CodeChanges(_ context.Context, _, _ string) (codechanges.Summary, error) {
	return f.summary, f.summaryErr
}

func TestMetadata_Process_DefaultsToTags(t *testing.T) {
	m := NewMetadata(mapping.Default())
	tags, fields := m.Process(context.Background(), &mapping.Context{APIURL: apiURL}, map[string]interface{}{
		"filter": "HSC-R",
		"camera": map[string]interface{}{
			"n_visits": 3.0,
			"pipeline": "DRP",
		},
	})
	assert.Equal(t, []string{"filter=HSC-R", "n_visits=3.0", "pipeline=DRP"}, tags)
	assert.Empty(t, fields)
}

func TestMetadata_Process_StringFieldsAreQuoted(t *testing.T) {
	table := mapping.Table{
		"url":   {Schema: mapping.Field, Key: "url"},
		"count": {Schema: mapping.Field, Key: "count"},
	}
	m := NewMetadata(table)
	_, fields := m.Process(context.Background(), &mapping.Context{}, map[string]interface{}{
		"url":   "https://example.com/job/1",
		"count": 2.0,
	})
	assert.Equal(t, []string{"count=2.0", `url="https://example.com/job/1"`}, fields)
}

func TestMetadata_Process_DropsAndDedups(t *testing.T) {
	m := NewMetadata(mapping.Default())
	tags, _ := m.Process(context.Background(), &mapping.Context{}, map[string]interface{}{
		"ci_url": "https://ci.example.com/1",
		"filter": "HSC-R",
		"nested": map[string]interface{}{
			"filter": "HSC-R",
		},
	})
	assert.Equal(t, []string{"filter=HSC-R"}, tags)
}

func TestMetadata_Process_SanitizesBothSides(t *testing.T) {
	m := NewMetadata(mapping.Default())
	tags, _ := m.Process(context.Background(), &mapping.Context{}, map[string]interface{}{
		"opsim db": "db, name=x",
	})
	assert.Equal(t, []string{`opsim_db=db\,_name\=x`}, tags)
}

func TestMetadata_Process_FailingTransformSkipsKey(t *testing.T) {
	table := mapping.Table{
		"bad": {Schema: mapping.Field, Key: "bad", Transform: func(_ context.Context, _ *mapping.Context, _ interface{}) (interface{}, error) {
			return nil, skerr.Fmt("boom")
		}},
		"good": {Schema: mapping.Tag, Key: "good"},
	}
	m := NewMetadata(table)
	tags, fields := m.Process(context.Background(), &mapping.Context{}, map[string]interface{}{
		"bad":  "x",
		"good": "y",
	})
	assert.Empty(t, fields)
	assert.Equal(t, []string{"good=y"}, tags)
}

func testJob() *job.Job {
	return &job.Job{
		ID:          792,
		DateCreated: time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC),
		CiDataset:   "cfht",
		Env: map[string]interface{}{
			"env_name": "jenkins",
			"ci_id":    "42",
			"ci_name":  "validate_drp",
			"ci_url":   "https://ci.example.com/job/validate_drp/42/",
		},
		Meta: map[string]interface{}{
			"filter":           "HSC-R",
			"dataset_repo_url": "https://github.com/lsst/validation_data_cfht.git",
		},
		Measurements: []job.Measurement{
			{MetricName: "validate_drp.AM1", Value: 5.2, Unit: "marcsec"},
			{MetricName: "validate_drp.AM2", Value: job.Value(math.NaN()), Unit: "marcsec"},
			{MetricName: "demo.m1", Value: 3, Unit: ""},
		},
	}
}

func TestJob_ToLines_GroupsByNamespace(t *testing.T) {
	ci := &fakeCI{runTime: time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)}
	tr := NewJob(apiURL, ci)

	lines, err := tr.ToLines(context.Background(), testJob())
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// Namespaces are emitted in sorted order.
	assert.True(t, strings.HasPrefix(lines[0], "demo,"))
	assert.True(t, strings.HasPrefix(lines[1], "validate_drp,"))

	assert.Contains(t, lines[0], "m1=3.0")
	assert.Contains(t, lines[1], "AM1=5.2")
	// NaN measurements are dropped.
	assert.NotContains(t, lines[1], "AM2")
}

func TestJob_ToLines_JenkinsTimestampOverride(t *testing.T) {
	runTime := time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)
	ci := &fakeCI{runTime: runTime}
	tr := NewJob(apiURL, ci)

	lines, err := tr.ToLines(context.Background(), testJob())
	require.NoError(t, err)

	suffix := fmt.Sprintf(" %d", runTime.UnixNano())
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, suffix), line)
	}
	assert.Equal(t, []string{"42/validate_drp"}, ci.timestampLog)
}

func TestJob_ToLines_TimestampFallback(t *testing.T) {
	ci := &fakeCI{runErr: skerr.Fmt("jenkins is down")}
	tr := NewJob(apiURL, ci)

	j := testJob()
	lines, err := tr.ToLines(context.Background(), j)
	require.NoError(t, err)

	suffix := fmt.Sprintf(" %d", j.DateCreated.UnixNano())
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, suffix), line)
	}
}

func TestJob_ToLines_NonJenkinsSkipsOverride(t *testing.T) {
	ci := &fakeCI{runTime: time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC)}
	tr := NewJob(apiURL, ci)

	j := testJob()
	j.Env = map[string]interface{}{"env_name": "local"}

	lines, err := tr.ToLines(context.Background(), j)
	require.NoError(t, err)
	assert.Empty(t, ci.timestampLog)

	suffix := fmt.Sprintf(" %d", j.DateCreated.UnixNano())
	for _, line := range lines {
		assert.True(t, strings.HasSuffix(line, suffix), line)
	}
	// ci_dataset is cleared outside of jenkins.
	assert.NotContains(t, lines[0], "ci_dataset")
}

func TestJob_ToLines_SharedMetadata(t *testing.T) {
	ci := &fakeCI{
		runTime: time.Date(2021, time.March, 1, 10, 0, 0, 0, time.UTC),
		summary: codechanges.Summary{
			Packages: []codechanges.Package{
				{Name: "afw", GitSHA: "abc123", GitURL: "https://github.com/lsst/afw.git"},
			},
			Counts: 1,
		},
	}
	tr := NewJob(apiURL, ci)

	lines, err := tr.ToLines(context.Background(), testJob())
	require.NoError(t, err)

	for _, line := range lines {
		assert.Contains(t, line, "id=792")
		assert.Contains(t, line, `url="https://squash.example.com/job/792"`)
		assert.Contains(t, line, `date_created="2021-03-01T12:00:00Z"`)
		assert.Contains(t, line, "ci_dataset=cfht")
		assert.Contains(t, line, "env_name=jenkins")
		assert.Contains(t, line, `ci_id="[42](https://ci.example.com/job/validate_drp/42/)"`)
		assert.Contains(t, line, `code_changes="[afw](https://github.com/lsst/afw/commit/abc123)"`)
		assert.Contains(t, line, "code_changes_counts=1")
		// The repository URL duplicates package metadata and is dropped.
		assert.NotContains(t, line, "dataset_repo_url")
		// ci_url is carried inside the run link only, never as its own tag.
		assert.NotContains(t, line, "ci_url=")
	}
}

func TestJob_ToLines_DoesNotMutateJob(t *testing.T) {
	tr := NewJob(apiURL, &fakeCI{runTime: time.Now()})
	j := testJob()
	_, err := tr.ToLines(context.Background(), j)
	require.NoError(t, err)
	assert.NotContains(t, j.Env, "code_changes")
	assert.Contains(t, j.Meta, "dataset_repo_url")
	assert.NotContains(t, j.Meta, "env")
}
