package ci

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTimestamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jenkins/42", r.URL.Path)
		assert.Equal(t, "validate_drp", r.URL.Query().Get("ci_name"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"date_created": "2021-03-01T12:00:00Z"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	ts, err := c.RunTimestamp(context.Background(), "42", "validate_drp")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC), ts)
}

func TestRunTimestamp_UnknownRun_IsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	_, err := c.RunTimestamp(context.Background(), "999", "validate_drp")
	require.Error(t, err)
}

func TestCodeChanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/code_changes/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"packages": [{"name": "afw", "git_sha": "abc123", "git_url": "https://github.com/lsst/afw.git"}],
			"counts": 1
		}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, server.Client())
	summary, err := c.CodeChanges(context.Background(), "42", "validate_drp")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts)
	require.Len(t, summary.Packages, 1)
	assert.Equal(t, "afw", summary.Packages[0].Name)
}
