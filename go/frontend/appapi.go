package frontend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-sqre/squash-rest-api/go/codechanges"
	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
)

// appApi serves the CI-support endpoints the transformation pipeline calls
// back into: jenkins run lookup, code change diffs, and blob retrieval.
type appApi struct {
	jobStore job.Store
	objects  objectstore.Client
}

// NewAppApi returns a new instance of appApi.
func NewAppApi(jobStore job.Store, objects objectstore.Client) appApi {
	return appApi{
		jobStore: jobStore,
		objects:  objects,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a appApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/jenkins/{ci_id}", a.jenkinsHandler)
	router.Get("/code_changes/{ci_id}", a.codeChangesHandler)
	router.Get("/blob/{job_id}", a.blobHandler)
}

func (a appApi) jenkinsHandler(w http.ResponseWriter, r *http.Request) {
	ciID := chi.URLParam(r, "ci_id")
	ciName := r.URL.Query().Get("ci_name")
	if ciName == "" {
		httputils.ReportError(w, nil, "This field cannot be left blank: ci_name.", http.StatusBadRequest)
		return
	}
	j, err := a.jobStore.FindJenkinsRun(r.Context(), ciID, ciName)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			httputils.ReportError(w, err, "Jenkins job not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load jenkins job.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, makeJobResponse(j))
}

func (a appApi) codeChangesHandler(w http.ResponseWriter, r *http.Request) {
	ciID := chi.URLParam(r, "ci_id")
	ciName := r.URL.Query().Get("ci_name")
	if ciName == "" {
		httputils.ReportError(w, nil, "This field cannot be left blank: ci_name.", http.StatusBadRequest)
		return
	}

	resp := struct {
		ID         *int64                `json:"id"`
		PreviousID *int64                `json:"previous_id"`
		Packages   []codechanges.Package `json:"packages"`
		Counts     int                   `json:"counts"`
	}{
		Packages: []codechanges.Package{},
	}

	current, err := a.jobStore.FindJenkinsRun(r.Context(), ciID, ciName)
	if err != nil && !errors.Is(err, job.ErrJobNotFound) {
		httputils.ReportError(w, err, "Failed to load jenkins job.", http.StatusInternalServerError)
		return
	}
	if current != nil {
		resp.ID = &current.ID
	}

	previous, err := a.jobStore.PreviousJenkinsRun(r.Context(), ciID, ciName)
	if err != nil && !errors.Is(err, job.ErrJobNotFound) {
		httputils.ReportError(w, err, "Failed to load previous jenkins job.", http.StatusInternalServerError)
		return
	}
	if previous != nil && current != nil {
		summary := codechanges.Compute(ciPackages(previous), ciPackages(current))
		resp.PreviousID = &previous.ID
		resp.Packages = summary.Packages
		resp.Counts = summary.Counts
	}
	sendJSON(w, resp)
}

func ciPackages(j *job.Job) []codechanges.Package {
	ret := make([]codechanges.Package, 0, len(j.Packages))
	for _, pkg := range j.Packages {
		ret = append(ret, codechanges.Package{
			Name:   pkg.Name,
			GitSHA: pkg.GitSHA,
			GitURL: pkg.GitURL,
		})
	}
	return ret
}

// blobHandler retrieves a data blob by job id, metric name, and blob name.
// The blob payload lives in object storage; only its locator is in the
// database.
func (a appApi) blobHandler(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil {
		httputils.ReportError(w, err, "Invalid job id.", http.StatusBadRequest)
		return
	}
	metricName := r.URL.Query().Get("metric")
	name := r.URL.Query().Get("name")
	if metricName == "" || name == "" {
		httputils.ReportError(w, nil, "This field cannot be left blank: metric, name.", http.StatusBadRequest)
		return
	}

	j, err := a.jobStore.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			httputils.ReportError(w, err, "Job not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load job.", http.StatusInternalServerError)
		return
	}

	uri := ""
	for _, meas := range j.Measurements {
		if meas.MetricName != metricName {
			continue
		}
		for _, blob := range meas.Blobs {
			if blob.Name == name {
				uri = blob.S3URI
			}
		}
	}
	if uri == "" {
		httputils.ReportError(w, nil, "Data blob not found.", http.StatusNotFound)
		return
	}

	data, err := a.objects.Get(r.Context(), uri)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			httputils.ReportError(w, err, "Data blob not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load data blob.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		httputils.ReportError(w, err, "Failed to write data blob.", http.StatusInternalServerError)
	}
}
