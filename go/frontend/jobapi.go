package frontend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/ingest"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
)

// jobApi handles job ingestion and retrieval.
type jobApi struct {
	service  *ingest.Service
	jobStore job.Store
}

// NewJobApi returns a new instance of jobApi.
func NewJobApi(service *ingest.Service, jobStore job.Store) jobApi {
	return jobApi{
		service:  service,
		jobStore: jobStore,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a jobApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/job", a.createJobHandler)
	router.Get("/job/{id}", a.getJobHandler)
	router.Delete("/job/{id}", a.deleteJobHandler)
}

// jobResponse is the wire form of a job, reconstructing the verification
// job document: env and packages are folded back into the metadata object.
type jobResponse struct {
	ID           int64                  `json:"id"`
	DateCreated  string                 `json:"date_created"`
	CiDataset    string                 `json:"ci_dataset,omitempty"`
	S3URI        string                 `json:"s3_uri,omitempty"`
	Measurements []job.Measurement      `json:"measurements"`
	Meta         map[string]interface{} `json:"meta"`
}

func makeJobResponse(j *job.Job) jobResponse {
	meta := map[string]interface{}{}
	for k, v := range j.Meta {
		meta[k] = v
	}
	meta["env"] = j.Env
	packages := map[string]interface{}{}
	for _, pkg := range j.Packages {
		packages[pkg.Name] = pkg
	}
	meta["packages"] = packages

	return jobResponse{
		ID:           j.ID,
		DateCreated:  j.DateCreated.UTC().Format(job.DateFormat),
		CiDataset:    j.CiDataset,
		S3URI:        j.S3URI,
		Measurements: j.Measurements,
		Meta:         meta,
	}
}

func (a jobApi) createJobHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	req, err := ingest.DecodeRequest(r.Body)
	if err != nil {
		reportIngestError(w, err)
		return
	}
	handle, err := a.service.CreateJob(r.Context(), req)
	if err != nil {
		reportIngestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	resp := map[string]interface{}{
		"message": fmt.Sprintf("Request for creating Job `%d` received", handle.JobID),
		"job_id":  handle.JobID,
		"status":  fmt.Sprintf("/status/%s", handle.TaskID),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		sklog.Errorf("Failed to write response: %s", err)
	}
}

// reportIngestError maps ingestion failures onto status codes: validation
// failures are 400, a stale metric catalog is 404, anything else is a
// storage failure reported with a generic message.
func reportIngestError(w http.ResponseWriter, err error) {
	var inputErr *ingest.InputError
	if errors.As(err, &inputErr) {
		httputils.ReportError(w, err, inputErr.Message, http.StatusBadRequest)
		return
	}
	var notFound *job.MetricNotFoundError
	if errors.As(err, &notFound) {
		httputils.ReportError(w, err, notFound.Error(), http.StatusNotFound)
		return
	}
	httputils.ReportError(w, err, "An error occurred creating the job.", http.StatusInternalServerError)
}

func (a jobApi) getJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputils.ReportError(w, err, "Invalid job id.", http.StatusBadRequest)
		return
	}
	j, err := a.jobStore.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			httputils.ReportError(w, err, "Job not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load job.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, makeJobResponse(j))
}

func (a jobApi) deleteJobHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputils.ReportError(w, err, "Invalid job id.", http.StatusBadRequest)
		return
	}
	if err := a.jobStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			httputils.ReportError(w, err, "Job not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to delete job.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]string{"message": "Job, measurements and blobs deleted."})
}
