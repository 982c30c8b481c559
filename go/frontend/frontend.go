// Package frontend assembles the HTTP API.
//
// Handlers assume authenticated requests; authentication is terminated
// before traffic reaches this service.
package frontend

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/ingest"
	"github.com/lsst-sqre/squash-rest-api/go/job"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
	"github.com/lsst-sqre/squash-rest-api/go/objectstore"
	"github.com/lsst-sqre/squash-rest-api/go/sklog"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// Frontend bundles everything the HTTP API serves.
type Frontend struct {
	router *chi.Mux
}

// New returns a new *Frontend with all handlers registered.
func New(service *ingest.Service, jobStore job.Store, metricStore metric.Store, dispatcher tasks.Dispatcher, objects objectstore.Client) *Frontend {
	router := chi.NewRouter()

	NewJobApi(service, jobStore).RegisterHandlers(router)
	NewStatusApi(dispatcher).RegisterHandlers(router)
	NewMetricApi(metricStore).RegisterHandlers(router)
	NewAppApi(jobStore, objects).RegisterHandlers(router)

	return &Frontend{
		router: router,
	}
}

// Handler returns the root handler, with the healthcheck wrapped around the
// API routes.
func (f *Frontend) Handler() http.Handler {
	return httputils.Healthz(f.router)
}

// sendJSON writes v as the JSON response body.
func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sklog.Errorf("Failed to write response: %s", err)
	}
}
