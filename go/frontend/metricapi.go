package frontend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/metric"
)

// metricApi manages the metric catalog.
type metricApi struct {
	store metric.Store
}

// NewMetricApi returns a new instance of metricApi.
func NewMetricApi(store metric.Store) metricApi {
	return metricApi{
		store: store,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a metricApi) RegisterHandlers(router *chi.Mux) {
	router.Post("/metrics", a.createMetricsHandler)
	router.Get("/metrics", a.listMetricsHandler)
	router.Get("/metric/{name}", a.getMetricHandler)
	router.Post("/specs", a.createSpecsHandler)
	router.Get("/specs", a.listSpecsHandler)
}

func (a metricApi) createMetricsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Metrics []metric.Metric `json:"metrics"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.ReportError(w, err, "Invalid request body.", http.StatusBadRequest)
		return
	}
	if len(req.Metrics) == 0 {
		httputils.ReportError(w, nil, "You must provide a list of metrics.", http.StatusBadRequest)
		return
	}
	if err := a.store.Insert(r.Context(), req.Metrics); err != nil {
		if errors.Is(err, metric.ErrAlreadyExists) {
			httputils.ReportError(w, err, "A metric with this name already exists.", http.StatusBadRequest)
			return
		}
		httputils.ReportError(w, err, "An error occurred creating the metrics.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Metrics successfully created."})
}

func (a metricApi) listMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.store.List(r.Context())
	if err != nil {
		httputils.ReportError(w, err, "Failed to list metrics.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]interface{}{"metrics": metrics})
}

func (a metricApi) getMetricHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := a.store.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, metric.ErrNotFound) {
			httputils.ReportError(w, err, "Metric not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load metric.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, m)
}

func (a metricApi) createSpecsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req struct {
		Specs []metric.Specification `json:"specs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.ReportError(w, err, "Invalid request body.", http.StatusBadRequest)
		return
	}
	if len(req.Specs) == 0 {
		httputils.ReportError(w, nil, "You must provide a list of specifications.", http.StatusBadRequest)
		return
	}
	if err := a.store.InsertSpecifications(r.Context(), req.Specs); err != nil {
		if errors.Is(err, metric.ErrNotFound) {
			httputils.ReportError(w, err, "Specification references an unknown metric.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "An error occurred creating the specifications.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Specifications successfully created."})
}

func (a metricApi) listSpecsHandler(w http.ResponseWriter, r *http.Request) {
	specs, err := a.store.ListSpecifications(r.Context(), r.URL.Query().Get("metric"))
	if err != nil {
		httputils.ReportError(w, err, "Failed to list specifications.", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]interface{}{"specs": specs})
}
