package frontend

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-sqre/squash-rest-api/go/httputils"
	"github.com/lsst-sqre/squash-rest-api/go/tasks"
)

// statusApi reports background task status.
type statusApi struct {
	dispatcher tasks.Dispatcher
}

// NewStatusApi returns a new instance of statusApi.
func NewStatusApi(dispatcher tasks.Dispatcher) statusApi {
	return statusApi{
		dispatcher: dispatcher,
	}
}

// RegisterHandlers registers the api handlers for their respective routes.
func (a statusApi) RegisterHandlers(router *chi.Mux) {
	router.Get("/status/{task_id}", a.statusHandler)
}

func (a statusApi) statusHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	status, err := a.dispatcher.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			httputils.ReportError(w, err, "Task not found.", http.StatusNotFound)
			return
		}
		httputils.ReportError(w, err, "Failed to load task status.", http.StatusInternalServerError)
		return
	}
	resp := map[string]interface{}{
		"status": status.State,
	}
	// The message is only meaningful for failed tasks.
	if status.State == tasks.StateFailure {
		resp["message"] = status.Message
	}
	sendJSON(w, resp)
}
