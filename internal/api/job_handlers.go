package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// StartJobHandler accepts a batch for background validation.
func (h *APIHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeValidationRequest(w, r)
	if !ok {
		return
	}
	run, err := h.Jobs.Start(req)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to start job: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, run)
}

// GetJobStatusHandler reports a job's state plus live progress while it is
// still running.
func (h *APIHandler) GetJobStatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	run, live, err := h.Jobs.Status(jobID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, err.Error())
		return
	}
	// Results are served by the results endpoint; status polls stay small.
	run.Results = nil
	payload := map[string]interface{}{"job": run}
	if live != nil {
		payload["live"] = live
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// GetJobResultsHandler returns the final per-URL results of a finished job.
func (h *APIHandler) GetJobResultsHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	run, err := h.Jobs.Results(jobID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondWithError(w, http.StatusNotFound, err.Error())
		} else {
			respondWithError(w, http.StatusConflict, err.Error())
		}
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

// CancelJobHandler requests cooperative cancellation of a running job.
func (h *APIHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if err := h.Jobs.Cancel(jobID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondWithError(w, http.StatusNotFound, err.Error())
		} else {
			respondWithError(w, http.StatusConflict, err.Error())
		}
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": "cancellation requested"})
}

// ListJobsHandler returns run history, most recent first, without result
// bodies.
func (h *APIHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	runs := h.Jobs.History()
	for _, run := range runs {
		run.Results = nil
	}
	respondWithJSON(w, http.StatusOK, runs)
}

// DeleteJobHandler removes a finished job from history.
func (h *APIHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	if err := h.Jobs.Delete(jobID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondWithError(w, http.StatusNotFound, err.Error())
		} else {
			respondWithError(w, http.StatusConflict, err.Error())
		}
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"jobId": jobID, "status": "deleted"})
}
