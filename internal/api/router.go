package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/aegisreview/linkflow/internal/config"
	"github.com/aegisreview/linkflow/internal/jobs"
)

func NewRouter(cfg *config.AppConfig, jobSvc *jobs.Service) *mux.Router {
	router := mux.NewRouter()
	apiHandler := NewAPIHandler(cfg, jobSvc)

	router.Use(LoggingMiddleware)
	router.Use(CORSMiddleware)

	router.HandleFunc("/ping", apiHandler.PingHandler).Methods(http.MethodGet, http.MethodOptions)

	apiV1 := router.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(APIKeyAuthMiddleware(cfg.Server.APIKey))

	// Synchronous validation for small batches
	apiV1.HandleFunc("/validate", apiHandler.ValidateHandler).Methods(http.MethodPost, http.MethodOptions)

	// Background jobs
	apiV1.HandleFunc("/jobs", apiHandler.StartJobHandler).Methods(http.MethodPost, http.MethodOptions)
	apiV1.HandleFunc("/jobs", apiHandler.ListJobsHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/jobs/{jobId}", apiHandler.GetJobStatusHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/jobs/{jobId}", apiHandler.DeleteJobHandler).Methods(http.MethodDelete, http.MethodOptions)
	apiV1.HandleFunc("/jobs/{jobId}/results", apiHandler.GetJobResultsHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/jobs/{jobId}/cancel", apiHandler.CancelJobHandler).Methods(http.MethodPost, http.MethodOptions)

	// Configuration management
	apiV1.HandleFunc("/config", apiHandler.GetConfigHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/config/validator", apiHandler.UpdateValidatorConfigHandler).Methods(http.MethodPut, http.MethodOptions)
	apiV1.HandleFunc("/config/exclusions", apiHandler.ListExclusionsHandler).Methods(http.MethodGet, http.MethodOptions)
	apiV1.HandleFunc("/config/exclusions", apiHandler.UpdateExclusionsHandler).Methods(http.MethodPut, http.MethodOptions)

	return router
}
