package api

import (
	"sync"

	"github.com/aegisreview/linkflow/internal/config"
	"github.com/aegisreview/linkflow/internal/jobs"
)

// APIHandler holds shared dependencies for API handlers: the runtime config
// and the job service. The job store itself is injected into the service at
// startup; handlers never touch storage directly.
type APIHandler struct {
	Config *config.AppConfig
	Jobs   *jobs.Service

	// configMutex protects AppConfig during dynamic updates from the
	// settings endpoints.
	configMutex sync.RWMutex
}

// NewAPIHandler creates a new APIHandler with dependencies.
func NewAPIHandler(cfg *config.AppConfig, jobSvc *jobs.Service) *APIHandler {
	return &APIHandler{
		Config: cfg,
		Jobs:   jobSvc,
	}
}
