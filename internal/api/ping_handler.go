package api

import (
	"net/http"
	"time"
)

// PingHandler answers health probes. Unauthenticated so the desktop client
// can discover a running validator before it has an API key configured.
func (h *APIHandler) PingHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message":   "pong",
		"service":   "linkflow",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
