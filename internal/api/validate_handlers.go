package api

import (
	"encoding/json"
	"net/http"

	"github.com/aegisreview/linkflow/internal/linkcheck"
)

// maxURLsPerRequest bounds a single submission; the desktop client chunks
// larger documents.
const maxURLsPerRequest = 10000

// decodeValidationRequest parses and bounds-checks a request body, then
// fills unset options from the server defaults.
func (h *APIHandler) decodeValidationRequest(w http.ResponseWriter, r *http.Request) (linkcheck.ValidationRequest, bool) {
	var req linkcheck.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return req, false
	}
	if len(req.URLs) == 0 {
		respondWithError(w, http.StatusBadRequest, "Request must include at least one URL")
		return req, false
	}
	if len(req.URLs) > maxURLsPerRequest {
		respondWithError(w, http.StatusBadRequest, "Too many URLs in one request")
		return req, false
	}
	req.Mode = linkcheck.ParseMode(string(req.Mode))
	h.applyBaseOptions(&req.Options)
	return req, true
}

// applyBaseOptions fills request option fields the caller left unset with
// the server's configured defaults.
func (h *APIHandler) applyBaseOptions(o *linkcheck.Options) {
	h.configMutex.RLock()
	base := h.Config.BaseOptions()
	h.configMutex.RUnlock()

	if o.Timeout <= 0 && o.TimeoutSeconds <= 0 {
		o.Timeout = base.Timeout
	}
	if o.Retries == 0 {
		o.Retries = base.Retries
	}
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = base.MaxConcurrent
	}
	if o.FollowRedirects == nil {
		o.FollowRedirects = base.FollowRedirects
	}
	if o.VerifySSL == nil {
		o.VerifySSL = base.VerifySSL
	}
	if !o.UseWindowsAuth {
		o.UseWindowsAuth = base.UseWindowsAuth
	}
	if o.UserAgent == "" {
		o.UserAgent = base.UserAgent
	}
	if o.Proxy == "" {
		o.Proxy = base.Proxy
	}
	if o.CABundlePath == "" {
		o.CABundlePath = base.CABundlePath
	}
	if o.ClientCertPath == "" {
		o.ClientCertPath = base.ClientCertPath
		o.ClientKeyPath = base.ClientKeyPath
	}
	if len(o.Exclusions) == 0 {
		o.Exclusions = base.Exclusions
	}
}

// ValidateHandler runs a batch synchronously and returns the full results.
// Meant for small batches; large documents should go through the job API.
func (h *APIHandler) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeValidationRequest(w, r)
	if !ok {
		return
	}
	results, summary, err := h.Jobs.RunSync(r.Context(), req)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Validation failed: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"summary": summary,
	})
}
