package api

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"

	"github.com/aegisreview/linkflow/internal/config"
	"github.com/aegisreview/linkflow/internal/linkcheck"
)

// GetConfigHandler returns the current server configuration in its JSON
// form, with the API key and auth password masked.
func (h *APIHandler) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	h.configMutex.RLock()
	cfgJSON := config.ConvertAppConfigToJSON(h.Config)
	h.configMutex.RUnlock()

	cfgJSON.Server.APIKey = maskSecret(cfgJSON.Server.APIKey)
	cfgJSON.Auth.Password = maskSecret(cfgJSON.Auth.Password)
	respondWithJSON(w, http.StatusOK, cfgJSON)
}

// UpdateValidatorConfigHandler replaces the validator defaults and persists
// them. Per-request options still override these at submission time.
func (h *APIHandler) UpdateValidatorConfigHandler(w http.ResponseWriter, r *http.Request) {
	var payload config.ValidatorConfigJSON
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid validator config payload: "+err.Error())
		return
	}

	h.configMutex.Lock()
	cfgJSON := config.ConvertAppConfigToJSON(h.Config)
	cfgJSON.Validator = payload
	updated := config.ConvertJSONToAppConfig(cfgJSON)
	h.Config.Validator = updated.Validator
	saveErr := config.Save(h.Config)
	h.configMutex.Unlock()

	if saveErr != nil {
		log.Printf("WARN: API: validator config updated in memory but not persisted: %v", saveErr)
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "validator configuration updated"})
}

// ListExclusionsHandler returns the active exclusion rules.
func (h *APIHandler) ListExclusionsHandler(w http.ResponseWriter, r *http.Request) {
	h.configMutex.RLock()
	rules := append([]linkcheck.ExclusionRule(nil), h.Config.Exclusions...)
	h.configMutex.RUnlock()
	respondWithJSON(w, http.StatusOK, rules)
}

// UpdateExclusionsHandler replaces the exclusion rule set and persists it to
// the supplemental config file.
func (h *APIHandler) UpdateExclusionsHandler(w http.ResponseWriter, r *http.Request) {
	var rules []linkcheck.ExclusionRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid exclusion rules payload: "+err.Error())
		return
	}

	h.configMutex.Lock()
	h.Config.Exclusions = rules
	configDir := filepath.Dir(h.Config.GetLoadedFromPath())
	saveErr := config.SaveExclusions(rules, configDir)
	h.configMutex.Unlock()

	if saveErr != nil {
		log.Printf("WARN: API: exclusion rules updated in memory but not persisted: %v", saveErr)
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"status": "exclusion rules updated", "count": len(rules)})
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
