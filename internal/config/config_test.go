package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegisreview/linkflow/internal/linkcheck"
)

func TestLoadFirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if cfg == nil {
		t.Fatal("Load returned no config")
	}
	if err == nil {
		t.Error("first run should surface the not-found error alongside defaults")
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port = %q", cfg.Server.Port)
	}
	if cfg.Server.APIKey != DefaultSystemAPIKeyPlaceholder {
		t.Errorf("APIKey = %q, want placeholder", cfg.Server.APIKey)
	}
	if cfg.Validator.Timeout != 10*time.Second || cfg.Validator.Retries != 2 {
		t.Errorf("validator defaults: timeout=%s retries=%d", cfg.Validator.Timeout, cfg.Validator.Retries)
	}
	if !cfg.Retest.PreferAuthOverBroken {
		t.Error("PreferAuthOverBroken should default to true")
	}
	if !cfg.Headless.PreferAuthOverBroken {
		t.Error("headless stage should inherit PreferAuthOverBroken")
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("defaults not written to disk: %v", statErr)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("second load should be clean: %v", err)
	}
}

func TestLoadSecondsConversion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"server": {"port": "9000", "apiKey": "k"},
		"validator": {"timeoutSeconds": 3, "retries": 1, "maxConcurrent": 4},
		"retest": {"connectTimeoutSeconds": 7, "readTimeoutSeconds": 11, "ultraTimeoutSeconds": 13, "maxWorkers": 2},
		"headless": {"enabled": false, "pageTimeoutSeconds": 9, "maxParallel": 1, "maxUrls": 5}
	}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Validator.Timeout != 3*time.Second {
		t.Errorf("validator timeout = %s", cfg.Validator.Timeout)
	}
	if cfg.Retest.ConnectTimeout != 7*time.Second || cfg.Retest.ReadTimeout != 11*time.Second || cfg.Retest.UltraTimeout != 13*time.Second {
		t.Errorf("retest timeouts = %s/%s/%s", cfg.Retest.ConnectTimeout, cfg.Retest.ReadTimeout, cfg.Retest.UltraTimeout)
	}
	if cfg.Headless.PageTimeout != 9*time.Second || cfg.Headless.Enabled {
		t.Errorf("headless = %+v", cfg.Headless)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LINKFLOW_PORT", "9191")
	t.Setenv("LINKFLOW_API_KEY", "env-secret")

	cfg, _ := Load(filepath.Join(t.TempDir(), "config.json"))
	if cfg.Server.Port != "9191" {
		t.Errorf("Port = %q, env override not applied", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "env-secret" {
		t.Errorf("APIKey = %q, env override not applied", cfg.Server.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, _ := Load(path)

	cfg.Validator.Timeout = 25 * time.Second
	cfg.Validator.MaxConcurrent = 9
	cfg.Server.APIKey = "persisted-key"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Validator.Timeout != 25*time.Second || reloaded.Validator.MaxConcurrent != 9 {
		t.Errorf("validator settings not persisted: %+v", reloaded.Validator)
	}
	if reloaded.Server.APIKey != "persisted-key" {
		t.Errorf("APIKey not persisted: %q", reloaded.Server.APIKey)
	}
}

func TestExclusionsLoadedAlongsideConfig(t *testing.T) {
	dir := t.TempDir()
	rules := []linkcheck.ExclusionRule{
		{Pattern: "legacy.example.com", PatternType: "domain", Disposition: linkcheck.TreatAsValid, Reason: "retired host"},
		{Pattern: "/draft/", PatternType: "substring", Disposition: linkcheck.SkipSilently},
	}
	if err := SaveExclusions(rules, dir); err != nil {
		t.Fatalf("SaveExclusions: %v", err)
	}

	cfg, _ := Load(filepath.Join(dir, "config.json"))
	if len(cfg.Exclusions) != 2 {
		t.Fatalf("got %d exclusion rules", len(cfg.Exclusions))
	}
	if cfg.Exclusions[0].Pattern != "legacy.example.com" {
		t.Errorf("rules out of order: %+v", cfg.Exclusions[0])
	}

	opts := cfg.BaseOptions()
	if len(opts.Exclusions) != 2 {
		t.Errorf("BaseOptions dropped exclusions: %d", len(opts.Exclusions))
	}
}

func TestBaseOptionsMirrorsValidatorConfig(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.BaseOptions()
	if opts.Timeout != 10*time.Second || opts.Retries != 2 || opts.MaxConcurrent != 20 {
		t.Errorf("base options = %+v", opts)
	}
	if opts.FollowRedirects == nil || !*opts.FollowRedirects {
		t.Error("FollowRedirects should default to true")
	}
	if opts.VerifySSL == nil || !*opts.VerifySSL {
		t.Error("VerifySSL should default to true")
	}
}
