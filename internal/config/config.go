package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aegisreview/linkflow/internal/headless"
	"github.com/aegisreview/linkflow/internal/linkcheck"
)

const (
	exclusionsConfigFilename       = "exclusions.config.json"
	DefaultSystemAPIKeyPlaceholder = "SET_A_REAL_KEY_IN_CONFIG_OR_ENV_a4c2e91b7f03d655"

	envPort   = "LINKFLOW_PORT"
	envAPIKey = "LINKFLOW_API_KEY"
)

type ServerConfig struct {
	Port   string `json:"port"`
	APIKey string `json:"apiKey"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

// ValidatorConfig is the resolved first-pass configuration. Duration fields
// are derived from the *Seconds fields in the JSON form.
type ValidatorConfig struct {
	Timeout           time.Duration
	Retries           int
	MaxConcurrent     int
	FollowRedirects   bool
	VerifySSL         bool
	UseWindowsAuth    bool
	UserAgent         string
	Proxy             string
	CABundlePath      string
	ClientCertPath    string
	ClientKeyPath     string
	DNSResolvers      []string
	RequestsPerSecond float64

	TimeoutSeconds int `json:"-"`
}

type ValidatorConfigJSON struct {
	TimeoutSeconds    int      `json:"timeoutSeconds"`
	Retries           int      `json:"retries"`
	MaxConcurrent     int      `json:"maxConcurrent"`
	FollowRedirects   *bool    `json:"followRedirects,omitempty"`
	VerifySSL         *bool    `json:"verifySsl,omitempty"`
	UseWindowsAuth    bool     `json:"useWindowsAuth"`
	UserAgent         string   `json:"userAgent,omitempty"`
	Proxy             string   `json:"proxy,omitempty"`
	CABundlePath      string   `json:"caBundle,omitempty"`
	ClientCertPath    string   `json:"clientCert,omitempty"`
	ClientKeyPath     string   `json:"clientKey,omitempty"`
	DNSResolvers      []string `json:"dnsResolvers,omitempty"`
	RequestsPerSecond float64  `json:"requestsPerSecond,omitempty"`
}

// RetestConfig mirrors linkcheck.RetestConfig in JSON-friendly form.
type RetestConfigJSON struct {
	ConnectTimeoutSeconds int   `json:"connectTimeoutSeconds"`
	ReadTimeoutSeconds    int   `json:"readTimeoutSeconds"`
	UltraTimeoutSeconds   int   `json:"ultraTimeoutSeconds"`
	MaxWorkers            int   `json:"maxWorkers"`
	PreferAuthOverBroken  *bool `json:"preferAuthOverBroken,omitempty"`
}

type HeadlessConfigJSON struct {
	Enabled            bool   `json:"enabled"`
	ChromePath         string `json:"chromePath,omitempty"`
	PageTimeoutSeconds int    `json:"pageTimeoutSeconds"`
	MaxParallel        int    `json:"maxParallel"`
	MaxURLs            int    `json:"maxUrls"`
}

type AuthConfigJSON struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	Server    ServerConfig
	Validator ValidatorConfig
	Retest    linkcheck.RetestConfig
	Headless  headless.Config
	Auth      linkcheck.Credentials
	Logging   LoggingConfig

	Exclusions []linkcheck.ExclusionRule

	loadedFromPath string
}

func (ac *AppConfig) GetLoadedFromPath() string { return ac.loadedFromPath }

// AppConfigJSON is the on-disk shape of config.json.
type AppConfigJSON struct {
	Server    ServerConfig        `json:"server"`
	Validator ValidatorConfigJSON `json:"validator"`
	Retest    RetestConfigJSON    `json:"retest"`
	Headless  HeadlessConfigJSON  `json:"headless"`
	Auth      AuthConfigJSON      `json:"auth"`
	Logging   LoggingConfig       `json:"logging"`
}

// DefaultAppConfigJSON returns the config written on first run.
func DefaultAppConfigJSON() AppConfigJSON {
	follow := true
	verify := true
	preferAuth := true
	return AppConfigJSON{
		Server: ServerConfig{
			Port:   "8080",
			APIKey: DefaultSystemAPIKeyPlaceholder,
		},
		Validator: ValidatorConfigJSON{
			TimeoutSeconds:  10,
			Retries:         2,
			MaxConcurrent:   20,
			FollowRedirects: &follow,
			VerifySSL:       &verify,
			UseWindowsAuth:  false,
			DNSResolvers:    []string{},
		},
		Retest: RetestConfigJSON{
			ConnectTimeoutSeconds: 30,
			ReadTimeoutSeconds:    60,
			UltraTimeoutSeconds:   120,
			MaxWorkers:            5,
			PreferAuthOverBroken:  &preferAuth,
		},
		Headless: HeadlessConfigJSON{
			Enabled:            true,
			PageTimeoutSeconds: 45,
			MaxParallel:        5,
			MaxURLs:            50,
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

func convertValidator(j ValidatorConfigJSON) ValidatorConfig {
	cfg := ValidatorConfig{
		Timeout:           time.Duration(j.TimeoutSeconds) * time.Second,
		TimeoutSeconds:    j.TimeoutSeconds,
		Retries:           j.Retries,
		MaxConcurrent:     j.MaxConcurrent,
		FollowRedirects:   true,
		VerifySSL:         true,
		UseWindowsAuth:    j.UseWindowsAuth,
		UserAgent:         j.UserAgent,
		Proxy:             j.Proxy,
		CABundlePath:      j.CABundlePath,
		ClientCertPath:    j.ClientCertPath,
		ClientKeyPath:     j.ClientKeyPath,
		DNSResolvers:      j.DNSResolvers,
		RequestsPerSecond: j.RequestsPerSecond,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
		cfg.TimeoutSeconds = 10
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if j.FollowRedirects != nil {
		cfg.FollowRedirects = *j.FollowRedirects
	}
	if j.VerifySSL != nil {
		cfg.VerifySSL = *j.VerifySSL
	}
	return cfg
}

func convertRetest(j RetestConfigJSON) linkcheck.RetestConfig {
	cfg := linkcheck.RetestConfig{
		ConnectTimeout:       time.Duration(j.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:          time.Duration(j.ReadTimeoutSeconds) * time.Second,
		UltraTimeout:         time.Duration(j.UltraTimeoutSeconds) * time.Second,
		MaxWorkers:           j.MaxWorkers,
		PreferAuthOverBroken: true,
	}
	if j.PreferAuthOverBroken != nil {
		cfg.PreferAuthOverBroken = *j.PreferAuthOverBroken
	}
	return cfg
}

func convertHeadless(j HeadlessConfigJSON) headless.Config {
	return headless.Config{
		Enabled:            j.Enabled,
		ChromePath:         j.ChromePath,
		PageTimeout:        time.Duration(j.PageTimeoutSeconds) * time.Second,
		PageTimeoutSeconds: j.PageTimeoutSeconds,
		MaxParallel:        j.MaxParallel,
		MaxURLs:            j.MaxURLs,
	}
}

// ConvertJSONToAppConfig resolves the JSON form into runtime config.
func ConvertJSONToAppConfig(j AppConfigJSON) *AppConfig {
	cfg := &AppConfig{
		Server:    j.Server,
		Validator: convertValidator(j.Validator),
		Retest:    convertRetest(j.Retest),
		Headless:  convertHeadless(j.Headless),
		Auth: linkcheck.Credentials{
			Username: j.Auth.Username,
			Password: j.Auth.Password,
			Domain:   j.Auth.Domain,
		},
		Logging: j.Logging,
	}
	cfg.Headless.PreferAuthOverBroken = cfg.Retest.PreferAuthOverBroken
	return cfg
}

// ConvertAppConfigToJSON maps resolved runtime config back to the on-disk
// shape for the settings endpoints and Save.
func ConvertAppConfigToJSON(ac *AppConfig) AppConfigJSON {
	follow := ac.Validator.FollowRedirects
	verify := ac.Validator.VerifySSL
	preferAuth := ac.Retest.PreferAuthOverBroken
	return AppConfigJSON{
		Server: ac.Server,
		Validator: ValidatorConfigJSON{
			TimeoutSeconds:    int(ac.Validator.Timeout / time.Second),
			Retries:           ac.Validator.Retries,
			MaxConcurrent:     ac.Validator.MaxConcurrent,
			FollowRedirects:   &follow,
			VerifySSL:         &verify,
			UseWindowsAuth:    ac.Validator.UseWindowsAuth,
			UserAgent:         ac.Validator.UserAgent,
			Proxy:             ac.Validator.Proxy,
			CABundlePath:      ac.Validator.CABundlePath,
			ClientCertPath:    ac.Validator.ClientCertPath,
			ClientKeyPath:     ac.Validator.ClientKeyPath,
			DNSResolvers:      ac.Validator.DNSResolvers,
			RequestsPerSecond: ac.Validator.RequestsPerSecond,
		},
		Retest: RetestConfigJSON{
			ConnectTimeoutSeconds: int(ac.Retest.ConnectTimeout / time.Second),
			ReadTimeoutSeconds:    int(ac.Retest.ReadTimeout / time.Second),
			UltraTimeoutSeconds:   int(ac.Retest.UltraTimeout / time.Second),
			MaxWorkers:            ac.Retest.MaxWorkers,
			PreferAuthOverBroken:  &preferAuth,
		},
		Headless: HeadlessConfigJSON{
			Enabled:            ac.Headless.Enabled,
			ChromePath:         ac.Headless.ChromePath,
			PageTimeoutSeconds: int(ac.Headless.PageTimeout / time.Second),
			MaxParallel:        ac.Headless.MaxParallel,
			MaxURLs:            ac.Headless.MaxURLs,
		},
		Auth: AuthConfigJSON{
			Username: ac.Auth.Username,
			Password: ac.Auth.Password,
			Domain:   ac.Auth.Domain,
		},
		Logging: ac.Logging,
	}
}

// Save persists the resolved config back to the path it was loaded from.
func Save(ac *AppConfig) error {
	return SaveStructured(ConvertAppConfigToJSON(ac), ac.loadedFromPath)
}

// Load reads config.json (writing defaults on first run), applies env
// overrides, and pulls in the supplemental exclusions file. A missing or
// partially unparseable config is not fatal; defaults fill the gaps and the
// original error is returned alongside the usable config.
func Load(mainConfigPath string) (*AppConfig, error) {
	if mainConfigPath == "" {
		mainConfigPath = "config.json"
		log.Printf("INFO: Config: main config path empty, using default: %s", mainConfigPath)
	}
	log.Printf("INFO: Config: loading main config from: %s", mainConfigPath)

	cfgJSON := DefaultAppConfigJSON()
	var originalLoadError error

	data, err := os.ReadFile(mainConfigPath)
	if err != nil {
		originalLoadError = err
		if os.IsNotExist(err) {
			log.Printf("INFO: Config: main config file '%s' not found, writing defaults", mainConfigPath)
			if saveErr := SaveStructured(cfgJSON, mainConfigPath); saveErr != nil {
				log.Printf("WARN: Config: failed to save default config file '%s': %v", mainConfigPath, saveErr)
			}
		} else {
			log.Printf("WARN: Config: error reading main config '%s': %v, using defaults", mainConfigPath, err)
		}
	} else if errUnmarshal := json.Unmarshal(data, &cfgJSON); errUnmarshal != nil {
		log.Printf("WARN: Config: error unmarshalling main config '%s': %v, using defaults for unparsed fields", mainConfigPath, errUnmarshal)
		originalLoadError = errUnmarshal
	}

	appConfig := ConvertJSONToAppConfig(cfgJSON)
	appConfig.loadedFromPath = mainConfigPath
	applyEnvOverrides(appConfig)

	configDir := filepath.Dir(mainConfigPath)
	exclusions, exclErr := LoadExclusions(configDir)
	if exclErr != nil {
		log.Printf("WARN: Config: failed to load exclusions, proceeding with none: %v", exclErr)
		exclusions = nil
	}
	appConfig.Exclusions = exclusions

	return appConfig, originalLoadError
}

// applyEnvOverrides lets deployment environments override the listen port
// and API key without touching config.json.
func applyEnvOverrides(cfg *AppConfig) {
	if port := os.Getenv(envPort); port != "" {
		log.Printf("INFO: Config: %s override: port=%s", envPort, port)
		cfg.Server.Port = port
	}
	if key := os.Getenv(envAPIKey); key != "" {
		log.Printf("INFO: Config: %s override applied", envAPIKey)
		cfg.Server.APIKey = key
	}
}

// LoadExclusions reads the supplemental exclusion rules file. A missing
// file means no exclusions, not an error.
func LoadExclusions(configDir string) ([]linkcheck.ExclusionRule, error) {
	filePath := filepath.Join(configDir, exclusionsConfigFilename)
	var rules []linkcheck.ExclusionRule
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("INFO: Config: exclusions file '%s' not found, no exclusion rules loaded", filePath)
			return rules, nil
		}
		return nil, fmt.Errorf("failed to read exclusions file '%s': %w", filePath, err)
	}
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("error unmarshalling exclusions from '%s': %w", filePath, err)
	}
	log.Printf("INFO: Config: loaded %d exclusion rule(s) from '%s'", len(rules), filePath)
	return rules, nil
}

// SaveExclusions writes the exclusion rules next to the main config.
func SaveExclusions(rules []linkcheck.ExclusionRule, configDir string) error {
	filePath := filepath.Join(configDir, exclusionsConfigFilename)
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal exclusion rules: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write exclusions to '%s': %w", filePath, err)
	}
	log.Printf("INFO: Config: saved %d exclusion rule(s) to '%s'", len(rules), filePath)
	return nil
}

// SaveStructured writes the JSON form to disk.
func SaveStructured(cfgJSON AppConfigJSON, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("cannot save config, file path is empty")
	}
	data, err := json.MarshalIndent(cfgJSON, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal app config to JSON: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write app config to file '%s': %w", filePath, err)
	}
	log.Printf("INFO: Config: saved main configuration to '%s'", filePath)
	return nil
}

// DefaultConfig returns the resolved defaults.
func DefaultConfig() *AppConfig {
	return ConvertJSONToAppConfig(DefaultAppConfigJSON())
}

// BaseOptions maps the validator config onto per-run options; per-request
// options override these.
func (ac *AppConfig) BaseOptions() linkcheck.Options {
	follow := ac.Validator.FollowRedirects
	verify := ac.Validator.VerifySSL
	return linkcheck.Options{
		Timeout:         ac.Validator.Timeout,
		Retries:         ac.Validator.Retries,
		MaxConcurrent:   ac.Validator.MaxConcurrent,
		FollowRedirects: &follow,
		VerifySSL:       &verify,
		UseWindowsAuth:  ac.Validator.UseWindowsAuth,
		UserAgent:       ac.Validator.UserAgent,
		Proxy:           ac.Validator.Proxy,
		CABundlePath:    ac.Validator.CABundlePath,
		ClientCertPath:  ac.Validator.ClientCertPath,
		ClientKeyPath:   ac.Validator.ClientKeyPath,
		Exclusions:      ac.Exclusions,
	}
}
