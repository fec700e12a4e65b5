package main

import (
	"log"
	"net/http"
	"time"

	"github.com/aegisreview/linkflow/internal/api"
	"github.com/aegisreview/linkflow/internal/config"
	"github.com/aegisreview/linkflow/internal/jobs"

	_ "net/http/pprof" // For profiling, if needed
)

const (
	defaultPort    = "8080"
	configFilePath = "config.json"
)

func main() {
	appConfig, err := config.Load(configFilePath)
	if err != nil {
		log.Printf("Main: Notice during config.Load: %v. Application will proceed with available/defaulted config.", err)
	}
	if appConfig == nil {
		log.Fatalf("CRITICAL: Configuration could not be loaded by config.Load, and no defaults were returned. Exiting.")
	}

	if appConfig.Server.Port == "" {
		appConfig.Server.Port = defaultPort
	}
	if appConfig.Server.APIKey == "" {
		appConfig.Server.APIKey = config.DefaultSystemAPIKeyPlaceholder
	}
	if appConfig.Server.APIKey == config.DefaultSystemAPIKeyPlaceholder {
		log.Println("!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!")
		log.Println("!!! WARNING: API Key is the default system placeholder. THIS IS INSECURE.       !!!")
		log.Println("!!! Please set a unique 'server.apiKey' in 'config.json' or use the             !!!")
		log.Println("!!! LINKFLOW_API_KEY environment variable for production deployments.           !!!")
		log.Println("!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!")
	}

	jobStore := jobs.NewInMemoryJobStore()
	jobService := jobs.NewService(jobStore, jobs.Settings{
		Credentials:       appConfig.Auth,
		DNSResolvers:      appConfig.Validator.DNSResolvers,
		RequestsPerSecond: appConfig.Validator.RequestsPerSecond,
		Retest:            appConfig.Retest,
		Headless:          appConfig.Headless,
	})

	router := api.NewRouter(appConfig, jobService)
	serverAddr := ":" + appConfig.Server.Port
	httpServer := &http.Server{
		Handler: router, Addr: serverAddr,
		// Long write timeout: synchronous validation of a slow batch can
		// legitimately take minutes.
		WriteTimeout: 5 * time.Minute, ReadTimeout: 15 * time.Second, IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting LinkFlow API server on http://localhost%s", serverAddr)
	if appConfig.Server.APIKey != "" && appConfig.Server.APIKey != config.DefaultSystemAPIKeyPlaceholder {
		log.Printf("API Key configured (length: %d). Ensure this is adequately secured.", len(appConfig.Server.APIKey))
	}

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server ListenAndServe failed: %v", err)
	}
}
