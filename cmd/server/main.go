// Package main provides the CAMS clipping HTTP server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"go.ngs.io/cams-clip/internal/app"
	"go.ngs.io/cams-clip/internal/config"
	httpHandler "go.ngs.io/cams-clip/internal/http"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("cams-clip-server version %s\n", version)
		return
	}

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	log.Printf("Starting CAMS clip server...")
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Output directory: %s", cfg.OutputDir)
	log.Printf("Archive directory: %s", cfg.ArchiveDir)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialise: %v", err)
	}

	handler := httpHandler.NewHandler(a.Clip, a.Analysis, a.Retrieve, a.Catalog, log)
	router := httpHandler.SetupRouter(handler, httpHandler.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxBodyBytes:   int64(cfg.MaxUploadMB) << 20,
		Log:            log,
	})

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("API endpoints:")
	log.Printf("  - GET  /v1/catalog")
	log.Printf("  - POST /v1/clip")
	log.Printf("  - POST /v1/analysis/summary")
	log.Printf("  - GET  /v1/datasets/inspect")
	log.Printf("  - POST /v1/retrievals")

	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("CAMS Clip Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  cams-clip-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES (also read from .env):")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  DATA_DIR                Reanalysis NetCDF directory (default: ./data)")
	fmt.Println("  OUTPUT_DIR              Clip output directory (default: ./data/clips)")
	fmt.Println("  ARCHIVE_DIR             Directory holding retrieved archives (default: ./data/archives)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println("  LOG_FORMAT              text or json (default: text)")
	fmt.Println("  BATCH_WORKERS           Parallel clips per batch (default: number of CPUs)")
	fmt.Println("  MAX_UPLOAD_MB           Request body limit in megabytes (default: 64)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  cams-clip-server")
	fmt.Println()
	fmt.Println("  # Start server on custom port")
	fmt.Println("  PORT=3000 cams-clip-server")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                     Health check")
	fmt.Println("  GET  /v1/catalog                 Variables, models, levels and bounds")
	fmt.Println("  GET  /v1/catalog/availability    Years offered for a variable and model")
	fmt.Println("  POST /v1/clip                    Clip a dataset to a box or polygon")
	fmt.Println("  POST /v1/clip/batch              Clip several datasets")
	fmt.Println("  POST /v1/analysis/summary        Mean, max, min and std of a variable")
	fmt.Println("  POST /v1/analysis/bivariate      Correlation, regression or accuracy")
	fmt.Println("  GET  /v1/datasets/inspect        Dimensions and variables of a file")
	fmt.Println("  GET  /v1/datasets/probe          Value of a variable at a point")
	fmt.Println("  POST /v1/retrievals              Unpack and optionally clip an archive")
	fmt.Println()
}
