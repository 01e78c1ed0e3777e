package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"load-forecast/internal/config"
	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/internal/services"
	"load-forecast/pkg/database"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

func main() {
	// Parse command-line flags
	dataDir := flag.String("data-dir", "./load_data", "Directory containing <valuelist_id>[_<name>].csv load curves")
	batchSize := flag.Int("batch-size", 1000, "Number of values to insert in each transaction")
	separator := flag.String("separator", ";", "CSV field separator")
	resolution := flag.String("resolution", "", "Resolution of the files (D, h, 15min); inferred when empty")
	unit := flag.String("unit", "kW", "Unit stored with new series")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("load-forecast-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting load curve ingestion", logging.Fields{
		"version":    "1.0.0",
		"data_dir":   *dataDir,
		"batch_size": *batchSize,
	})

	opts := services.IngestOptions{
		BatchSize: *batchSize,
		Unit:      *unit,
	}
	if sep := []rune(*separator); len(sep) == 1 {
		opts.Comma = sep[0]
	} else {
		logger.Fatal(ctx, "[INGESTER_ERROR] Separator must be a single character", logging.Fields{
			"separator": *separator,
		}, nil)
	}
	if *resolution != "" {
		freq, err := models.ParseFrequency(*resolution)
		if err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Invalid resolution", logging.Fields{}, err)
		}
		opts.Resolution = freq
	}

	zones, err := repository.LoadZones(cfg.Retrieval.ReferenceTZ, cfg.Retrieval.SummertimeTZ)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Invalid retrieval zones", logging.Fields{}, err)
	}
	opts.Location = zones.Reference

	metricsCollector := metrics.NewCollector("load_forecast_ingester", prometheus.NewRegistry())

	db, err := database.NewPostgresDB(database.FromAppConfig(cfg.Database), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewTimeSeriesRepository(db, zones, logger, metricsCollector)
	ingestionService := services.NewIngestionService(repo, logger, metricsCollector)

	result, err := ingestionService.IngestDirectory(ctx, *dataDir, opts)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"error": err.Error(),
		}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:        %d\n", result.TotalFiles)
	fmt.Printf("Series Written:     %d\n", result.SeriesCreated)
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Successful Records: %d\n", result.SuccessfulRecords)
	fmt.Printf("Failed Records:     %d\n", result.FailedRecords)
	fmt.Printf("Duration:           %v\n", result.Duration.Round(time.Millisecond))

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
	})
}
