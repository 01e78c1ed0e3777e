package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"load-forecast/internal/cache"
	"load-forecast/internal/calendar"
	"load-forecast/internal/config"
	"load-forecast/internal/forecast"
	"load-forecast/internal/handlers"
	"load-forecast/internal/repository"
	"load-forecast/internal/services"
	"load-forecast/pkg/database"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

func main() {
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

	logger := logging.NewStructuredLogger("load-forecast-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting load forecast API server", logging.Fields{
		"version":     "1.0.0",
		"environment": cfg.Environment,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"canton":      cfg.Holidays.Canton,
	})

	metricsCollector := metrics.NewCollector("load_forecast", prometheus.DefaultRegisterer)

	db, err := database.NewPostgresDB(database.FromAppConfig(cfg.Database), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	zones, err := repository.LoadZones(cfg.Retrieval.ReferenceTZ, cfg.Retrieval.SummertimeTZ)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid retrieval zones", logging.Fields{}, err)
	}

	holidays, err := calendar.NewSwissCalendar(cfg.Holidays.Canton)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid holiday calendar", logging.Fields{}, err)
	}

	checks := map[string]handlers.HealthCheckFunc{
		"database": db.HealthCheck,
	}

	var resultCache *cache.ForecastCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to redis", logging.Fields{}, err)
		}
		defer client.Close()

		resultCache = cache.NewForecastCache(client, cfg.Redis.TTL, logger, metricsCollector)
		checks["redis"] = resultCache.HealthCheck
	}

	// Initialize repository and services
	repo := repository.NewTimeSeriesRepository(db, zones, logger, metricsCollector)
	seriesService := services.NewTimeSeriesService(repo, cfg.Retrieval.CheckResolution, logger, metricsCollector)
	forecaster := forecast.New(holidays, forecast.WithWorkers(cfg.Forecast.Workers))
	forecastService := services.NewForecastService(seriesService, forecaster, cfg.Forecast.Options(), resultCache, logger, metricsCollector)

	handler := handlers.NewForecastHandler(seriesService, forecastService, checks, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
