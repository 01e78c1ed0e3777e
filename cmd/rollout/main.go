package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"load-forecast/internal/calendar"
	"load-forecast/internal/config"
	"load-forecast/internal/forecast"
	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/internal/services"
	"load-forecast/pkg/database"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

// intFlag registers an int flag that only overrides the configured value when set
func intFlag(name, usage string, target **int) {
	flag.Func(name, usage, func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*target = &v
		return nil
	})
}

func stringFlag(name, usage string, target **string) {
	flag.Func(name, usage, func(s string) error {
		*target = &s
		return nil
	})
}

func main() {
	tsID := flag.Int64("ts-id", 0, "Valuelist id of the history in the store")
	historyCSV := flag.String("history-csv", "", "CSV file with the history (timestamp;value), used instead of the store")
	separator := flag.String("separator", ";", "CSV field separator")
	historyFrom := flag.String("history-from", "", "History start (YYYY-MM-DD), default one year before -start")
	historyTo := flag.String("history-to", "", "History end (YYYY-MM-DD), default -start")
	resolution := flag.String("resolution", "h", "History resolution in the store (h or 15min)")
	offsetSummertime := flag.Bool("offset-summertime", false, "Read the history in CET/CEST")
	start := flag.String("start", "", "Forecast start (YYYY-MM-DD)")
	end := flag.String("end", "", "Forecast end, exclusive (YYYY-MM-DD)")
	out := flag.String("out", "", "Write the forecast to this CSV file")

	var opts forecast.Overrides
	intFlag("window-size", "Initial calendar-distance tolerance", &opts.WindowSize)
	intFlag("expand-step", "Tolerance growth per retry", &opts.ExpandStep)
	intFlag("n-val-min", "Minimum historical days before accepting a match", &opts.NValMin)
	intFlag("n-iter-max", "Retries before the day-type fallback", &opts.NIterMax)
	intFlag("max-window-size", "Advisory upper bound of the window", &opts.MaxWindowSize)
	intFlag("daytype-replace", "Day type used by the fallback", &opts.DaytypeReplace)
	stringFlag("tz", "Timezone of the forecast horizon", &opts.TZ)
	stringFlag("freq", "Forecast frequency (h or 15min)", &opts.Freq)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("load-forecast-rollout", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zones, err := repository.LoadZones(cfg.Retrieval.ReferenceTZ, cfg.Retrieval.SummertimeTZ)
	if err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid retrieval zones", logging.Fields{}, err)
	}

	base := cfg.Forecast.Options().Merge(opts)
	horizon, _, err := base.Validate()
	if err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid forecast options", logging.Fields{}, err)
	}

	req := services.RolloutRequest{
		TSID:             *tsID,
		OffsetSummertime: *offsetSummertime,
		Options:          opts,
	}
	if req.Start, err = parseDate(*start, horizon); err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid -start", logging.Fields{}, err)
	}
	if req.End, err = parseDate(*end, horizon); err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid -end", logging.Fields{}, err)
	}
	if *historyFrom != "" {
		if req.HistoryFrom, err = parseDate(*historyFrom, zones.Reference); err != nil {
			logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid -history-from", logging.Fields{}, err)
		}
	}
	if *historyTo != "" {
		if req.HistoryTo, err = parseDate(*historyTo, zones.Reference); err != nil {
			logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid -history-to", logging.Fields{}, err)
		}
	}
	if req.Resolution, err = models.ParseFrequency(*resolution); err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid -resolution", logging.Fields{}, err)
	}

	metricsCollector := metrics.NewCollector("load_forecast_rollout", prometheus.NewRegistry())

	holidays, err := calendar.NewSwissCalendar(cfg.Holidays.Canton)
	if err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Invalid holiday calendar", logging.Fields{}, err)
	}
	forecaster := forecast.New(holidays, forecast.WithWorkers(cfg.Forecast.Workers))

	var seriesService *services.TimeSeriesService
	if *historyCSV != "" {
		history, err := readHistory(*historyCSV, *separator, zones.Reference, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[ROLLOUT_ERROR] Failed to read history", logging.Fields{"file": *historyCSV}, err)
		}
		req.History = &history
	} else {
		db, err := database.NewPostgresDB(database.FromAppConfig(cfg.Database), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[ROLLOUT_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		repo := repository.NewTimeSeriesRepository(db, zones, logger, metricsCollector)
		seriesService = services.NewTimeSeriesService(repo, cfg.Retrieval.CheckResolution, logger, metricsCollector)
	}

	forecastService := services.NewForecastService(seriesService, forecaster, cfg.Forecast.Options(), nil, logger, metricsCollector)

	resp, err := forecastService.Rollout(ctx, req)
	if err != nil {
		logger.Fatal(ctx, "[ROLLOUT_ERROR] Rollout failed", logging.Fields{}, err)
	}

	printSummary(resp)

	if *out != "" {
		if err := writeForecast(*out, resp.Forecast); err != nil {
			logger.Fatal(ctx, "[ROLLOUT_ERROR] Failed to write forecast", logging.Fields{"file": *out}, err)
		}
		fmt.Printf("\nForecast written to %s\n", *out)
	}
}

func parseDate(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", value, loc)
}

func readHistory(path, separator string, loc *time.Location, logger *logging.StructuredLogger, collector *metrics.Collector) (models.Series, error) {
	sep := []rune(separator)
	if len(sep) != 1 {
		return models.Series{}, fmt.Errorf("separator must be a single character")
	}

	file, err := os.Open(path)
	if err != nil {
		return models.Series{}, err
	}
	defer file.Close()

	reader := services.NewIngestionService(nil, logger, collector)
	series, result, err := reader.ReadSeries(file, path, services.IngestOptions{Comma: sep[0], Location: loc})
	if err != nil {
		return models.Series{}, err
	}
	if result.FailedRecords > 0 {
		logger.Warn(context.Background(), "[ROLLOUT_HISTORY_SKIPPED] Unparseable history rows skipped", logging.Fields{
			"file":   path,
			"failed": result.FailedRecords,
		})
	}
	return series, nil
}

func printSummary(resp *services.RolloutResponse) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("ROLLOUT COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:      %s\n", resp.RunID)
	fmt.Printf("Points:      %d\n", len(resp.Forecast))
	fmt.Printf("Days:        %d\n", len(resp.Days))
	fmt.Printf("Empty Days:  %d\n", resp.EmptyDays)

	fallbacks := 0
	for _, d := range resp.Days {
		if d.Outcome() == forecast.OutcomeFallback {
			fallbacks++
		}
	}
	fmt.Printf("Fallbacks:   %d\n", fallbacks)

	if resp.Evaluation == nil {
		return
	}
	fmt.Printf("\nHistory energy: %.2f\n", resp.Evaluation.HistWork)
	for _, year := range resp.Evaluation.Years() {
		fmt.Printf("Forecast %d:   %.2f\n", year, resp.Evaluation.ProgWork[year])
	}
}

func writeForecast(path string, points []forecast.Point) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	w.Write([]string{"timestamp", "forecast", "nval", "n_iter"})
	for _, p := range points {
		w.Write([]string{
			p.Time.Format(time.RFC3339),
			strconv.FormatFloat(p.Forecast, 'f', -1, 64),
			strconv.Itoa(p.NVal),
			strconv.Itoa(p.NIter),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}
