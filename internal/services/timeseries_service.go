package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

// ErrInvalidRequest marks caller errors
var ErrInvalidRequest = errors.New("invalid request")

// TimeSeriesService handles load curve retrieval
type TimeSeriesService struct {
	repo            repository.TimeSeriesRepository
	checkResolution bool
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewTimeSeriesService creates a new time series service. With checkResolution set, every
// retrieval first compares the stored spacing against the requested resolution.
func NewTimeSeriesService(repo repository.TimeSeriesRepository, checkResolution bool, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TimeSeriesService {
	return &TimeSeriesService{
		repo:            repo,
		checkResolution: checkResolution,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// GetSeries loads a series. A resolution mismatch is logged and counted, never fatal.
func (s *TimeSeriesService) GetSeries(ctx context.Context, filter repository.SeriesFilter) (models.Series, error) {
	if filter.TSID <= 0 {
		return models.Series{}, fmt.Errorf("%w: ts_id must be positive", ErrInvalidRequest)
	}
	if filter.Resolution == "" {
		filter.Resolution = models.Hourly
	}
	if !filter.From.Before(filter.To) {
		return models.Series{}, fmt.Errorf("%w: from must be before to", ErrInvalidRequest)
	}

	if s.checkResolution {
		check, err := s.repo.CheckResolution(ctx, filter)
		if err != nil {
			return models.Series{}, err
		}
		if !check.Matches() {
			s.metrics.ResolutionMismatchesTotal.WithLabelValues(string(filter.Resolution)).Inc()
			s.logger.Warn(ctx, "[SERIES_RESOLUTION_MISMATCH] Stored resolution differs from requested", logging.Fields{
				"ts_id":     filter.TSID,
				"requested": check.Expected.String(),
				"stored":    check.Actual.String(),
			})
		}
	}

	series, err := s.repo.GetSeries(ctx, filter)
	if err != nil {
		return models.Series{}, err
	}

	if missing := series.Missing(); missing == series.Len() && series.Len() > 0 {
		s.logger.Warn(ctx, "[SERIES_EMPTY] No stored values in window", logging.Fields{
			"ts_id": filter.TSID,
			"from":  filter.From,
			"to":    filter.To,
		})
	}

	return series, nil
}

// Lookup finds series by name. A pattern without wildcards matches as a substring.
func (s *TimeSeriesService) Lookup(ctx context.Context, name string) ([]*models.TimeSeriesInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if !strings.ContainsAny(name, "%_") {
		name = "%" + name + "%"
	}
	return s.repo.LookupByName(ctx, name)
}

// Info retrieves the description of one series
func (s *TimeSeriesService) Info(ctx context.Context, tsID int64) (*models.TimeSeriesInfo, error) {
	return s.repo.GetInfo(ctx, tsID)
}

// HealthCheck checks the backing store
func (s *TimeSeriesService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
