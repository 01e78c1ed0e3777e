package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"load-forecast/internal/cache"
	"load-forecast/internal/evaluation"
	"load-forecast/internal/forecast"
	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

// RolloutRequest describes one VTV rollout. History comes either inline or from the store.
type RolloutRequest struct {
	TSID             int64            `json:"ts_id,omitempty"`
	History          *models.Series   `json:"history,omitempty"`
	HistoryFrom      time.Time        `json:"history_from,omitempty"`
	HistoryTo        time.Time        `json:"history_to,omitempty"`
	Resolution       models.Frequency `json:"resolution,omitempty"`
	OffsetSummertime bool             `json:"offset_summertime,omitempty"`

	Start   time.Time          `json:"start"`
	End     time.Time          `json:"end"`
	Options forecast.Overrides `json:"options"`
}

// RolloutResponse is the outcome of a rollout
type RolloutResponse struct {
	RunID      string                 `json:"run_id"`
	Options    forecast.Options       `json:"options"`
	Forecast   []forecast.Point       `json:"forecast"`
	Days       []forecast.DayCoverage `json:"days"`
	EmptyDays  int                    `json:"empty_days"`
	Evaluation *forecast.Evaluation   `json:"evaluation,omitempty"`
	Cached     bool                   `json:"cached"`
}

// AccuracyRequest compares a stored forecast with the stored actuals
type AccuracyRequest struct {
	ActualID         int64
	PredictedID      int64
	From             time.Time
	To               time.Time
	Resolution       models.Frequency
	OffsetSummertime bool
}

// ForecastService orchestrates history retrieval, rollout, evaluation and caching
type ForecastService struct {
	series     *TimeSeriesService
	forecaster *forecast.Forecaster
	defaults   forecast.Options
	cache      *cache.ForecastCache
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewForecastService creates a new forecast service. A nil cache disables caching.
func NewForecastService(series *TimeSeriesService, forecaster *forecast.Forecaster, defaults forecast.Options, resultCache *cache.ForecastCache, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ForecastService {
	return &ForecastService{
		series:     series,
		forecaster: forecaster,
		defaults:   defaults,
		cache:      resultCache,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Rollout runs a VTV rollout for req
func (s *ForecastService) Rollout(ctx context.Context, req RolloutRequest) (*RolloutResponse, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	opts := s.defaults.Merge(req.Options)
	if _, _, err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	key := ""
	if s.cache != nil {
		k, err := cache.Key(struct {
			Request RolloutRequest   `json:"request"`
			Options forecast.Options `json:"options"`
		}{req, opts})
		if err == nil {
			key = k
			var cached RolloutResponse
			if s.cache.Get(ctx, key, &cached) {
				cached.Cached = true
				return &cached, nil
			}
		}
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	s.logger.Info(ctx, "[ROLLOUT_START] Starting rollout", logging.Fields{
		"ts_id":       req.TSID,
		"start":       req.Start,
		"end":         req.End,
		"window_size": opts.WindowSize,
		"freq":        opts.Freq,
		"stage":       "INITIALIZATION",
	})

	history, err := s.history(ctx, req)
	if err != nil {
		return nil, err
	}

	timer := s.metrics.NewTimer(s.metrics.RolloutDuration)
	result, hist, err := s.forecaster.Rollout(ctx, history, req.Start, req.End, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	duration := timer.ObserveDuration()

	for _, day := range result.Days {
		s.metrics.RecordForecastDay(day.Outcome(), day.Iterations)
	}

	resp := &RolloutResponse{
		RunID:     runID,
		Options:   opts,
		Forecast:  result.Points,
		Days:      result.Days,
		EmptyDays: result.EmptyDays(),
	}

	if eval, err := forecast.Evaluate(hist, result.Series()); err != nil {
		s.logger.Warn(ctx, "[ROLLOUT_EVAL_SKIPPED] Evaluation not possible", logging.Fields{
			"error": err.Error(),
		})
	} else {
		resp.Evaluation = eval
	}

	if resp.EmptyDays > 0 {
		s.logger.Warn(ctx, "[ROLLOUT_INSUFFICIENT_HISTORY] Days without matching history are zero-filled", logging.Fields{
			"empty_days": resp.EmptyDays,
			"total_days": len(resp.Days),
		})
	}

	s.logger.Info(ctx, "[ROLLOUT_COMPLETE] Rollout completed", logging.Fields{
		"points":      len(resp.Forecast),
		"days":        len(resp.Days),
		"empty_days":  resp.EmptyDays,
		"duration_ms": duration.Milliseconds(),
		"stage":       "COMPLETE",
	})

	if key != "" {
		if err := s.cache.Set(ctx, key, resp); err != nil {
			s.logger.Warn(ctx, "[ROLLOUT_CACHE_ERROR] Failed to cache rollout", logging.Fields{
				"error": err.Error(),
			})
		}
	}

	return resp, nil
}

// normalize checks req and fills the history defaults: hourly, one year before the horizon
func (s *ForecastService) normalize(req *RolloutRequest) error {
	if req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidRequest)
	}

	if req.History != nil {
		if req.History.Len() == 0 {
			return fmt.Errorf("%w: inline history is empty", ErrInvalidRequest)
		}
		return nil
	}

	if req.TSID <= 0 {
		return fmt.Errorf("%w: either ts_id or history is required", ErrInvalidRequest)
	}
	if req.Resolution == "" {
		req.Resolution = models.Hourly
	}
	if req.HistoryTo.IsZero() {
		req.HistoryTo = req.Start
	}
	if req.HistoryFrom.IsZero() {
		req.HistoryFrom = req.HistoryTo.AddDate(-1, 0, 0)
	}
	return nil
}

func (s *ForecastService) history(ctx context.Context, req RolloutRequest) (models.Series, error) {
	if req.History != nil {
		return *req.History, nil
	}

	series, err := s.series.GetSeries(ctx, repository.SeriesFilter{
		TSID:             req.TSID,
		From:             req.HistoryFrom,
		To:               req.HistoryTo,
		Resolution:       req.Resolution,
		OffsetSummertime: req.OffsetSummertime,
	})
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to load history: %w", err)
	}
	return series, nil
}

// Accuracy compares two stored series over a window
func (s *ForecastService) Accuracy(ctx context.Context, req AccuracyRequest) (*evaluation.Metrics, error) {
	load := func(id int64) (models.Series, error) {
		return s.series.GetSeries(ctx, repository.SeriesFilter{
			TSID:             id,
			From:             req.From,
			To:               req.To,
			Resolution:       req.Resolution,
			OffsetSummertime: req.OffsetSummertime,
		})
	}

	actual, err := load(req.ActualID)
	if err != nil {
		return nil, fmt.Errorf("failed to load actuals: %w", err)
	}
	predicted, err := load(req.PredictedID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction: %w", err)
	}

	m, err := evaluation.Compare(actual, predicted)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "[ACCURACY_COMPLETE] Accuracy computed", logging.Fields{
		"actual_id":    req.ActualID,
		"predicted_id": req.PredictedID,
		"mape":         m.MAPE,
		"non_na_share": m.NonNAShare,
	})

	return m, nil
}
