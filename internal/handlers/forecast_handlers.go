package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"load-forecast/internal/evaluation"
	"load-forecast/internal/forecast"
	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/internal/services"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

const maxRequestBody = 32 << 20

// HealthCheckFunc reports the health of one dependency
type HealthCheckFunc func(ctx context.Context) error

// ForecastHandler handles time series and forecast API endpoints
type ForecastHandler struct {
	seriesService   *services.TimeSeriesService
	forecastService *services.ForecastService
	checks          map[string]HealthCheckFunc
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewForecastHandler creates a new forecast handler. checks are run by GET /health.
func NewForecastHandler(
	seriesService *services.TimeSeriesService,
	forecastService *services.ForecastService,
	checks map[string]HealthCheckFunc,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ForecastHandler {
	return &ForecastHandler{
		seriesService:   seriesService,
		forecastService: forecastService,
		checks:          checks,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ListResponse wraps a list result
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

func (h *ForecastHandler) observe(endpoint string) func() {
	startTime := time.Now()
	return func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}
}

// LookupSeries handles GET /api/timeseries?name=
func (h *ForecastHandler) LookupSeries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/timeseries"
	defer h.observe(endpoint)()

	infos, err := h.seriesService.Lookup(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		h.handleError(w, r, endpoint, "[API_LOOKUP_ERROR] Failed to look up series", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, ListResponse{Data: infos, Total: len(infos)}, http.StatusOK)
}

// GetSeriesInfo handles GET /api/timeseries/{id}
func (h *ForecastHandler) GetSeriesInfo(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/timeseries/{id}"
	defer h.observe(endpoint)()

	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := h.seriesService.Info(r.Context(), id)
	if err != nil {
		h.handleError(w, r, endpoint, "[API_SERIES_INFO_ERROR] Failed to get series info", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, info, http.StatusOK)
}

// GetSeriesValues handles GET /api/timeseries/{id}/values
func (h *ForecastHandler) GetSeriesValues(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/timeseries/{id}/values"
	defer h.observe(endpoint)()

	id, err := pathID(r)
	if err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}

	filter, err := parseWindow(r)
	if err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}
	filter.TSID = id

	series, err := h.seriesService.GetSeries(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, endpoint, "[API_SERIES_VALUES_ERROR] Failed to get series values", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, series, http.StatusOK)
}

// Rollout handles POST /api/forecast/rollout
func (h *ForecastHandler) Rollout(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/forecast/rollout"
	defer h.observe(endpoint)()

	var req services.RolloutRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.sendError(w, r, endpoint, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := h.forecastService.Rollout(r.Context(), req)
	if err != nil {
		h.handleError(w, r, endpoint, "[API_ROLLOUT_ERROR] Rollout failed", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, resp, http.StatusOK)
}

// Accuracy handles GET /api/forecast/accuracy
func (h *ForecastHandler) Accuracy(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/forecast/accuracy"
	defer h.observe(endpoint)()

	query := r.URL.Query()
	actualID, err1 := strconv.ParseInt(query.Get("actual_id"), 10, 64)
	predictedID, err2 := strconv.ParseInt(query.Get("predicted_id"), 10, 64)
	if err1 != nil || err2 != nil {
		h.sendError(w, r, endpoint, "actual_id and predicted_id must be integers", http.StatusBadRequest)
		return
	}

	filter, err := parseWindow(r)
	if err != nil {
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
		return
	}

	m, err := h.forecastService.Accuracy(r.Context(), services.AccuracyRequest{
		ActualID:         actualID,
		PredictedID:      predictedID,
		From:             filter.From,
		To:               filter.To,
		Resolution:       filter.Resolution,
		OffsetSummertime: filter.OffsetSummertime,
	})
	if err != nil {
		h.handleError(w, r, endpoint, "[API_ACCURACY_ERROR] Accuracy failed", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, m, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *ForecastHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			components[name] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}
	if len(components) > 0 {
		status["components"] = components
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{
		"status": status["status"],
	})
	h.sendJSON(w, status, code)
}

// handleError maps service errors to HTTP status codes
func (h *ForecastHandler) handleError(w http.ResponseWriter, r *http.Request, endpoint, logMessage string, err error) {
	var notFound *repository.NotFoundError
	switch {
	case errors.As(err, &notFound):
		h.sendError(w, r, endpoint, err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidRequest),
		errors.Is(err, forecast.ErrEmptySeries),
		errors.Is(err, forecast.ErrUnsupportedFrequency),
		errors.Is(err, forecast.ErrFrequencyMismatch),
		errors.Is(err, forecast.ErrInsufficientRows),
		errors.Is(err, evaluation.ErrNoOverlap):
		h.sendError(w, r, endpoint, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(r.Context(), logMessage, logging.Fields{
			"endpoint": endpoint,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, endpoint, "internal server error", http.StatusInternalServerError)
	}
}

// sendJSON sends a JSON response
func (h *ForecastHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ForecastHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RequestID tags every request with an id, taken from X-Request-ID when present
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// RegisterRoutes registers all API routes
func (h *ForecastHandler) RegisterRoutes(router *mux.Router) {
	router.Use(RequestID)

	router.HandleFunc("/api/timeseries", h.LookupSeries).Methods("GET")
	router.HandleFunc("/api/timeseries/{id:[0-9]+}", h.GetSeriesInfo).Methods("GET")
	router.HandleFunc("/api/timeseries/{id:[0-9]+}/values", h.GetSeriesValues).Methods("GET")
	router.HandleFunc("/api/forecast/rollout", h.Rollout).Methods("POST")
	router.HandleFunc("/api/forecast/accuracy", h.Accuracy).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid series id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime reads a window bound. Only its civil fields are used downstream.
func parseTime(name, value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD or RFC3339", name, value)
}

// parseWindow reads from, to, resolution and offset_summertime from the query string
func parseWindow(r *http.Request) (repository.SeriesFilter, error) {
	query := r.URL.Query()
	var filter repository.SeriesFilter

	from, err := parseTime("from", query.Get("from"))
	if err != nil {
		return filter, err
	}
	to, err := parseTime("to", query.Get("to"))
	if err != nil {
		return filter, err
	}
	filter.From, filter.To = from, to

	if res := query.Get("resolution"); res != "" {
		freq, err := models.ParseFrequency(res)
		if err != nil {
			return filter, err
		}
		filter.Resolution = freq
	}

	if offset := query.Get("offset_summertime"); offset != "" {
		v, err := strconv.ParseBool(offset)
		if err != nil {
			return filter, fmt.Errorf("invalid offset_summertime %q", offset)
		}
		filter.OffsetSummertime = v
	}

	return filter, nil
}
