package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"load-forecast/internal/models"
	"load-forecast/internal/repository"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

// IngestionService loads load-curve CSV files into the store
type IngestionService struct {
	repo    repository.TimeSeriesRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestOptions controls how files are read
type IngestOptions struct {
	BatchSize int
	// Comma is the field separator; zero selects ';'.
	Comma rune
	// Location is the zone of timestamps without an offset.
	Location *time.Location
	// Resolution overrides the spacing inferred from the first two rows.
	Resolution models.Frequency
	Unit       string
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	SeriesCreated     int
	Duration          time.Duration
	Errors            []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	Ident             int64
	Resolution        models.Frequency
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.TimeSeriesRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every *.csv file of dataDir. Files are named <valuelist_id>[_<name>].csv.
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, opts IngestOptions) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": opts.BatchSize,
		"stage":      "INITIALIZATION",
	})

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no data files found in %s", dataDir)
	}

	result := &IngestionResult{
		TotalFiles: len(files),
		Errors:     make([]string, 0),
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	for _, filePath := range files {
		fileLog := s.logger.WithFields(logging.Fields{"file_path": filePath})

		info, err := seriesFromFileName(filePath)
		if err == nil {
			info.Unit = opts.Unit
		}

		var fileResult *FileIngestionResult
		if err == nil {
			fileResult, err = s.IngestFile(ctx, filePath, info, opts)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			fileLog.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"stage": "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.SeriesCreated++
		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords

		fileLog.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
			"ident":              fileResult.Ident,
			"resolution":         string(fileResult.Resolution),
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

// IngestFile reads one CSV file of timestamp/value rows and stores it as the series info
func (s *IngestionService) IngestFile(ctx context.Context, filePath string, info *models.TimeSeriesInfo, opts IngestOptions) (*FileIngestionResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.Ingest(ctx, file, info, opts)
}

// Ingest reads CSV rows from r. A first row that does not parse is treated as a header.
func (s *IngestionService) Ingest(ctx context.Context, r io.Reader, info *models.TimeSeriesInfo, opts IngestOptions) (*FileIngestionResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	points, result, err := s.parse(r, opts)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no valid records")
	}

	resolution := opts.Resolution
	if resolution == "" {
		inferred, ok := models.InferFrequency(points)
		if !ok {
			return nil, fmt.Errorf("cannot infer resolution from the first two records")
		}
		resolution = inferred
	}
	result.Resolution = resolution

	if err := s.repo.CreateTimeSeries(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to create series: %w", err)
	}
	result.Ident = info.ID

	for start := 0; start < len(points); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(points))
		if err := s.repo.InsertValuesBatch(ctx, info.ID, resolution, points[start:end]); err != nil {
			s.metrics.RecordIngestionError("batch_error")
			return nil, fmt.Errorf("failed to insert batch: %w", err)
		}
		result.SuccessfulRecords += end - start
	}

	return result, nil
}

// ReadSeries parses a load curve without storing it
func (s *IngestionService) ReadSeries(r io.Reader, name string, opts IngestOptions) (models.Series, *FileIngestionResult, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	points, result, err := s.parse(r, opts)
	if err != nil {
		return models.Series{}, nil, err
	}
	if freq, ok := models.InferFrequency(points); ok {
		result.Resolution = freq
	}
	result.SuccessfulRecords = len(points)
	return models.Series{Name: name, Points: points}, result, nil
}

func (s *IngestionService) parse(r io.Reader, opts IngestOptions) ([]models.Point, *FileIngestionResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = opts.Comma
	if reader.Comma == 0 {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &FileIngestionResult{}
	points := make([]models.Point, 0, 1024)
	line := 0

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				result.TotalRecords++
				result.FailedRecords++
				s.metrics.RecordIngestionError("parse_error")
				continue
			}
			return nil, nil, fmt.Errorf("error reading file: %w", err)
		}

		if len(fields) < 2 {
			result.TotalRecords++
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			continue
		}

		record := models.RawLoadRecord{Timestamp: fields[0], Value: fields[1]}
		point, err := record.ToPoint(opts.Location)
		if err != nil {
			if line == 1 {
				continue
			}
			result.TotalRecords++
			result.FailedRecords++
			s.metrics.RecordIngestionError("conversion_error")
			continue
		}

		result.TotalRecords++
		points = append(points, point)
	}

	return points, result, nil
}

// seriesFromFileName derives the series from <valuelist_id>[_<name>].csv
func seriesFromFileName(filePath string) (*models.TimeSeriesInfo, error) {
	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	idPart, name, _ := strings.Cut(base, "_")

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("file name %q does not start with a valuelist id", filepath.Base(filePath))
	}
	if name == "" {
		name = idPart
	}

	return &models.TimeSeriesInfo{ValuelistID: id, Name: name}, nil
}
