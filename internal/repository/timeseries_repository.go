package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"load-forecast/internal/models"
	"load-forecast/pkg/database"
	"load-forecast/pkg/logging"
	"load-forecast/pkg/metrics"
)

// TimeSeriesRepository provides data access for stored load curves
type TimeSeriesRepository interface {
	// Read operations
	GetSeries(ctx context.Context, filter SeriesFilter) (models.Series, error)
	CheckResolution(ctx context.Context, filter SeriesFilter) (*ResolutionCheck, error)
	LookupByName(ctx context.Context, pattern string) ([]*models.TimeSeriesInfo, error)
	GetInfo(ctx context.Context, tsID int64) (*models.TimeSeriesInfo, error)

	// Write operations
	CreateTimeSeries(ctx context.Context, info *models.TimeSeriesInfo) error
	InsertValuesBatch(ctx context.Context, ident int64, resolution models.Frequency, points []models.Point) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// SeriesFilter selects the values of one series in [From, To).
//
// Only the civil fields of From and To are used: they are read as wall clock in the summertime
// zone when OffsetSummertime is set, otherwise in the reference zone. Daily series use the dates only.
type SeriesFilter struct {
	TSID             int64
	From             time.Time
	To               time.Time
	Resolution       models.Frequency
	OffsetSummertime bool
}

// ResolutionCheck is the spacing of the first two stored values of a window
type ResolutionCheck struct {
	Expected time.Duration
	Actual   time.Duration
	// Checked is false when the window holds fewer than two values.
	Checked bool
}

// Matches reports whether the stored spacing agrees with the requested resolution
func (c *ResolutionCheck) Matches() bool {
	return !c.Checked || c.Actual == c.Expected
}

// Zones are the timezones stored timestamps are interpreted in
type Zones struct {
	// Reference is the fixed-offset zone of the stored wall-clock timestamps.
	Reference *time.Location
	// Summertime is the civil zone series are converted to on request.
	Summertime *time.Location
}

// LoadZones resolves the zone names of the retrieval configuration
func LoadZones(reference, summertime string) (Zones, error) {
	ref, err := time.LoadLocation(reference)
	if err != nil {
		return Zones{}, fmt.Errorf("invalid reference zone %q: %w", reference, err)
	}
	summer, err := time.LoadLocation(summertime)
	if err != nil {
		return Zones{}, fmt.Errorf("invalid summertime zone %q: %w", summertime, err)
	}
	return Zones{Reference: ref, Summertime: summer}, nil
}

// timeSeriesRepository implements TimeSeriesRepository
type timeSeriesRepository struct {
	db      *database.PostgresDB
	zones   Zones
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTimeSeriesRepository creates a new time series repository
func NewTimeSeriesRepository(db *database.PostgresDB, zones Zones, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) TimeSeriesRepository {
	return &timeSeriesRepository{
		db:      db,
		zones:   zones,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// window converts the filter bounds to absolute instants
func (r *timeSeriesRepository) window(filter SeriesFilter) (time.Time, time.Time, error) {
	loc := r.zones.Reference
	if filter.OffsetSummertime && filter.Resolution != models.Daily {
		loc = r.zones.Summertime
	}

	civil := func(t time.Time) time.Time {
		y, m, d := t.Date()
		if filter.Resolution == models.Daily {
			return time.Date(y, m, d, 0, 0, 0, 0, loc)
		}
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	}

	from, to := civil(filter.From), civil(filter.To)
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid window: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

// wall renders t as the naive wall clock the store keeps
func (r *timeSeriesRepository) wall(t time.Time) time.Time {
	w := t.In(r.zones.Reference)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), 0, time.UTC)
}

// fromWall interprets a stored wall clock in the reference zone
func (r *timeSeriesRepository) fromWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, r.zones.Reference)
}

const seriesIdent = `(SELECT MIN(ident) FROM ts_timeseries WHERE valuelist_id = $1)`

// GetSeries returns the values in the filter window on the complete index, NaN where no
// usable value is stored.
func (r *timeSeriesRepository) GetSeries(ctx context.Context, filter SeriesFilter) (models.Series, error) {
	from, to, err := r.window(filter)
	if err != nil {
		return models.Series{}, err
	}

	query := `
		SELECT v.tstamp, v.value, v.state
		FROM ts_values v
		WHERE v.timeseries_id = ` + seriesIdent + `
		  AND v.resolution = $2
		  AND v.tstamp >= $3
		  AND v.tstamp < $4
		ORDER BY v.tstamp
	`

	var rows []models.RawValue
	err = r.db.SelectContext(ctx, "get_series", &rows, query, filter.TSID, string(filter.Resolution), r.wall(from), r.wall(to))
	if err != nil {
		return models.Series{}, fmt.Errorf("failed to get series %d: %w", filter.TSID, err)
	}

	values := make(map[int64]float64, len(rows))
	for _, row := range rows {
		if row.Usable(filter.Resolution) {
			values[r.fromWall(row.Tstamp).Unix()] = row.Value.Float64
		}
	}

	// the reference zone has a fixed offset, so nominal steps never skip or repeat a slot
	step := filter.Resolution.Duration()
	series := models.Series{Name: strconv.FormatInt(filter.TSID, 10)}
	for t := from.In(r.zones.Reference); t.Before(to); t = t.Add(step) {
		v, ok := values[t.Unix()]
		if !ok {
			v = math.NaN()
		}
		series.Points = append(series.Points, models.Point{Time: t, Value: v})
	}

	if filter.OffsetSummertime && filter.Resolution != models.Daily {
		series = series.In(r.zones.Summertime)
	}

	r.metrics.SeriesPointsTotal.WithLabelValues(string(filter.Resolution)).Add(float64(len(rows)))
	r.logger.Debug(ctx, "[REPO_GET_SERIES] Series loaded", logging.Fields{
		"ts_id":      filter.TSID,
		"resolution": string(filter.Resolution),
		"stored":     len(rows),
		"points":     series.Len(),
		"missing":    series.Missing(),
	})

	return series, nil
}

// CheckResolution compares the spacing of the first two stored values with the requested resolution
func (r *timeSeriesRepository) CheckResolution(ctx context.Context, filter SeriesFilter) (*ResolutionCheck, error) {
	from, to, err := r.window(filter)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT v.tstamp
		FROM ts_values v
		WHERE v.timeseries_id = ` + seriesIdent + `
		  AND v.resolution = $2
		  AND v.tstamp >= $3
		  AND v.tstamp < $4
		ORDER BY v.tstamp
		LIMIT 2
	`

	var stamps []time.Time
	err = r.db.SelectContext(ctx, "check_resolution", &stamps, query, filter.TSID, string(filter.Resolution), r.wall(from), r.wall(to))
	if err != nil {
		return nil, fmt.Errorf("failed to check resolution of series %d: %w", filter.TSID, err)
	}

	check := &ResolutionCheck{Expected: filter.Resolution.Duration()}
	if len(stamps) == 2 {
		check.Checked = true
		check.Actual = stamps[1].Sub(stamps[0])
	}
	return check, nil
}

// LookupByName finds series whose name matches a LIKE pattern
func (r *timeSeriesRepository) LookupByName(ctx context.Context, pattern string) ([]*models.TimeSeriesInfo, error) {
	query := `
		SELECT ident, valuelist_id, name, parent, unit, created_at, last_saved_at
		FROM ts_timeseries
		WHERE name LIKE $1
		ORDER BY name, valuelist_id
	`

	var infos []*models.TimeSeriesInfo
	err := r.db.SelectContext(ctx, "lookup_series", &infos, query, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to look up series %q: %w", pattern, err)
	}

	return infos, nil
}

// GetInfo retrieves the description of a series by its public id
func (r *timeSeriesRepository) GetInfo(ctx context.Context, tsID int64) (*models.TimeSeriesInfo, error) {
	query := `
		SELECT ident, valuelist_id, name, parent, unit, created_at, last_saved_at
		FROM ts_timeseries
		WHERE valuelist_id = $1
		ORDER BY ident
		LIMIT 1
	`

	var info models.TimeSeriesInfo
	err := r.db.GetContext(ctx, "get_series_info", &info, query, tsID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "timeseries",
			ID:       strconv.FormatInt(tsID, 10),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get series info: %w", err)
	}

	return &info, nil
}

// CreateTimeSeries creates or renames a series and stores its ident in info.ID
func (r *timeSeriesRepository) CreateTimeSeries(ctx context.Context, info *models.TimeSeriesInfo) error {
	query := `
		INSERT INTO ts_timeseries (valuelist_id, name, parent, unit, created_at, last_saved_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (valuelist_id) DO UPDATE SET
			name = EXCLUDED.name,
			parent = EXCLUDED.parent,
			unit = EXCLUDED.unit
		RETURNING ident
	`

	now := time.Now().UTC()
	err := r.db.GetContext(ctx, "create_series", &info.ID, query,
		info.ValuelistID,
		info.Name,
		info.Parent,
		info.Unit,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create series: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_SERIES] Series created", logging.Fields{
		"ident":        info.ID,
		"valuelist_id": info.ValuelistID,
		"name":         info.Name,
	})

	return nil
}

// InsertValuesBatch upserts values of one series in a single transaction. NaN is stored as NULL.
func (r *timeSeriesRepository) InsertValuesBatch(ctx context.Context, ident int64, resolution models.Frequency, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(points)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"ident":       ident,
			"count":       len(points),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ts_values (timeseries_id, resolution, tstamp, value, state)
		VALUES ($1, $2, $3, $4, 0)
		ON CONFLICT (timeseries_id, resolution, tstamp) DO UPDATE SET
			value = EXCLUDED.value,
			state = EXCLUDED.state
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		value := sql.NullFloat64{Float64: p.Value, Valid: !math.IsNaN(p.Value)}
		if _, err := stmt.ExecContext(ctx, ident, string(resolution), r.wall(p.Time), value); err != nil {
			return fmt.Errorf("failed to insert value at %s: %w", p.Time.Format(time.RFC3339), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ts_timeseries SET last_saved_at = $1 WHERE ident = $2`, time.Now().UTC(), ident); err != nil {
		return fmt.Errorf("failed to update last save: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(points)))

	return nil
}

// HealthCheck checks database connectivity
func (r *timeSeriesRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
