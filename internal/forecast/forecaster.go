package forecast

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"load-forecast/internal/calendar"
	"load-forecast/internal/models"
)

// Point is one forecast row.
type Point struct {
	Time     time.Time `json:"timestamp"`
	Forecast float64   `json:"forecast"`
	// NVal is the number of historical observations averaged into Forecast.
	NVal int `json:"nval"`
	// NIter is the number of window iterations the day's match consumed.
	NIter int `json:"n_iter"`
}

// Day outcomes, as reported by DayCoverage.Outcome.
const (
	OutcomeMatched  = "matched"
	OutcomeFallback = "fallback"
	OutcomeEmpty    = "empty"
)

// DayCoverage describes how well one forecast day is backed by history.
type DayCoverage struct {
	Date              string           `json:"date"`
	DayType           calendar.DayType `json:"daytype"`
	MatchedDays       int              `json:"matched_days"`
	Iterations        int              `json:"iterations"`
	WindowSize        int              `json:"window_size"`
	DayShift          int              `json:"day_shift"`
	FallbackUsed      bool             `json:"fallback_used"`
	ExceededMaxWindow bool             `json:"exceeded_max_window"`
}

// Outcome classifies the day as matched, fallback or empty.
func (c DayCoverage) Outcome() string {
	switch {
	case c.MatchedDays == 0:
		return OutcomeEmpty
	case c.FallbackUsed:
		return OutcomeFallback
	default:
		return OutcomeMatched
	}
}

// Result is a complete rollout.
type Result struct {
	Points []Point       `json:"points"`
	Days   []DayCoverage `json:"days"`
}

// Series returns the forecast values.
func (r *Result) Series() models.Series {
	out := models.Series{Name: "forecast", Points: make([]models.Point, len(r.Points))}
	for i, p := range r.Points {
		out.Points[i] = models.Point{Time: p.Time, Value: p.Forecast}
	}
	return out
}

// EmptyDays counts forecast days without any historical match.
func (r *Result) EmptyDays() int {
	n := 0
	for _, d := range r.Days {
		if d.Outcome() == OutcomeEmpty {
			n++
		}
	}
	return n
}

// Forecaster runs VTV rollouts against a holiday calendar.
type Forecaster struct {
	holidays calendar.HolidayCalendar
	workers  int
}

type Option func(*Forecaster)

// WithWorkers bounds the number of forecast days computed concurrently.
func WithWorkers(n int) Option {
	return func(f *Forecaster) {
		if n > 0 {
			f.workers = n
		}
	}
}

func New(holidays calendar.HolidayCalendar, opts ...Option) *Forecaster {
	f := &Forecaster{holidays: holidays, workers: 1}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Prepare enriches the history and builds the enriched forecast horizon for [start, end).
func (f *Forecaster) Prepare(history models.Series, start, end time.Time, opts Options) (hist, fc *Frame, err error) {
	loc, freq, err := opts.Validate()
	if err != nil {
		return nil, nil, err
	}

	hist, err = BuildFeatures(history, f.holidays)
	if err != nil {
		return nil, nil, fmt.Errorf("history: %w", err)
	}

	straw, err := Strawman(start, end, loc, freq)
	if err != nil {
		return nil, nil, err
	}

	return hist, enrich(straw.Points, freq, f.holidays), nil
}

// Rollout extrapolates history onto [start, end).
func (f *Forecaster) Rollout(ctx context.Context, history models.Series, start, end time.Time, opts Options) (*Result, *Frame, error) {
	hist, fc, err := f.Prepare(history, start, end, opts)
	if err != nil {
		return nil, nil, err
	}

	res, err := f.Forecast(ctx, hist, fc, opts)
	if err != nil {
		return nil, nil, err
	}
	return res, hist, nil
}

type forecastDay struct {
	rows []int
}

// Forecast fills the forecast frame fc from the enriched history. Days are independent and
// computed on up to f.workers goroutines; each writes only its own rows of the result.
func (f *Forecaster) Forecast(ctx context.Context, hist, fc *Frame, opts Options) (*Result, error) {
	if hist.Len() == 0 || fc.Len() == 0 {
		return nil, ErrEmptySeries
	}
	if !hist.HasClock || !fc.HasClock {
		return nil, ErrFrequencyMismatch
	}

	days := groupDays(fc)
	m := newMatcher(hist, opts)

	res := &Result{
		Points: make([]Point, fc.Len()),
		Days:   make([]DayCoverage, len(days)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, day := range days {
		i, day := i, day
		g.Go(func() error {
			first := fc.Rows[day.rows[0]]
			mt, err := m.find(ctx, first)
			if err != nil {
				return err
			}
			aggregate(hist, mt, fc, day.rows, res.Points)

			res.Days[i] = DayCoverage{
				Date:              first.Time.Format(time.DateOnly),
				DayType:           first.DayType,
				MatchedDays:       mt.matchedDays,
				Iterations:        mt.iterations,
				WindowSize:        mt.window,
				DayShift:          mt.dayShift,
				FallbackUsed:      mt.fallback,
				ExceededMaxWindow: mt.window > opts.MaxWindowSize,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("forecast cancelled: %w", err)
	}

	return res, nil
}

// groupDays splits the frame into calendar days in row order.
func groupDays(fc *Frame) []forecastDay {
	var days []forecastDay
	index := make(map[int]int)

	for i, r := range fc.Rows {
		d, ok := index[r.DateHelper]
		if !ok {
			d = len(days)
			index[r.DateHelper] = d
			days = append(days, forecastDay{})
		}
		days[d].rows = append(days[d].rows, i)
	}

	return days
}
