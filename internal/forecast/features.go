package forecast

import (
	"errors"
	"math"
	"time"

	"load-forecast/internal/calendar"
	"load-forecast/internal/models"
)

var (
	ErrEmptySeries          = errors.New("empty series")
	ErrUnsupportedFrequency = errors.New("unsupported frequency")
	ErrFrequencyMismatch    = errors.New("historical series has no hour of day")
	ErrInsufficientRows     = errors.New("at least two rows are needed to derive the sampling interval")
)

// Row is one timestamp enriched with the calendar features used for matching.
type Row struct {
	Time            time.Time
	Value           float64
	Enc1            int
	Enc2            int
	DayType         calendar.DayType
	DSTOffset       float64
	DateHelper      int
	DateHelperFloat float64
	// Hour and Minute are only meaningful when the frame HasClock.
	Hour   int
	Minute int
}

// Frame is an enriched series. Frames are never mutated after they are built.
type Frame struct {
	Freq     models.Frequency
	HasClock bool
	Rows     []Row
}

func (f *Frame) Len() int {
	return len(f.Rows)
}

// Series returns the frame's values as a plain series.
func (f *Frame) Series() models.Series {
	out := models.Series{Points: make([]models.Point, len(f.Rows))}
	for i, r := range f.Rows {
		out.Points[i] = models.Point{Time: r.Time, Value: r.Value}
	}
	return out
}

// BuildFeatures enriches a historical series. Quarter-hourly input is first averaged to hourly
// values; a series whose frequency cannot be inferred is treated as hourly.
func BuildFeatures(s models.Series, hc calendar.HolidayCalendar) (*Frame, error) {
	if len(s.Points) == 0 {
		return nil, ErrEmptySeries
	}

	freq, ok := models.InferFrequency(s.Points)
	if !ok {
		freq = models.Hourly
	}

	points := s.Points
	if freq == models.QuarterHourly {
		points = ResampleHourly(points)
		freq = models.Hourly
	}

	return enrich(points, freq, hc), nil
}

func enrich(points []models.Point, freq models.Frequency, hc calendar.HolidayCalendar) *Frame {
	f := &Frame{
		Freq:     freq,
		HasClock: freq != models.Daily,
		Rows:     make([]Row, len(points)),
	}

	// classification and encodings only depend on the civil date
	type dayFeatures struct {
		dayType    calendar.DayType
		enc1, enc2 int
	}
	days := make(map[int]dayFeatures)

	for i, p := range points {
		helper := calendar.DateHelper(p.Time)
		df, seen := days[helper]
		if !seen {
			df.dayType = calendar.Classify(p.Time, hc)
			df.enc1, df.enc2 = calendar.SeasonalEncodings(p.Time)
			days[helper] = df
		}

		f.Rows[i] = Row{
			Time:            p.Time,
			Value:           p.Value,
			Enc1:            df.enc1,
			Enc2:            df.enc2,
			DayType:         df.dayType,
			DSTOffset:       calendar.DSTOffset(p.Time),
			DateHelper:      helper,
			DateHelperFloat: calendar.DateHelperFloat(p.Time),
			Hour:            p.Time.Hour(),
			Minute:          p.Time.Minute(),
		}
	}

	return f
}

// localHour truncates t to the start of its hour on the wall clock of t's location.
func localHour(t time.Time) time.Time {
	return t.Add(-time.Duration(t.Minute())*time.Minute -
		time.Duration(t.Second())*time.Second -
		time.Duration(t.Nanosecond()))
}

// ResampleHourly averages points into hourly buckets, ignoring NaN values.
// A bucket without any value is NaN. Points must be ordered.
func ResampleHourly(points []models.Point) []models.Point {
	out := make([]models.Point, 0, len(points)/4+1)

	var (
		bucket time.Time
		sum    float64
		n      int
		open   bool
	)
	flush := func() {
		v := math.NaN()
		if n > 0 {
			v = sum / float64(n)
		}
		out = append(out, models.Point{Time: bucket, Value: v})
	}

	for _, p := range points {
		hour := localHour(p.Time)
		if !open || !hour.Equal(bucket) {
			if open {
				flush()
			}
			bucket, sum, n, open = hour, 0, 0, true
		}
		if !math.IsNaN(p.Value) {
			sum += p.Value
			n++
		}
	}
	if open {
		flush()
	}

	return out
}
