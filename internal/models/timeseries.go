package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Frequency is the sampling interval of a series
type Frequency string

const (
	Daily         Frequency = "D"
	Hourly        Frequency = "h"
	QuarterHourly Frequency = "15min"
)

// ParseFrequency accepts the canonical names plus the common aliases used by the store
func ParseFrequency(s string) (Frequency, error) {
	switch strings.TrimSpace(s) {
	case "D", "d", "1D", "day":
		return Daily, nil
	case "h", "H", "1h", "1H", "hour":
		return Hourly, nil
	case "15min", "15m", "15T", "15Min":
		return QuarterHourly, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// Duration is the nominal step; calendar days may have 23 or 25 hours around DST changes.
func (f Frequency) Duration() time.Duration {
	switch f {
	case Daily:
		return 24 * time.Hour
	case QuarterHourly:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// InferFrequency derives the frequency from the spacing of the first two points.
// ok is false when the series is too short or the spacing is not a known frequency.
func InferFrequency(points []Point) (freq Frequency, ok bool) {
	if len(points) < 2 {
		return "", false
	}
	step := points[1].Time.Sub(points[0].Time)
	switch {
	case step == 15*time.Minute:
		return QuarterHourly, true
	case step == time.Hour:
		return Hourly, true
	case step >= 23*time.Hour && step <= 25*time.Hour:
		return Daily, true
	default:
		return "", false
	}
}

// Point is a single observation; missing values are NaN
type Point struct {
	Time  time.Time
	Value float64
}

type pointJSON struct {
	Time  time.Time `json:"timestamp"`
	Value *float64  `json:"value"`
}

// MarshalJSON writes NaN as null
func (p Point) MarshalJSON() ([]byte, error) {
	out := pointJSON{Time: p.Time}
	if !math.IsNaN(p.Value) {
		v := p.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var in pointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Time = in.Time
	p.Value = math.NaN()
	if in.Value != nil {
		p.Value = *in.Value
	}
	return nil
}

// Series is an ordered, timezone-aware load curve
type Series struct {
	Name   string  `json:"name,omitempty"`
	Points []Point `json:"points"`
}

func (s Series) Len() int {
	return len(s.Points)
}

// Missing counts NaN values
func (s Series) Missing() int {
	n := 0
	for _, p := range s.Points {
		if math.IsNaN(p.Value) {
			n++
		}
	}
	return n
}

// In returns a copy of s with every timestamp converted to loc
func (s Series) In(loc *time.Location) Series {
	out := Series{Name: s.Name, Points: make([]Point, len(s.Points))}
	for i, p := range s.Points {
		out.Points[i] = Point{Time: p.Time.In(loc), Value: p.Value}
	}
	return out
}

// TimeSeriesInfo describes a stored time series
type TimeSeriesInfo struct {
	ID          int64     `json:"id" db:"ident"`
	ValuelistID int64     `json:"valuelist_id" db:"valuelist_id"`
	Name        string    `json:"name" db:"name"`
	Parent      string    `json:"parent" db:"parent"`
	Unit        string    `json:"unit" db:"unit"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	LastSavedAt time.Time `json:"last_saved_at" db:"last_saved_at"`
}

// InvalidState flags a stored daily value as not usable.
const InvalidState int64 = 285212672

// RawValue is a row of ts_values. Tstamp is the wall clock of the store's reference zone.
type RawValue struct {
	Tstamp time.Time       `db:"tstamp"`
	Value  sql.NullFloat64 `db:"value"`
	State  int64           `db:"state"`
}

// Usable reports whether the row carries a value for resolution res
func (r RawValue) Usable(res Frequency) bool {
	if !r.Value.Valid {
		return false
	}
	return res != Daily || r.State != InvalidState
}

// RawLoadRecord is a single line of a load-curve CSV file
type RawLoadRecord struct {
	Timestamp string
	Value     string
}

var recordLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04",
	"2006-01-02",
}

// ToPoint parses the record; timestamps without an offset are read as wall clock in loc.
// Empty, "NaN" and "NA" values become NaN.
func (r *RawLoadRecord) ToPoint(loc *time.Location) (Point, error) {
	ts := strings.TrimSpace(r.Timestamp)
	var (
		t   time.Time
		err error
	)
	for _, layout := range recordLayouts {
		if t, err = time.ParseInLocation(layout, ts, loc); err == nil {
			break
		}
	}
	if err != nil {
		return Point{}, &ValidationError{
			Field:   "timestamp",
			Value:   r.Timestamp,
			Message: "invalid timestamp, expected RFC3339 or YYYY-MM-DD HH:MM[:SS]",
		}
	}

	raw := strings.TrimSpace(r.Value)
	switch strings.ToLower(raw) {
	case "", "nan", "na", "null":
		return Point{Time: t, Value: math.NaN()}, nil
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, "'", ""), 64)
	if err != nil {
		return Point{}, &ValidationError{
			Field:   "value",
			Value:   r.Value,
			Message: fmt.Sprintf("invalid load value %q", r.Value),
		}
	}

	return Point{Time: t, Value: v}, nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
