package models

import (
	"database/sql"
	"encoding/json"
	"math"
	"testing"
	"time"
)

// TestRawLoadRecord_ToPoint tests CSV record parsing
func TestRawLoadRecord_ToPoint(t *testing.T) {
	gmt1, err := time.LoadLocation("Etc/GMT-1")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	tests := []struct {
		name        string
		record      RawLoadRecord
		wantErr     bool
		checkValues func(*testing.T, Point)
	}{
		{
			name:   "wall clock timestamp in the reference zone",
			record: RawLoadRecord{Timestamp: "2023-01-15 13:00:00", Value: "412.5"},
			checkValues: func(t *testing.T, p Point) {
				want := time.Date(2023, 1, 15, 12, 0, 0, 0, time.UTC)
				if !p.Time.Equal(want) {
					t.Errorf("Time = %v, want %v", p.Time, want)
				}
				if p.Value != 412.5 {
					t.Errorf("Value = %v, want %v", p.Value, 412.5)
				}
			},
		},
		{
			name:   "RFC3339 keeps its own offset",
			record: RawLoadRecord{Timestamp: "2023-07-01T00:00:00+02:00", Value: "1"},
			checkValues: func(t *testing.T, p Point) {
				want := time.Date(2023, 6, 30, 22, 0, 0, 0, time.UTC)
				if !p.Time.Equal(want) {
					t.Errorf("Time = %v, want %v", p.Time, want)
				}
			},
		},
		{
			name:   "swiss date format and thousands separator",
			record: RawLoadRecord{Timestamp: "15.01.2023 13:15", Value: "1'250.75"},
			checkValues: func(t *testing.T, p Point) {
				if p.Value != 1250.75 {
					t.Errorf("Value = %v, want %v", p.Value, 1250.75)
				}
				if p.Time.Minute() != 15 {
					t.Errorf("Minute = %v, want 15", p.Time.Minute())
				}
			},
		},
		{
			name:   "empty value is missing",
			record: RawLoadRecord{Timestamp: "2023-01-15 13:00", Value: ""},
			checkValues: func(t *testing.T, p Point) {
				if !math.IsNaN(p.Value) {
					t.Errorf("Value = %v, want NaN", p.Value)
				}
			},
		},
		{
			name:   "NaN literal is missing",
			record: RawLoadRecord{Timestamp: "2023-01-15", Value: "NaN"},
			checkValues: func(t *testing.T, p Point) {
				if !math.IsNaN(p.Value) {
					t.Errorf("Value = %v, want NaN", p.Value)
				}
			},
		},
		{
			name:    "invalid timestamp",
			record:  RawLoadRecord{Timestamp: "20230115", Value: "1"},
			wantErr: true,
		},
		{
			name:    "invalid value",
			record:  RawLoadRecord{Timestamp: "2023-01-15 13:00", Value: "12kW"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.record.ToPoint(gmt1)

			if (err != nil) != tt.wantErr {
				t.Errorf("ToPoint() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error type = %T, want *ValidationError", err)
				}
				return
			}
			if tt.checkValues != nil {
				tt.checkValues(t, p)
			}
		})
	}
}

func TestInferFrequency(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	start := time.Date(2024, 3, 30, 0, 0, 0, 0, zurich)

	tests := []struct {
		name   string
		step   time.Time
		want   Frequency
		wantOK bool
	}{
		{"quarter hour", start.Add(15 * time.Minute), QuarterHourly, true},
		{"hour", start.Add(time.Hour), Hourly, true},
		{"day", start.AddDate(0, 0, 1), Daily, true},
		{"week", start.AddDate(0, 0, 7), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferFrequency([]Point{{Time: start}, {Time: tt.step}})
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("InferFrequency() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	// 2024-03-31 has 23 hours in Zurich
	dst := []Point{{Time: start.AddDate(0, 0, 1)}, {Time: start.AddDate(0, 0, 2)}}
	if got, ok := InferFrequency(dst); !ok || got != Daily {
		t.Errorf("InferFrequency() over DST day = %v, %v, want D", got, ok)
	}

	if _, ok := InferFrequency([]Point{{Time: start}}); ok {
		t.Error("single point should not infer a frequency")
	}
}

func TestParseFrequency(t *testing.T) {
	for in, want := range map[string]Frequency{"D": Daily, "h": Hourly, "1H": Hourly, "15min": QuarterHourly, "15T": QuarterHourly} {
		got, err := ParseFrequency(in)
		if err != nil || got != want {
			t.Errorf("ParseFrequency(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseFrequency("5min"); err == nil {
		t.Error("ParseFrequency(5min) should fail")
	}
	if QuarterHourly.Duration() != 15*time.Minute || Daily.Duration() != 24*time.Hour {
		t.Error("unexpected nominal durations")
	}
}

func TestPoint_JSONMissingValues(t *testing.T) {
	s := Series{Name: "load", Points: []Point{
		{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1.5},
		{Time: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Value: math.NaN()},
	}}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var back Series
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Points[0].Value != 1.5 {
		t.Errorf("first value = %v, want 1.5", back.Points[0].Value)
	}
	if !math.IsNaN(back.Points[1].Value) {
		t.Errorf("second value = %v, want NaN", back.Points[1].Value)
	}
	if back.Missing() != 1 {
		t.Errorf("Missing() = %v, want 1", back.Missing())
	}
}

func TestRawValue_Usable(t *testing.T) {
	valid := RawValue{Value: sqlFloat(3), State: 0}
	flagged := RawValue{Value: sqlFloat(3), State: InvalidState}
	null := RawValue{}

	if !valid.Usable(Daily) || !valid.Usable(Hourly) {
		t.Error("valid value should be usable")
	}
	if flagged.Usable(Daily) {
		t.Error("flagged daily value should be dropped")
	}
	if !flagged.Usable(Hourly) {
		t.Error("state flag only applies to daily values")
	}
	if null.Usable(Hourly) {
		t.Error("NULL value should not be usable")
	}
}

func sqlFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// TestValidationError tests error handling
func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "timestamp",
		Value:   "invalid",
		Message: "invalid timestamp",
	}

	if err.Error() != "invalid timestamp" {
		t.Errorf("Error() = %v, want %v", err.Error(), "invalid timestamp")
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}
