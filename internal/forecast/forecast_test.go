package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"load-forecast/internal/calendar"
	"load-forecast/internal/models"
)

type holidaySet map[string]bool

func (h holidaySet) IsHoliday(date time.Time) bool {
	return h[calendar.CivilDate(date).Format(time.DateOnly)]
}

func (h holidaySet) Region() string { return "test" }

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func mustSG(t *testing.T) *calendar.SwissCalendar {
	t.Helper()
	c, err := calendar.NewSwissCalendar("SG")
	require.NoError(t, err)
	return c
}

func hourly(start time.Time, n int, value func(time.Time) float64) models.Series {
	s := models.Series{Points: make([]models.Point, n)}
	for i := range s.Points {
		ts := start.Add(time.Duration(i) * time.Hour)
		s.Points[i] = models.Point{Time: ts, Value: value(ts)}
	}
	return s
}

func constant(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

func year2023(t *testing.T, value func(time.Time) float64) models.Series {
	gmt1 := mustLoc(t, "Etc/GMT-1")
	return hourly(time.Date(2023, 1, 1, 0, 0, 0, 0, gmt1), 8760, value)
}

func TestRollout_HomogeneousYear(t *testing.T) {
	f := New(mustSG(t))

	res, _, err := f.Rollout(context.Background(), year2023(t, constant(100)),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)

	require.Len(t, res.Points, 7*24)
	require.Len(t, res.Days, 7)
	for _, p := range res.Points {
		assert.InDelta(t, 100.0, p.Forecast, 1e-9, p.Time.String())
		assert.GreaterOrEqual(t, p.NVal, 1, p.Time.String())
		assert.Equal(t, 1, p.NIter, p.Time.String())
	}
	for _, d := range res.Days {
		assert.Equal(t, OutcomeMatched, d.Outcome(), d.Date)
		assert.Equal(t, 10, d.WindowSize)
	}
	assert.Equal(t, calendar.Holiday, res.Days[0].DayType)
	assert.Equal(t, "2024-01-01", res.Days[0].Date)
}

func TestRollout_ShortHistoryDegradesToZero(t *testing.T) {
	gmt1 := mustLoc(t, "Etc/GMT-1")
	// Monday 2023-01-09 to Friday 2023-01-13
	history := hourly(time.Date(2023, 1, 9, 0, 0, 0, 0, gmt1), 5*24, constant(50))

	f := New(mustSG(t))
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Days, 30)

	byDate := make(map[string][]Point)
	for _, p := range res.Points {
		key := p.Time.Format(time.DateOnly)
		byDate[key] = append(byDate[key], p)
	}

	matched := 0
	for _, d := range res.Days {
		points := byDate[d.Date]
		require.Len(t, points, 24, d.Date)

		if d.DayType == calendar.Saturday || d.DayType == calendar.Sunday {
			assert.Equal(t, OutcomeEmpty, d.Outcome(), d.Date)
		}
		if d.Outcome() != OutcomeEmpty {
			matched++
			continue
		}

		assert.Equal(t, DefaultOptions().NIterMax, d.Iterations, d.Date)
		for _, p := range points {
			assert.Equal(t, 0.0, p.Forecast, p.Time.String())
			assert.Equal(t, 0, p.NVal, p.Time.String())
		}
	}

	assert.Positive(t, matched)
	assert.Equal(t, 30-matched, res.EmptyDays())
}

func TestRollout_HolidayFallsBackToBaseline(t *testing.T) {
	holidays := holidaySet{"2024-01-10": true}
	// every weekday has its own level; hour is added to check the alignment
	history := year2023(t, func(ts time.Time) float64 {
		return float64(calendar.WeekdayOf(ts))*10 + float64(ts.Hour())
	})

	f := New(holidays)
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Days, 2)

	holiday := res.Days[0]
	assert.Equal(t, calendar.Holiday, holiday.DayType)
	assert.True(t, holiday.FallbackUsed)
	assert.Equal(t, calendar.BaselineShift, holiday.DayShift)
	assert.Equal(t, fallbackWindow, holiday.WindowSize)
	assert.Equal(t, DefaultOptions().NIterMax+1, holiday.Iterations)
	assert.Equal(t, OutcomeFallback, holiday.Outcome())

	for _, p := range res.Points[:24] {
		// the holiday is forecast from Sundays
		assert.InDelta(t, 60+float64(p.Time.Hour()), p.Forecast, 1e-9, p.Time.String())
		assert.Equal(t, DefaultOptions().NIterMax+1, p.NIter)
	}

	thursday := res.Days[1]
	assert.Equal(t, calendar.Thursday, thursday.DayType)
	assert.False(t, thursday.FallbackUsed)
	assert.Equal(t, 1, thursday.Iterations)
	for _, p := range res.Points[24:] {
		assert.InDelta(t, 30+float64(p.Time.Hour()), p.Forecast, 1e-9, p.Time.String())
	}
}

func TestRollout_PlainDayNeverFallsBack(t *testing.T) {
	gmt1 := mustLoc(t, "Etc/GMT-1")
	// Sundays only
	history := hourly(time.Date(2023, 1, 8, 0, 0, 0, 0, gmt1), 24, constant(1))

	f := New(holidaySet{})
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)

	day := res.Days[0]
	assert.False(t, day.FallbackUsed)
	assert.Equal(t, 0, day.DayShift)
	assert.Equal(t, 4, day.Iterations)
	assert.Equal(t, 10+3*5, day.WindowSize)
	assert.Equal(t, OutcomeEmpty, day.Outcome())
}

func TestRollout_MaxWindowIsAdvisory(t *testing.T) {
	gmt1 := mustLoc(t, "Etc/GMT-1")
	// Wednesday 2023-02-08 is 29 encoded days away from 2024-01-10
	history := hourly(time.Date(2023, 2, 8, 0, 0, 0, 0, gmt1), 24, constant(5))

	opts := DefaultOptions()
	opts.MaxWindowSize = 20
	opts.NIterMax = 10

	f := New(holidaySet{})
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), opts)
	require.NoError(t, err)

	day := res.Days[0]
	assert.Equal(t, OutcomeMatched, day.Outcome())
	assert.Greater(t, day.WindowSize, opts.MaxWindowSize)
	assert.True(t, day.ExceededMaxWindow)
	assert.InDelta(t, 5.0, res.Points[0].Forecast, 1e-9)
}

func TestRollout_NValGrowsWithWindow(t *testing.T) {
	history := year2023(t, constant(100))
	f := New(mustSG(t))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	var previous []int
	for _, window := range []int{3, 5, 10, 20, 40} {
		opts := DefaultOptions()
		opts.WindowSize = window

		res, _, err := f.Rollout(context.Background(), history, start, end, opts)
		require.NoError(t, err)

		perDay := make([]int, len(res.Days))
		for i, p := range res.Points {
			assert.Equal(t, 1, p.NIter, "window %d", window)
			perDay[i/24] += p.NVal
		}
		for i := range previous {
			assert.GreaterOrEqual(t, perDay[i], previous[i], "window %d day %d", window, i)
		}
		previous = perDay
	}
}

func TestForecaster_WorkersAreDeterministic(t *testing.T) {
	history := year2023(t, func(ts time.Time) float64 { return float64(ts.YearDay()%17) + float64(ts.Hour()) })
	start := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 8, 0, 0, 0, 0, time.UTC)

	sequential, _, err := New(mustSG(t)).Rollout(context.Background(), history, start, end, DefaultOptions())
	require.NoError(t, err)
	parallel, _, err := New(mustSG(t), WithWorkers(8)).Rollout(context.Background(), history, start, end, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, sequential.Days, parallel.Days)
	require.Len(t, parallel.Points, len(sequential.Points))
	for i, p := range sequential.Points {
		q := parallel.Points[i]
		assert.True(t, p.Time.Equal(q.Time))
		assert.Equal(t, p.Forecast, q.Forecast, p.Time.String())
		assert.Equal(t, p.NVal, q.NVal)
		assert.Equal(t, p.NIter, q.NIter)
	}
}

func TestForecaster_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(mustSG(t)).Rollout(ctx, year2023(t, constant(1)),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForecaster_DailyHistoryRejected(t *testing.T) {
	zurich := mustLoc(t, "Europe/Zurich")
	daily := models.Series{}
	for d := 0; d < 30; d++ {
		daily.Points = append(daily.Points, models.Point{Time: time.Date(2023, 1, 1+d, 0, 0, 0, 0, zurich), Value: 2400})
	}

	_, _, err := New(mustSG(t)).Rollout(context.Background(), daily,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), DefaultOptions())
	assert.ErrorIs(t, err, ErrFrequencyMismatch)
}

func TestForecaster_QuarterHourOutput(t *testing.T) {
	opts := DefaultOptions()
	opts.Freq = "15min"

	res, _, err := New(mustSG(t)).Rollout(context.Background(), year2023(t, func(ts time.Time) float64 { return float64(ts.Hour()) }),
		time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), opts)
	require.NoError(t, err)

	require.Len(t, res.Points, 96)
	require.Len(t, res.Days, 1)
	for _, p := range res.Points {
		assert.InDelta(t, float64(p.Time.Hour()), p.Forecast, 1e-9)
	}
}

func TestForecaster_InvalidOptions(t *testing.T) {
	f := New(mustSG(t))
	history := year2023(t, constant(1))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	opts := DefaultOptions()
	opts.Freq = "D"
	_, _, err := f.Rollout(context.Background(), history, start, end, opts)
	assert.ErrorIs(t, err, ErrUnsupportedFrequency)

	opts = DefaultOptions()
	opts.Freq = "weekly"
	_, _, err = f.Rollout(context.Background(), history, start, end, opts)
	assert.ErrorIs(t, err, ErrUnsupportedFrequency)

	opts = DefaultOptions()
	opts.TZ = "Nowhere/Special"
	_, _, err = f.Rollout(context.Background(), history, start, end, opts)
	assert.Error(t, err)

	_, _, err = f.Rollout(context.Background(), models.Series{}, start, end, DefaultOptions())
	assert.True(t, errors.Is(err, ErrEmptySeries))

	_, _, err = f.Rollout(context.Background(), history, end, start, DefaultOptions())
	assert.Error(t, err)
}

func TestAlignHour(t *testing.T) {
	tests := []struct {
		hour int
		diff float64
		want int
	}{
		{0, 1, 23},
		{5, 1, 4},
		{5, 0, 5},
		{23, -1, 0},
		{12, -1, 13},
	}

	for _, tt := range tests {
		got := alignHour(tt.hour, tt.diff)
		assert.Equal(t, tt.want, got, "alignHour(%d, %v)", tt.hour, tt.diff)
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, 24)
	}
}

func TestAggregate_DSTShiftedHistory(t *testing.T) {
	hist := &Frame{Freq: models.Hourly, HasClock: true, Rows: []Row{
		{Hour: 0, DSTOffset: 1, Value: 7, DateHelper: 20230701},
		{Hour: 1, DSTOffset: 1, Value: 9, DateHelper: 20230701},
		{Hour: 1, DSTOffset: 1, Value: math.NaN(), DateHelper: 20230702},
	}}

	fc := &Frame{Freq: models.Hourly, HasClock: true}
	for h := 0; h < 24; h++ {
		fc.Rows = append(fc.Rows, Row{Hour: h, DSTOffset: 0, DateHelper: 20240110})
	}
	dayRows := make([]int, 24)
	for i := range dayRows {
		dayRows[i] = i
	}

	out := make([]Point, 24)
	aggregate(hist, match{rows: []int{0, 1, 2}, iterations: 2}, fc, dayRows, out)

	assert.Equal(t, 7.0, out[23].Forecast)
	assert.Equal(t, 1, out[23].NVal)
	assert.Equal(t, 9.0, out[0].Forecast)
	assert.Equal(t, 1, out[0].NVal, "NaN observations are skipped")
	assert.Equal(t, 0.0, out[1].Forecast)
	assert.Equal(t, 0, out[1].NVal)
	assert.Equal(t, 2, out[5].NIter)
}

func TestMatcher_InclusiveBounds(t *testing.T) {
	hist := &Frame{Freq: models.Hourly, HasClock: true, Rows: []Row{
		{DayType: calendar.Monday, Enc1: 110, Enc2: 100, DateHelper: 1},
		{DayType: calendar.Monday, Enc1: 111, Enc2: 100, DateHelper: 2},
		{DayType: calendar.Monday, Enc1: 100, Enc2: 90, DateHelper: 3},
		{DayType: calendar.Monday, Enc1: 100, Enc2: 90, DateHelper: 3},
		{DayType: calendar.Tuesday, Enc1: 100, Enc2: 100, DateHelper: 4},
	}}

	m := newMatcher(hist, DefaultOptions())
	rows, days := m.selectRows(calendar.Monday, 100, 100, 10)

	assert.Equal(t, []int{0, 2, 3}, rows)
	assert.Equal(t, 2, days, "rows of the same day count once")
}

func TestRollout_GapDaysAreNotMatches(t *testing.T) {
	gmt1 := mustLoc(t, "Etc/GMT-1")
	february := time.Date(2023, 2, 1, 0, 0, 0, 0, gmt1)
	history := year2023(t, func(ts time.Time) float64 {
		if ts.Before(february) {
			return math.NaN()
		}
		return 100
	})

	f := New(holidaySet{})
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)

	day := res.Days[0]
	assert.Equal(t, OutcomeMatched, day.Outcome())
	assert.Greater(t, day.Iterations, 1, "January gap must not satisfy the first window")
	assert.Zero(t, res.EmptyDays())
	for _, p := range res.Points {
		assert.InDelta(t, 100.0, p.Forecast, 1e-9, p.Time.String())
		assert.GreaterOrEqual(t, p.NVal, 1, p.Time.String())
	}
}

func TestRollout_AllGapHistoryIsEmpty(t *testing.T) {
	history := year2023(t, constant(math.NaN()))

	f := New(holidaySet{})
	res, _, err := f.Rollout(context.Background(), history,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEmpty, res.Days[0].Outcome())
	assert.Equal(t, 1, res.EmptyDays())
}

func TestMatcher_NaNDaysDoNotCount(t *testing.T) {
	hist := &Frame{Freq: models.Hourly, HasClock: true, Rows: []Row{
		{DayType: calendar.Monday, Enc1: 100, Enc2: 100, DateHelper: 1, Value: math.NaN()},
		{DayType: calendar.Monday, Enc1: 100, Enc2: 100, DateHelper: 1, Value: math.NaN()},
		{DayType: calendar.Monday, Enc1: 100, Enc2: 100, DateHelper: 2, Value: math.NaN()},
		{DayType: calendar.Monday, Enc1: 100, Enc2: 100, DateHelper: 2, Value: 4},
	}}

	m := newMatcher(hist, DefaultOptions())
	rows, days := m.selectRows(calendar.Monday, 100, 100, 10)

	assert.Len(t, rows, 4)
	assert.Equal(t, 1, days)
}

func TestMatcher_StopsWhenCancelled(t *testing.T) {
	opts := DefaultOptions()
	opts.ExpandStep = 0
	opts.NIterMax = MaxIterations
	m := newMatcher(&Frame{Freq: models.Hourly, HasClock: true}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.find(ctx, Row{DayType: calendar.Monday})
	assert.ErrorIs(t, err, context.Canceled)

	res, err := m.find(context.Background(), Row{DayType: calendar.Monday})
	require.NoError(t, err)
	assert.Equal(t, MaxIterations, res.iterations)
}
