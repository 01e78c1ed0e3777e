package forecast

import (
	"context"
	"math"

	"load-forecast/internal/calendar"
)

// fallbackWindow is the window the day-type fallback restarts from, independent of WindowSize.
const fallbackWindow = 10

// match is the outcome of the window search for one forecast day.
type match struct {
	rows        []int // indices into the historical frame
	matchedDays int
	iterations  int
	window      int
	dayShift    int
	fallback    bool
}

// matcher selects historical rows by day type and seasonal distance.
type matcher struct {
	hist   *Frame
	byType map[calendar.DayType][]int
	opts   Options
}

func newMatcher(hist *Frame, opts Options) *matcher {
	byType := make(map[calendar.DayType][]int)
	for i, r := range hist.Rows {
		byType[r.DayType] = append(byType[r.DayType], i)
	}
	return &matcher{hist: hist, byType: byType, opts: opts}
}

// find runs the expanding window search for a forecast day described by its first row.
// The last selection is returned even when it stays below NValMin.
func (m *matcher) find(ctx context.Context, day Row) (match, error) {
	res := match{window: m.opts.WindowSize, dayShift: m.opts.DaytypeReplace}
	iteration := 0

	for {
		if err := ctx.Err(); err != nil {
			return match{}, err
		}

		res.rows, res.matchedDays = m.selectRows(day.DayType-calendar.DayType(res.dayShift), day.Enc1, day.Enc2, res.window)
		iteration++
		res.iterations++

		if res.matchedDays >= m.opts.NValMin {
			return res, nil
		}
		if iteration < m.opts.NIterMax {
			res.window += m.opts.ExpandStep
			continue
		}
		if day.DayType.IsSpecial() && res.dayShift == 0 {
			res.window = fallbackWindow
			res.dayShift = calendar.BaselineShift
			res.fallback = true
			iteration = 0
			continue
		}
		return res, nil
	}
}

// selectRows returns the rows of day type dt whose encodings are both within window of
// (enc1, enc2), bounds inclusive, and the number of distinct days among them with at least
// one observed value.
func (m *matcher) selectRows(dt calendar.DayType, enc1, enc2, window int) ([]int, int) {
	var rows []int
	days := make(map[int]struct{})

	for _, i := range m.byType[dt] {
		r := m.hist.Rows[i]
		if abs(r.Enc1-enc1) > window || abs(r.Enc2-enc2) > window {
			continue
		}
		rows = append(rows, i)
		if !math.IsNaN(r.Value) {
			days[r.DateHelper] = struct{}{}
		}
	}

	return rows, len(days)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
