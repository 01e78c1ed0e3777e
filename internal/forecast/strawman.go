package forecast

import (
	"fmt"
	"time"

	"load-forecast/internal/models"
)

// Strawman returns a zero-valued series over [start, end) in loc at freq. Only the civil
// fields of start and end are used. Steps are absolute, so a day on which the clocks change
// has 23 or 25 hourly rows.
func Strawman(start, end time.Time, loc *time.Location, freq models.Frequency) (models.Series, error) {
	if freq == models.Daily {
		return models.Series{}, fmt.Errorf("%w: strawman needs an intraday frequency, got %q", ErrUnsupportedFrequency, freq)
	}

	from := civilIn(start, loc)
	to := civilIn(end, loc)
	if !from.Before(to) {
		return models.Series{}, fmt.Errorf("forecast start %s must be before end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	step := freq.Duration()
	points := make([]models.Point, 0, int(to.Sub(from)/step))
	for t := from; t.Before(to); t = t.Add(step) {
		points = append(points, models.Point{Time: t, Value: 0})
	}

	return models.Series{Name: "strawman", Points: points}, nil
}

func civilIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
}
