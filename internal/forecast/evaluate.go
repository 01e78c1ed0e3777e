package forecast

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"load-forecast/internal/models"
)

// Evaluation compares the energy of the history with the forecast energy per year.
type Evaluation struct {
	HistWork float64         `json:"hist_work"`
	ProgWork map[int]float64 `json:"prog_work"`
}

// Years returns the forecast years in ascending order.
func (e *Evaluation) Years() []int {
	years := make([]int, 0, len(e.ProgWork))
	for y := range e.ProgWork {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Evaluate converts both sides to energy by dividing their sums by their own sampling interval
// in hours. NaN values do not contribute.
func Evaluate(hist *Frame, forecast models.Series) (*Evaluation, error) {
	histPoints := hist.Series().Points

	histInterval, err := intervalHours(histPoints)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	progInterval, err := intervalHours(forecast.Points)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	histWork := sum(histPoints).Div(histInterval)

	byYear := make(map[int][]models.Point)
	for _, p := range forecast.Points {
		byYear[p.Time.Year()] = append(byYear[p.Time.Year()], p)
	}

	eval := &Evaluation{
		HistWork: histWork.InexactFloat64(),
		ProgWork: make(map[int]float64, len(byYear)),
	}
	for year, points := range byYear {
		eval.ProgWork[year] = sum(points).Div(progInterval).InexactFloat64()
	}

	return eval, nil
}

func intervalHours(points []models.Point) (decimal.Decimal, error) {
	if len(points) < 2 {
		return decimal.Zero, ErrInsufficientRows
	}
	step := points[1].Time.Sub(points[0].Time)
	if step <= 0 {
		return decimal.Zero, fmt.Errorf("timestamps are not increasing: %s", step)
	}
	return decimal.NewFromFloat(step.Hours()), nil
}

func sum(points []models.Point) decimal.Decimal {
	total := decimal.Zero
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(p.Value))
	}
	return total
}
