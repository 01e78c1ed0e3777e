package evaluation

import (
	"errors"
	"math"

	"load-forecast/internal/models"
)

// ErrNoOverlap is returned when actual and predicted series share no valid timestamp.
var ErrNoOverlap = errors.New("actual and predicted series have no valid observations in common")

// Metrics summarises forecast accuracy over the timestamps of the actual series.
type Metrics struct {
	MAE  float64 `json:"mae"`
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	// MAPE is a fraction, not a percentage. Actual values of zero are floored at machine epsilon.
	MAPE float64 `json:"mape"`
	// NonNAShare is the share of actual timestamps with a usable pair, rounded to two decimals.
	NonNAShare float64 `json:"non_na_share"`
	NActual    int     `json:"n_actual_obs"`
	NPredNAs   int     `json:"n_pred_nas"`
}

var epsilon = math.Nextafter(1, 2) - 1

// Compare aligns predicted onto the timestamps of actual and computes the error metrics over
// all pairs where both values are present.
func Compare(actual, predicted models.Series) (*Metrics, error) {
	pred := make(map[int64]float64, len(predicted.Points))
	for _, p := range predicted.Points {
		pred[p.Time.UnixNano()] = p.Value
	}

	var absSum, sqSum, pctSum float64
	n := 0
	for _, a := range actual.Points {
		p, ok := pred[a.Time.UnixNano()]
		if !ok || math.IsNaN(p) || math.IsNaN(a.Value) {
			continue
		}

		diff := math.Abs(a.Value - p)
		absSum += diff
		sqSum += diff * diff
		pctSum += diff / math.Max(math.Abs(a.Value), epsilon)
		n++
	}

	if n == 0 {
		return nil, ErrNoOverlap
	}

	total := float64(len(actual.Points))
	m := &Metrics{
		MAE:        absSum / float64(n),
		MSE:        sqSum / float64(n),
		MAPE:       pctSum / float64(n),
		NonNAShare: math.Round(float64(n)/total*100) / 100,
		NActual:    len(actual.Points),
		NPredNAs:   len(actual.Points) - n,
	}
	m.RMSE = math.Sqrt(m.MSE)

	return m, nil
}
