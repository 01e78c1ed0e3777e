package forecast

import (
	"math"
)

// referenceHour is the local hour whose DST offset stands for the whole forecast day.
const referenceHour = 3

type hourBucket struct {
	sum float64
	n   int
}

// aggregate fills the forecast points of one day from the matched historical rows.
// dayRows are indices into fc; out has one slot per forecast row.
func aggregate(hist *Frame, m match, fc *Frame, dayRows []int, out []Point) {
	dayOffset := fc.Rows[dayRows[0]].DSTOffset
	for _, i := range dayRows {
		if fc.Rows[i].Hour == referenceHour {
			dayOffset = fc.Rows[i].DSTOffset
			break
		}
	}

	var buckets [24]hourBucket
	for _, i := range m.rows {
		r := hist.Rows[i]
		if math.IsNaN(r.Value) {
			continue
		}
		h := alignHour(r.Hour, r.DSTOffset-dayOffset)
		buckets[h].sum += r.Value
		buckets[h].n++
	}

	for _, i := range dayRows {
		row := fc.Rows[i]
		b := buckets[row.Hour]

		p := Point{Time: row.Time, NVal: b.n, NIter: m.iterations}
		if b.n > 0 {
			p.Forecast = b.sum / float64(b.n)
		}
		out[i] = p
	}
}

// alignHour shifts a historical hour by the DST offset difference, wrapping into [0, 24).
func alignHour(hour int, offsetDiff float64) int {
	h := (hour - int(math.Round(offsetDiff))) % 24
	if h < 0 {
		h += 24
	}
	return h
}
