package forecast

import (
	"fmt"
	"time"

	"load-forecast/internal/models"
)

// Options configures the VTV rollout. The zero value is not usable; start from DefaultOptions.
type Options struct {
	// MaxWindowSize is advisory: the matcher never stops on it, days that grow past it are flagged.
	MaxWindowSize int `json:"max_window_size"`
	// WindowSize is the initial tolerance, in encoded days, around both seasonal encodings.
	WindowSize int `json:"window_size"`
	// ExpandStep is added to the window after every unsuccessful iteration.
	ExpandStep int `json:"expand_step"`
	// NValMin is the number of distinct historical days a match needs.
	NValMin int `json:"n_val_min"`
	// NIterMax bounds the iterations before the day-type fallback.
	NIterMax int `json:"n_iter_max"`
	// DaytypeReplace is the initial day-type shift; 0 disables substitution.
	DaytypeReplace int `json:"daytype_replace"`
	// TZ is the civil timezone of the forecast horizon.
	TZ string `json:"tz"`
	// Freq is the forecast output frequency, "h" or "15min".
	Freq string `json:"freq"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxWindowSize:  31,
		WindowSize:     10,
		ExpandStep:     5,
		NValMin:        1,
		NIterMax:       4,
		DaytypeReplace: 0,
		TZ:             "Europe/Zurich",
		Freq:           "h",
	}
}

// Overrides carries caller-supplied option values; nil fields keep the base value.
type Overrides struct {
	MaxWindowSize  *int    `json:"max_window_size,omitempty"`
	WindowSize     *int    `json:"window_size,omitempty"`
	ExpandStep     *int    `json:"expand_step,omitempty"`
	NValMin        *int    `json:"n_val_min,omitempty"`
	NIterMax       *int    `json:"n_iter_max,omitempty"`
	DaytypeReplace *int    `json:"daytype_replace,omitempty"`
	TZ             *string `json:"tz,omitempty"`
	Freq           *string `json:"freq,omitempty"`
}

// Merge returns a copy of o with every non-nil override applied.
func (o Options) Merge(ov Overrides) Options {
	merged := o
	if ov.MaxWindowSize != nil {
		merged.MaxWindowSize = *ov.MaxWindowSize
	}
	if ov.WindowSize != nil {
		merged.WindowSize = *ov.WindowSize
	}
	if ov.ExpandStep != nil {
		merged.ExpandStep = *ov.ExpandStep
	}
	if ov.NValMin != nil {
		merged.NValMin = *ov.NValMin
	}
	if ov.NIterMax != nil {
		merged.NIterMax = *ov.NIterMax
	}
	if ov.DaytypeReplace != nil {
		merged.DaytypeReplace = *ov.DaytypeReplace
	}
	if ov.TZ != nil {
		merged.TZ = *ov.TZ
	}
	if ov.Freq != nil {
		merged.Freq = *ov.Freq
	}
	return merged
}

// MaxIterations bounds n_iter_max.
const MaxIterations = 100

// Validate checks the options and resolves the horizon timezone and frequency.
func (o Options) Validate() (*time.Location, models.Frequency, error) {
	if o.WindowSize < 0 {
		return nil, "", fmt.Errorf("window_size must be >= 0, got %d", o.WindowSize)
	}
	if o.ExpandStep < 0 {
		return nil, "", fmt.Errorf("expand_step must be >= 0, got %d", o.ExpandStep)
	}
	if o.NIterMax < 1 || o.NIterMax > MaxIterations {
		return nil, "", fmt.Errorf("n_iter_max must be in [1, %d], got %d", MaxIterations, o.NIterMax)
	}
	if o.NValMin < 0 {
		return nil, "", fmt.Errorf("n_val_min must be >= 0, got %d", o.NValMin)
	}

	loc, err := time.LoadLocation(o.TZ)
	if err != nil {
		return nil, "", fmt.Errorf("invalid tz %q: %w", o.TZ, err)
	}

	freq, err := models.ParseFrequency(o.Freq)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFrequency, err)
	}
	if freq == models.Daily {
		return nil, "", fmt.Errorf("%w: forecast output must be hourly or finer, got %q", ErrUnsupportedFrequency, o.Freq)
	}

	return loc, freq, nil
}
