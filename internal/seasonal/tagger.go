// Package seasonal flags calendar days that fall in the business peak season.
package seasonal

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"peakload/internal/forecast"
)

// DefaultPeakMonths are the months treated as peak season when nothing else is
// configured: March, April, October and November.
var DefaultPeakMonths = []time.Month{time.March, time.April, time.October, time.November}

// Tagger maps a date to its peak-season flag. The zero value flags nothing.
type Tagger struct {
	months [13]bool
}

// NewTagger builds a Tagger for the given months. A month outside 1..12 is an
// error.
func NewTagger(months []time.Month) (Tagger, error) {
	var t Tagger
	for _, m := range months {
		if m < time.January || m > time.December {
			return Tagger{}, fmt.Errorf("seasonal: month %d out of range 1..12", int(m))
		}
		t.months[m] = true
	}
	return t, nil
}

// Default returns the Tagger for DefaultPeakMonths.
func Default() Tagger {
	t, _ := NewTagger(DefaultPeakMonths)
	return t
}

// ParseMonths parses a comma-separated month list such as "3,4,10,11".
func ParseMonths(s string) ([]time.Month, error) {
	var months []time.Month
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("seasonal: invalid month %q: %w", part, err)
		}
		months = append(months, time.Month(n))
	}
	return months, nil
}

// IsPeak reports whether t falls in a peak month.
func (t Tagger) IsPeak(day time.Time) bool {
	return t.months[day.Month()]
}

// Months returns the configured peak months in calendar order.
func (t Tagger) Months() []time.Month {
	var out []time.Month
	for m := time.January; m <= time.December; m++ {
		if t.months[m] {
			out = append(out, m)
		}
	}
	return slices.Clip(out)
}

// Regressor returns the peak flag as a model regressor (1 in peak months,
// 0 otherwise). Callers obtain it once and hand the same value to both Fit
// and Predict.
func (t Tagger) Regressor() forecast.Regressor {
	return func(day time.Time) float64 {
		if t.IsPeak(day) {
			return 1
		}
		return 0
	}
}
