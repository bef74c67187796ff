package feature

import (
	"time"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Range is the opening range of a session.
type Range struct {
	High  float64
	Low   float64
	Start time.Time
	End   time.Time
}

// OpeningRange returns the high/low of the first minutes of a session from
// one-minute bars. The session opens at the first bar's timestamp; only bars
// inside [open, open+minutes) contribute, and the full window of bars must
// be present.
func OpeningRange(bars []types.Bar, minutes int) (Range, error) {
	if minutes <= 0 {
		return Range{}, errors.Newf(errors.ErrCodeInvalidPeriod, "opening range minutes must be positive, got %d", minutes)
	}
	if len(bars) == 0 {
		return Range{}, errors.NewInsufficientDataErrorf(minutes, 0, "",
			"opening range requires %d bars, got 0", minutes)
	}

	open := bars[0].Time
	end := open.Add(time.Duration(minutes) * time.Minute)

	window := make([]types.Bar, 0, minutes)
	for _, b := range bars {
		if !b.Time.Before(end) {
			break
		}
		window = append(window, b)
	}

	if len(window) < minutes {
		return Range{}, errors.NewInsufficientDataErrorf(minutes, len(window), bars[0].Symbol,
			"opening range requires %d bars, got %d", minutes, len(window))
	}

	high := window[0].High
	low := window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}

	return Range{High: high, Low: low, Start: open, End: end}, nil
}
