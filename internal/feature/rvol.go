package feature

import (
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// RVOL returns relative volume: the last volume divided by the mean of the
// preceding window volumes. Requires window+1 values, strictly; a shorter
// series fails with InsufficientData rather than averaging over what exists.
func RVOL(volumes []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "rvol window must be positive, got %d", window)
	}
	if len(volumes) < window+1 {
		return 0, errors.NewInsufficientDataErrorf(window+1, len(volumes), "",
			"rvol requires %d volumes, got %d", window+1, len(volumes))
	}

	current := volumes[len(volumes)-1]
	baseline := volumes[len(volumes)-1-window : len(volumes)-1]

	var sum float64
	for _, v := range baseline {
		sum += v
	}
	mean := sum / float64(window)
	if mean == 0 {
		return 0, errors.New(errors.ErrCodeInvalidParameter, "rvol baseline volume is zero")
	}

	return current / mean, nil
}
