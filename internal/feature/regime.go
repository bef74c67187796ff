package feature

import (
	"math"

	"github.com/helio-lab/helio-trading/internal/types"
)

// RegimeThresholds tune the market regime classifier.
type RegimeThresholds struct {
	// TrendRatio is the minimum |ema_fast - ema_slow| / atr separation that
	// counts as a trend.
	TrendRatio float64 `yaml:"trend_ratio" default:"1.5" validate:"gt=0"`
	// VolatileRVOL is the relative volume above which the market is volatile.
	VolatileRVOL float64 `yaml:"volatile_rvol" default:"2.0" validate:"gt=0"`
	// QuietRVOL is the relative volume below which the market is quiet.
	QuietRVOL float64 `yaml:"quiet_rvol" default:"0.5" validate:"gt=0"`
}

// ClassifyRegime labels the market condition from a feature snapshot.
// Volume extremes win over trend: a high-volume trending market is volatile
// first, because position sizing cares about volatility before direction.
func ClassifyRegime(snapshot map[string]float64, thresholds RegimeThresholds) types.RegimeName {
	rvol := snapshot[KeyRVOL]
	if rvol >= thresholds.VolatileRVOL {
		return types.RegimeVolatile
	}
	if rvol > 0 && rvol <= thresholds.QuietRVOL {
		return types.RegimeQuiet
	}

	atr := snapshot[KeyATR]
	if atr > 0 {
		separation := math.Abs(snapshot[KeyEMAFast]-snapshot[KeyEMASlow]) / atr
		if separation >= thresholds.TrendRatio {
			return types.RegimeTrending
		}
	}

	return types.RegimeRanging
}
