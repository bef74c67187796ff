package risk

import (
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// StopSuggestion is a volatility-scaled stop and target for an entry.
type StopSuggestion struct {
	StopLoss   float64
	TakeProfit float64
}

// SuggestStops derives a stop and target from the current ATR: the stop sits
// atrMultiple ATRs away from entry and the target rewardRatio times the stop
// distance in the trade direction.
func SuggestStops(side types.Side, entry, atr, atrMultiple, rewardRatio float64) (StopSuggestion, error) {
	if entry <= 0 {
		return StopSuggestion{}, errors.Newf(errors.ErrCodeInvalidRiskInput, "entry price must be positive, got %f", entry)
	}
	if atr <= 0 {
		return StopSuggestion{}, errors.Newf(errors.ErrCodeInvalidRiskInput, "atr must be positive, got %f", atr)
	}
	if atrMultiple <= 0 || rewardRatio <= 0 {
		return StopSuggestion{}, errors.Newf(errors.ErrCodeInvalidRiskInput, "atr multiple and reward ratio must be positive, got %f and %f", atrMultiple, rewardRatio)
	}

	distance := atr * atrMultiple
	switch side {
	case types.SideBuy:
		return StopSuggestion{
			StopLoss:   entry - distance,
			TakeProfit: entry + distance*rewardRatio,
		}, nil
	case types.SideSell:
		return StopSuggestion{
			StopLoss:   entry + distance,
			TakeProfit: entry - distance*rewardRatio,
		}, nil
	default:
		return StopSuggestion{}, errors.Newf(errors.ErrCodeInvalidRiskInput, "unknown side %q", side)
	}
}
