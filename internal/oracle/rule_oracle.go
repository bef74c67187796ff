package oracle

import (
	"context"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/risk"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// RuleConfig tunes the rule-based oracle.
type RuleConfig struct {
	// MinRVOL is the relative volume floor below which no entry is taken.
	MinRVOL float64 `yaml:"min_rvol" default:"1.5" validate:"gt=0"`
	// ATRStopMultiple scales the initial stop distance off the current ATR.
	ATRStopMultiple float64 `yaml:"atr_stop_multiple" default:"1.5" validate:"gt=0"`
	// RewardRatio is the target distance in multiples of the stop distance.
	RewardRatio float64 `yaml:"reward_ratio" default:"2.0" validate:"gt=0"`
	// PartialAtR is the open-profit R multiple at which part of the position
	// is banked and the stop moves to break even.
	PartialAtR float64 `yaml:"partial_at_r" default:"1.0" validate:"gt=0"`
	// PartialRatio is the fraction of the position closed at PartialAtR.
	PartialRatio float64 `yaml:"partial_ratio" default:"0.5" validate:"gt=0,lt=1"`
}

// Validate checks the rule oracle configuration.
func (c *RuleConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid rule oracle configuration", err)
	}
	return nil
}

// RuleOracle is the built-in deterministic oracle: a volume-confirmed
// Donchian breakout in the direction of the EMA trend enters, everything
// else skips. Open positions trail their stop to the management EMA and
// exit when price crosses it against the trade.
type RuleOracle struct {
	config RuleConfig
}

// NewRuleOracle creates the rule-based oracle.
func NewRuleOracle(config RuleConfig) (*RuleOracle, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &RuleOracle{config: config}, nil
}

// Name implements DecisionOracle.
func (o *RuleOracle) Name() string {
	return "rule_breakout_v1"
}

// Decide implements DecisionOracle.
func (o *RuleOracle) Decide(ctx context.Context, req Request) (types.Decision, error) {
	select {
	case <-ctx.Done():
		return types.Decision{}, ctx.Err()
	default:
	}

	if req.OpenTrade != nil {
		return o.manage(req), nil
	}
	return o.evaluateEntry(req)
}

func (o *RuleOracle) evaluateEntry(req Request) (types.Decision, error) {
	features := req.Features
	for _, key := range []string{feature.KeyClose, feature.KeyEMAFast, feature.KeyEMASlow, feature.KeyATR, feature.KeyRVOL, feature.KeyDonchianUpper, feature.KeyDonchianLower} {
		if _, ok := features[key]; !ok {
			return types.Decision{}, errors.Newf(errors.ErrCodeMissingParameter, "feature snapshot missing %q", key)
		}
	}

	rvol := features[feature.KeyRVOL]
	if rvol < o.config.MinRVOL {
		return types.Skip("relative volume below threshold"), nil
	}

	close := features[feature.KeyClose]
	emaFast := features[feature.KeyEMAFast]
	emaSlow := features[feature.KeyEMASlow]

	var side types.Side
	switch {
	case close >= features[feature.KeyDonchianUpper] && emaFast > emaSlow:
		side = types.SideBuy
	case close <= features[feature.KeyDonchianLower] && emaFast < emaSlow:
		side = types.SideSell
	default:
		return types.Skip("no breakout in trend direction"), nil
	}

	suggestion, err := risk.SuggestStops(side, close, features[feature.KeyATR], o.config.ATRStopMultiple, o.config.RewardRatio)
	if err != nil {
		return types.Decision{}, err
	}

	return types.Decision{
		Action:     types.ActionEnter,
		Reason:     "volume-confirmed breakout with trend",
		Confidence: o.confidence(rvol),
		Side:       side,
		EntryPrice: close,
		StopLoss:   suggestion.StopLoss,
		TakeProfit: optional.Some(suggestion.TakeProfit),
	}, nil
}

func (o *RuleOracle) manage(req Request) types.Decision {
	trade := req.OpenTrade
	close := req.Features[feature.KeyClose]
	emaManage, ok := req.Features[feature.KeyEMAManage]
	if !ok {
		return types.Skip("management ema unavailable")
	}

	switch trade.Side {
	case types.SideBuy:
		if close < emaManage {
			return types.Decision{
				Action: types.ActionExit,
				Reason: "close crossed below management ema",
			}
		}
		if partial, ok := o.partial(trade, close); ok {
			return partial
		}
		if emaManage > trade.StopLoss {
			return types.Decision{
				Action:      types.ActionManage,
				Reason:      "trail stop to management ema",
				NewStopLoss: optional.Some(emaManage),
			}
		}
	case types.SideSell:
		if close > emaManage {
			return types.Decision{
				Action: types.ActionExit,
				Reason: "close crossed above management ema",
			}
		}
		if partial, ok := o.partial(trade, close); ok {
			return partial
		}
		if emaManage < trade.StopLoss {
			return types.Decision{
				Action:      types.ActionManage,
				Reason:      "trail stop to management ema",
				NewStopLoss: optional.Some(emaManage),
			}
		}
	}

	return types.Skip("position within plan")
}

// partial banks part of the position once open profit reaches PartialAtR and
// moves the stop to break even. A stop at or past the entry means the partial
// already ran, so the rule fires at most once per trade.
func (o *RuleOracle) partial(trade *types.Trade, close float64) (types.Decision, bool) {
	var stopDistance, openProfit float64
	switch trade.Side {
	case types.SideBuy:
		stopDistance = trade.EntryPrice - trade.StopLoss
		openProfit = close - trade.EntryPrice
	case types.SideSell:
		stopDistance = trade.StopLoss - trade.EntryPrice
		openProfit = trade.EntryPrice - close
	}
	if stopDistance <= 0 || openProfit < o.config.PartialAtR*stopDistance {
		return types.Decision{}, false
	}

	return types.Decision{
		Action:       types.ActionManage,
		Reason:       "banking partial profit, stop to break even",
		PartialRatio: o.config.PartialRatio,
		NewStopLoss:  optional.Some(trade.EntryPrice),
	}, true
}

// confidence maps relative volume above the floor into (0, 1].
func (o *RuleOracle) confidence(rvol float64) float64 {
	return math.Min(1, rvol/(o.config.MinRVOL*2))
}
