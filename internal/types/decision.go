package types

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/helio-lab/helio-trading/pkg/errors"
)

// DecisionAction is the verdict an oracle returns for a setup.
type DecisionAction string

const (
	// ActionEnter opens a new position for the evaluated setup.
	ActionEnter DecisionAction = "enter"
	// ActionSkip declines the setup. Skip is also the fail-safe verdict when
	// the oracle times out or returns something malformed.
	ActionSkip DecisionAction = "skip"
	// ActionExit closes the currently managed position.
	ActionExit DecisionAction = "exit"
	// ActionManage adjusts the stop or takes partial profit on an open position.
	ActionManage DecisionAction = "manage"
)

// Decision is the oracle's verdict for one setup. Fields beyond Action are
// only meaningful for the actions that declare them; Validate enforces the
// per-action requirements so malformed verdicts never reach execution.
type Decision struct {
	Action DecisionAction `yaml:"action" json:"action" validate:"required,oneof=enter skip exit manage"`
	Reason string         `yaml:"reason" json:"reason" validate:"required"`
	// Confidence is the oracle's self-reported conviction in [0, 1].
	Confidence float64 `yaml:"confidence" json:"confidence" validate:"gte=0,lte=1"`

	// Enter fields.
	Side       Side                     `yaml:"side" json:"side" validate:"omitempty,oneof=buy sell"`
	EntryPrice float64                  `yaml:"entry_price" json:"entry_price" validate:"gte=0"`
	StopLoss   float64                  `yaml:"stop_loss" json:"stop_loss" validate:"gte=0"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`

	// Manage fields.
	NewStopLoss  optional.Option[float64] `yaml:"new_stop_loss" json:"new_stop_loss"`
	PartialRatio float64                  `yaml:"partial_ratio" json:"partial_ratio" validate:"gte=0,lte=1"`
}

// Skip builds a skip decision with the given reason.
func Skip(reason string) Decision {
	return Decision{
		Action: ActionSkip,
		Reason: reason,
	}
}

// Validate checks the decision payload, including per-action requirements.
func (d *Decision) Validate() error {
	validate := validator.New()
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidDecision, "invalid decision payload", err)
	}

	switch d.Action {
	case ActionEnter:
		if d.Side == "" {
			return errors.New(errors.ErrCodeInvalidDecision, "enter decision requires a side")
		}
		if d.EntryPrice <= 0 {
			return errors.Newf(errors.ErrCodeInvalidDecision, "enter decision requires a positive entry price, got %f", d.EntryPrice)
		}
		if d.StopLoss <= 0 {
			return errors.Newf(errors.ErrCodeInvalidDecision, "enter decision requires a positive stop loss, got %f", d.StopLoss)
		}
		if d.Side == SideBuy && d.StopLoss >= d.EntryPrice {
			return errors.New(errors.ErrCodeInvalidDecision, "buy stop loss must be below entry price")
		}
		if d.Side == SideSell && d.StopLoss <= d.EntryPrice {
			return errors.New(errors.ErrCodeInvalidDecision, "sell stop loss must be above entry price")
		}
	case ActionManage:
		if d.NewStopLoss.IsNone() && d.PartialRatio == 0 {
			return errors.New(errors.ErrCodeInvalidDecision, "manage decision requires a new stop loss or a partial ratio")
		}
	}

	return nil
}

// StopDistance returns the absolute distance between entry and stop for an
// enter decision. Zero for any other action.
func (d *Decision) StopDistance() float64 {
	if d.Action != ActionEnter {
		return 0
	}
	dist := d.EntryPrice - d.StopLoss
	if dist < 0 {
		dist = -dist
	}
	return dist
}
