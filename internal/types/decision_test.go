package types

import (
	"testing"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/helio-lab/helio-trading/pkg/errors"
)

type DecisionTestSuite struct {
	suite.Suite
}

func TestDecisionSuite(t *testing.T) {
	suite.Run(t, new(DecisionTestSuite))
}

func (suite *DecisionTestSuite) TestValidEnterDecision() {
	d := Decision{
		Action:     ActionEnter,
		Reason:     "breakout above opening range",
		Confidence: 0.8,
		Side:       SideBuy,
		EntryPrice: 1.1050,
		StopLoss:   1.1000,
		TakeProfit: optional.Some(1.1150),
	}
	suite.NoError(d.Validate())
	suite.InDelta(0.0050, d.StopDistance(), 1e-9)
}

func (suite *DecisionTestSuite) TestEnterWithoutSide() {
	d := Decision{
		Action:     ActionEnter,
		Reason:     "breakout",
		EntryPrice: 1.1050,
		StopLoss:   1.1000,
	}
	err := d.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDecision))
}

func (suite *DecisionTestSuite) TestEnterStopOnWrongSide() {
	d := Decision{
		Action:     ActionEnter,
		Reason:     "breakout",
		Side:       SideBuy,
		EntryPrice: 1.1000,
		StopLoss:   1.1050,
	}
	err := d.Validate()
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidDecision))
}

func (suite *DecisionTestSuite) TestSellStopMustBeAboveEntry() {
	d := Decision{
		Action:     ActionEnter,
		Reason:     "range rejection",
		Side:       SideSell,
		EntryPrice: 1.1000,
		StopLoss:   1.0950,
	}
	suite.Error(d.Validate())

	d.StopLoss = 1.1040
	suite.NoError(d.Validate())
}

func (suite *DecisionTestSuite) TestUnknownAction() {
	d := Decision{
		Action: DecisionAction("hold"),
		Reason: "unsure",
	}
	suite.Error(d.Validate())
}

func (suite *DecisionTestSuite) TestMissingReason() {
	d := Skip("")
	suite.Error(d.Validate())
}

func (suite *DecisionTestSuite) TestSkipDecision() {
	d := Skip("risk budget exhausted")
	suite.NoError(d.Validate())
	suite.Equal(ActionSkip, d.Action)
	suite.Zero(d.StopDistance())
}

func (suite *DecisionTestSuite) TestManageRequiresPayload() {
	d := Decision{
		Action: ActionManage,
		Reason: "trail stop",
	}
	suite.Error(d.Validate())

	d.NewStopLoss = optional.Some(1.1020)
	suite.NoError(d.Validate())
}

func (suite *DecisionTestSuite) TestManageWithPartialRatio() {
	d := Decision{
		Action:       ActionManage,
		Reason:       "take half at 1R",
		PartialRatio: 0.5,
	}
	suite.NoError(d.Validate())
}

func (suite *DecisionTestSuite) TestConfidenceOutOfRange() {
	d := Skip("low conviction")
	d.Confidence = 1.5
	suite.Error(d.Validate())
}
