package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

type ControllerTestSuite struct {
	suite.Suite
	controller *Controller
	now        time.Time
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (suite *ControllerTestSuite) SetupTest() {
	specs := []InstrumentSpec{
		{
			Symbol:       "EURUSD",
			PointSize:    1,
			PipValue:     1,
			MinLot:       0.01,
			MaxLot:       10,
			LotPrecision: 2,
		},
	}

	controller, err := NewController(Config{
		PerTradeRiskPct:       0.01,
		DailyDrawdownLimitPct: 0.025,
	}, specs, 10000, logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.controller = controller
	suite.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (suite *ControllerTestSuite) event(id, tradeID string, eventType types.RiskEventType, amount float64) types.RiskEvent {
	return types.RiskEvent{
		ID:        id,
		TradeID:   tradeID,
		Type:      eventType,
		Amount:    amount,
		Timestamp: suite.now,
	}
}

func (suite *ControllerTestSuite) TestSizePosition() {
	// 10000 * 0.01 / (50 * 1) = 2.0 lots
	volume, err := suite.controller.SizePosition("EURUSD", 50)
	suite.NoError(err)
	suite.InDelta(2.0, volume, 1e-9)
}

func (suite *ControllerTestSuite) TestSizePositionRoundsToLotPrecision() {
	// 10000 * 0.01 / (3 * 1) = 33.333... -> clamped to max lot 10
	volume, err := suite.controller.SizePosition("EURUSD", 3)
	suite.NoError(err)
	suite.InDelta(10.0, volume, 1e-9)

	// 10000 * 0.01 / (7 * 1) = 14.2857 -> clamp; use a wider stop instead:
	// 10000 * 0.01 / (1300 * 1) = 0.0769 -> rounds to 0.08
	volume, err = suite.controller.SizePosition("EURUSD", 1300)
	suite.NoError(err)
	suite.InDelta(0.08, volume, 1e-9)
}

func (suite *ControllerTestSuite) TestSizePositionMinLotFloor() {
	// 10000 * 0.01 / (100000 * 1) = 0.001 -> rounds to 0.00, floored to min lot
	volume, err := suite.controller.SizePosition("EURUSD", 100000)
	suite.NoError(err)
	suite.InDelta(0.01, volume, 1e-9)
}

func (suite *ControllerTestSuite) TestSizePositionInvalidStopDistance() {
	_, err := suite.controller.SizePosition("EURUSD", 0)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))

	_, err = suite.controller.SizePosition("EURUSD", -10)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))
}

func (suite *ControllerTestSuite) TestSizePositionUnknownSymbol() {
	_, err := suite.controller.SizePosition("XAUUSD", 50)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))
}

func (suite *ControllerTestSuite) TestRiskAmount() {
	amount, err := suite.controller.RiskAmount("EURUSD", 50, 2)
	suite.NoError(err)
	suite.InDelta(100.0, amount, 1e-9)
}

func (suite *ControllerTestSuite) TestRecordOutcomeUpdatesLedger() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventTakeProfit, 150))
	suite.NoError(err)
	suite.InDelta(150.0, suite.controller.DailyPnL(), 1e-9)
	suite.InDelta(10150.0, suite.controller.Balance(), 1e-9)
}

func (suite *ControllerTestSuite) TestRecordOutcomeIdempotent() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventStopLoss, -100))
	suite.NoError(err)

	// Replaying the terminal outcome for the same trade is a no-op,
	// even under a different event id.
	_, err = suite.controller.RecordOutcome(suite.event("e2", "t1", types.RiskEventStopLoss, -100))
	suite.NoError(err)
	suite.InDelta(-100.0, suite.controller.DailyPnL(), 1e-9)
}

func (suite *ControllerTestSuite) TestPartialExitsCountedPerEvent() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventPartialExit, 50))
	suite.NoError(err)
	_, err = suite.controller.RecordOutcome(suite.event("e2", "t1", types.RiskEventPartialExit, 50))
	suite.NoError(err)

	// Same event id replayed is still a no-op.
	_, err = suite.controller.RecordOutcome(suite.event("e2", "t1", types.RiskEventPartialExit, 50))
	suite.NoError(err)

	suite.InDelta(100.0, suite.controller.DailyPnL(), 1e-9)
}

func (suite *ControllerTestSuite) TestDrawdownCircuitBreaker() {
	ok, _ := suite.controller.CanTrade(suite.now)
	suite.True(ok)

	// 2.5% of 10000 = 250 loss trips the breaker.
	breached, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventStopLoss, -250))
	suite.NoError(err)
	suite.True(breached)

	ok, reason := suite.controller.CanTrade(suite.now)
	suite.False(ok)
	suite.Equal("daily drawdown limit breached", reason)
	suite.True(suite.controller.Breached(suite.now))
}

func (suite *ControllerTestSuite) TestBreakerNotTrippedBelowLimit() {
	breached, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventStopLoss, -249))
	suite.NoError(err)
	suite.False(breached)

	ok, _ := suite.controller.CanTrade(suite.now)
	suite.True(ok)
}

func (suite *ControllerTestSuite) TestBreakerResetsNextSession() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventStopLoss, -300))
	suite.NoError(err)

	ok, _ := suite.controller.CanTrade(suite.now)
	suite.False(ok)

	// Next UTC calendar day: breaker re-arms and the session-open balance
	// absorbs yesterday's realized loss.
	nextDay := suite.now.Add(24 * time.Hour)
	ok, _ = suite.controller.CanTrade(nextDay)
	suite.True(ok)
	suite.InDelta(0.0, suite.controller.DailyPnL(), 1e-9)
	suite.InDelta(9700.0, suite.controller.Balance(), 1e-9)
}

func (suite *ControllerTestSuite) TestDedupeLedgerPrunedAtSessionRoll() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventStopLoss, -100))
	suite.NoError(err)
	_, err = suite.controller.RecordOutcome(suite.event("e2", "t2", types.RiskEventPartialExit, 25))
	suite.NoError(err)
	suite.Len(suite.controller.recorded, 2)

	// Rolling to the next session drops the settled keys instead of
	// letting them pile up day after day.
	suite.controller.CanTrade(suite.now.Add(24 * time.Hour))
	suite.Empty(suite.controller.recorded)
}

func (suite *ControllerTestSuite) TestSizePositionTracksBalance() {
	_, err := suite.controller.RecordOutcome(suite.event("e1", "t1", types.RiskEventTakeProfit, 10000))
	suite.NoError(err)

	// Balance doubled, so the same stop distance doubles the volume.
	volume, err := suite.controller.SizePosition("EURUSD", 50)
	suite.NoError(err)
	suite.InDelta(4.0, volume, 1e-9)
}

func (suite *ControllerTestSuite) TestRecordOutcomeRejectsInvalidEvent() {
	_, err := suite.controller.RecordOutcome(types.RiskEvent{TradeID: "t1"})
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))
}

func (suite *ControllerTestSuite) TestInvalidConfiguration() {
	_, err := NewController(Config{PerTradeRiskPct: 0, DailyDrawdownLimitPct: 0.025}, nil, 10000, nil)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	_, err = NewController(Config{PerTradeRiskPct: 0.01, DailyDrawdownLimitPct: 0.025}, nil, -5, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))
}

type StopsTestSuite struct {
	suite.Suite
}

func TestStopsSuite(t *testing.T) {
	suite.Run(t, new(StopsTestSuite))
}

func (suite *StopsTestSuite) TestSuggestStopsBuy() {
	s, err := SuggestStops(types.SideBuy, 100, 2, 1.5, 2)
	suite.NoError(err)
	suite.InDelta(97.0, s.StopLoss, 1e-9)
	suite.InDelta(106.0, s.TakeProfit, 1e-9)
}

func (suite *StopsTestSuite) TestSuggestStopsSell() {
	s, err := SuggestStops(types.SideSell, 100, 2, 1.5, 2)
	suite.NoError(err)
	suite.InDelta(103.0, s.StopLoss, 1e-9)
	suite.InDelta(94.0, s.TakeProfit, 1e-9)
}

func (suite *StopsTestSuite) TestSuggestStopsInvalidInputs() {
	_, err := SuggestStops(types.SideBuy, 0, 2, 1.5, 2)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))

	_, err = SuggestStops(types.SideBuy, 100, 0, 1.5, 2)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))

	_, err = SuggestStops(types.Side("flat"), 100, 2, 1.5, 2)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidRiskInput))
}
