package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/types"
)

// fakeOracle is a scriptable oracle for guard tests.
type fakeOracle struct {
	decision types.Decision
	err      error
	delay    time.Duration
}

func (f *fakeOracle) Name() string { return "fake" }

func (f *fakeOracle) Decide(ctx context.Context, req Request) (types.Decision, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return types.Decision{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.decision, f.err
}

type GuardTestSuite struct {
	suite.Suite
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardTestSuite))
}

func (suite *GuardTestSuite) request() Request {
	return Request{
		Signal: types.Signal{ID: "s1", Symbol: "EURUSD"},
	}
}

func (suite *GuardTestSuite) TestPassesThroughValidDecision() {
	guard, err := NewGuard(&fakeOracle{decision: types.Skip("nothing to do")}, time.Second, logger.NewNopLogger())
	suite.Require().NoError(err)

	decision, err := guard.Decide(context.Background(), suite.request())
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
	suite.Equal("nothing to do", decision.Reason)
}

func (suite *GuardTestSuite) TestTimeoutFallsBackToSkip() {
	slow := &fakeOracle{
		decision: types.Skip("too late"),
		delay:    200 * time.Millisecond,
	}
	guard, err := NewGuard(slow, 20*time.Millisecond, logger.NewNopLogger())
	suite.Require().NoError(err)

	decision, err := guard.Decide(context.Background(), suite.request())
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
	suite.Equal("oracle timeout", decision.Reason)
}

func (suite *GuardTestSuite) TestOracleErrorFallsBackToSkip() {
	failing := &fakeOracle{err: context.DeadlineExceeded}
	guard, err := NewGuard(failing, time.Second, logger.NewNopLogger())
	suite.Require().NoError(err)

	decision, err := guard.Decide(context.Background(), suite.request())
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
	suite.Equal("oracle unavailable", decision.Reason)
}

func (suite *GuardTestSuite) TestMalformedDecisionFallsBackToSkip() {
	malformed := &fakeOracle{
		decision: types.Decision{
			Action: types.ActionEnter,
			Reason: "enter without prices",
		},
	}
	guard, err := NewGuard(malformed, time.Second, logger.NewNopLogger())
	suite.Require().NoError(err)

	decision, err := guard.Decide(context.Background(), suite.request())
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
	suite.Equal("invalid oracle response", decision.Reason)
}

func (suite *GuardTestSuite) TestGuardRequiresOracle() {
	_, err := NewGuard(nil, time.Second, nil)
	suite.Error(err)

	_, err = NewGuard(&fakeOracle{}, 0, nil)
	suite.Error(err)
}

type RuleOracleTestSuite struct {
	suite.Suite
	oracle *RuleOracle
}

func TestRuleOracleSuite(t *testing.T) {
	suite.Run(t, new(RuleOracleTestSuite))
}

func (suite *RuleOracleTestSuite) SetupTest() {
	oracle, err := NewRuleOracle(RuleConfig{
		MinRVOL:         1.5,
		ATRStopMultiple: 1.5,
		RewardRatio:     2.0,
		PartialAtR:      1.0,
		PartialRatio:    0.5,
	})
	suite.Require().NoError(err)
	suite.oracle = oracle
}

func (suite *RuleOracleTestSuite) entryRequest(features map[string]float64) Request {
	return Request{
		Signal:   types.Signal{ID: "s1", Symbol: "EURUSD"},
		Features: features,
		Balance:  10000,
	}
}

func (suite *RuleOracleTestSuite) TestBuysBreakoutWithTrend() {
	decision, err := suite.oracle.Decide(context.Background(), suite.entryRequest(map[string]float64{
		feature.KeyClose:         110,
		feature.KeyEMAFast:       108,
		feature.KeyEMASlow:       105,
		feature.KeyATR:           2,
		feature.KeyRVOL:          2.0,
		feature.KeyDonchianUpper: 110,
		feature.KeyDonchianLower: 100,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionEnter, decision.Action)
	suite.Equal(types.SideBuy, decision.Side)
	suite.InDelta(110.0, decision.EntryPrice, 1e-9)
	suite.InDelta(107.0, decision.StopLoss, 1e-9)
	suite.InDelta(116.0, decision.TakeProfit.Unwrap(), 1e-9)
	suite.NoError(decision.Validate())
}

func (suite *RuleOracleTestSuite) TestSellsBreakdownWithTrend() {
	decision, err := suite.oracle.Decide(context.Background(), suite.entryRequest(map[string]float64{
		feature.KeyClose:         100,
		feature.KeyEMAFast:       102,
		feature.KeyEMASlow:       105,
		feature.KeyATR:           2,
		feature.KeyRVOL:          3.5,
		feature.KeyDonchianUpper: 110,
		feature.KeyDonchianLower: 100,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionEnter, decision.Action)
	suite.Equal(types.SideSell, decision.Side)
	suite.InDelta(103.0, decision.StopLoss, 1e-9)
	suite.InDelta(1.0, decision.Confidence, 1e-9)
}

func (suite *RuleOracleTestSuite) TestSkipsLowVolume() {
	decision, err := suite.oracle.Decide(context.Background(), suite.entryRequest(map[string]float64{
		feature.KeyClose:         110,
		feature.KeyEMAFast:       108,
		feature.KeyEMASlow:       105,
		feature.KeyATR:           2,
		feature.KeyRVOL:          0.8,
		feature.KeyDonchianUpper: 110,
		feature.KeyDonchianLower: 100,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
	suite.Equal("relative volume below threshold", decision.Reason)
}

func (suite *RuleOracleTestSuite) TestSkipsBreakoutAgainstTrend() {
	decision, err := suite.oracle.Decide(context.Background(), suite.entryRequest(map[string]float64{
		feature.KeyClose:         110,
		feature.KeyEMAFast:       103,
		feature.KeyEMASlow:       105,
		feature.KeyATR:           2,
		feature.KeyRVOL:          2.0,
		feature.KeyDonchianUpper: 110,
		feature.KeyDonchianLower: 100,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
}

func (suite *RuleOracleTestSuite) TestMissingFeatureIsAnError() {
	_, err := suite.oracle.Decide(context.Background(), suite.entryRequest(map[string]float64{
		feature.KeyClose: 110,
	}))
	suite.Error(err)
}

func (suite *RuleOracleTestSuite) manageRequest(trade *types.Trade, features map[string]float64) Request {
	req := suite.entryRequest(features)
	req.OpenTrade = trade
	return req
}

func (suite *RuleOracleTestSuite) TestManageTrailsStop() {
	trade := &types.Trade{Side: types.SideBuy, StopLoss: 104, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     107.5,
		feature.KeyEMAManage: 107,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionManage, decision.Action)
	suite.InDelta(107.0, decision.NewStopLoss.Unwrap(), 1e-9)
	suite.Zero(decision.PartialRatio)
}

func (suite *RuleOracleTestSuite) TestManageBanksPartialAtTargetR() {
	// Open profit of 4 against a 2-point stop is 2R, past the 1R trigger.
	trade := &types.Trade{Side: types.SideBuy, StopLoss: 104, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     110,
		feature.KeyEMAManage: 107,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionManage, decision.Action)
	suite.InDelta(0.5, decision.PartialRatio, 1e-9)
	// The stop moves to break even together with the partial close.
	suite.InDelta(106.0, decision.NewStopLoss.Unwrap(), 1e-9)
	suite.NoError(decision.Validate())
}

func (suite *RuleOracleTestSuite) TestManagePartialRunsOnlyOnce() {
	// Stop already at entry: the partial has run, so the same profit level
	// now trails instead of banking again.
	trade := &types.Trade{Side: types.SideBuy, StopLoss: 106, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     110,
		feature.KeyEMAManage: 107,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionManage, decision.Action)
	suite.Zero(decision.PartialRatio)
	suite.InDelta(107.0, decision.NewStopLoss.Unwrap(), 1e-9)
}

func (suite *RuleOracleTestSuite) TestManageBanksPartialOnSell() {
	trade := &types.Trade{Side: types.SideSell, StopLoss: 108, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     103,
		feature.KeyEMAManage: 105,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionManage, decision.Action)
	suite.InDelta(0.5, decision.PartialRatio, 1e-9)
	suite.InDelta(106.0, decision.NewStopLoss.Unwrap(), 1e-9)
}

func (suite *RuleOracleTestSuite) TestManageExitsOnCross() {
	trade := &types.Trade{Side: types.SideBuy, StopLoss: 104, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     105,
		feature.KeyEMAManage: 107,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionExit, decision.Action)
}

func (suite *RuleOracleTestSuite) TestManageHoldsWhenStopAlreadyTight() {
	trade := &types.Trade{Side: types.SideBuy, StopLoss: 108, EntryPrice: 106}
	decision, err := suite.oracle.Decide(context.Background(), suite.manageRequest(trade, map[string]float64{
		feature.KeyClose:     110,
		feature.KeyEMAManage: 107,
	}))
	suite.NoError(err)
	suite.Equal(types.ActionSkip, decision.Action)
}
