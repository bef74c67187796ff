package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/gateway"
	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/oracle"
	"github.com/helio-lab/helio-trading/internal/risk"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
)

type ManagerTestSuite struct {
	suite.Suite
	store   *store.Store
	gateway *gateway.PaperGateway
	manager *Manager
	ctx     context.Context
	now     time.Time
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func (suite *ManagerTestSuite) SetupTest() {
	primary, err := store.NewStore(":memory:", []string{"semantic"}, nil)
	suite.Require().NoError(err)
	suite.Require().NoError(primary.Initialize())
	suite.store = primary

	suite.gateway = gateway.NewPaperGateway(nil)
	suite.ctx = context.Background()
	suite.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	manager, err := NewManager(primary, suite.gateway, logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.manager = manager
}

func (suite *ManagerTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *ManagerTestSuite) newPipeline(symbol, scenario string) *Pipeline {
	engine, err := feature.NewEngine(feature.Config{
		EMAFastPeriod:   2,
		EMASlowPeriod:   3,
		EMAManagePeriod: 2,
		ATRPeriod:       2,
		RVOLWindow:      2,
		DonchianPeriod:  2,
	})
	suite.Require().NoError(err)

	controller, err := risk.NewController(risk.Config{
		PerTradeRiskPct:       0.01,
		DailyDrawdownLimitPct: 0.025,
	}, []risk.InstrumentSpec{{
		Symbol:       symbol,
		PointSize:    1,
		PipValue:     1,
		MinLot:       0.01,
		MaxLot:       100,
		LotPrecision: 2,
	}}, 10000, logger.NewNopLogger())
	suite.Require().NoError(err)

	guard, err := oracle.NewGuard(&scriptedOracle{}, time.Second, logger.NewNopLogger())
	suite.Require().NoError(err)

	p, err := New(Options{
		Pair:      Pair{Symbol: symbol, Scenario: scenario},
		Timeframe: types.TimeframeM5,
		Spec: risk.InstrumentSpec{
			Symbol:       symbol,
			PointSize:    1,
			PipValue:     1,
			MinLot:       0.01,
			MaxLot:       100,
			LotPrecision: 2,
		},
		Engine:     engine,
		Thresholds: feature.RegimeThresholds{TrendRatio: 1.5, VolatileRVOL: 2.0, QuietRVOL: 0.5},
		Risk:       controller,
		Oracle:     guard,
		Gateway:    suite.gateway,
		Store:      suite.store,
		Logger:     logger.NewNopLogger(),
	})
	suite.Require().NoError(err)
	return p
}

func (suite *ManagerTestSuite) TestRegisterRejectsDuplicatePair() {
	suite.NoError(suite.manager.Register(suite.newPipeline("EURUSD", "breakout")))
	suite.Error(suite.manager.Register(suite.newPipeline("EURUSD", "breakout")))
	suite.NoError(suite.manager.Register(suite.newPipeline("EURUSD", "trend")))
}

func (suite *ManagerTestSuite) TestDispatchRecordsQuotes() {
	suite.Require().NoError(suite.manager.Register(suite.newPipeline("EURUSD", "breakout")))
	suite.manager.Start(suite.ctx)
	defer suite.manager.Stop()

	bar := types.Bar{
		Symbol: "EURUSD",
		Time:   suite.now,
		Open:   100, High: 101, Low: 99, Close: 100,
		Volume: 120,
	}
	suite.NoError(suite.manager.Dispatch(suite.ctx, bar))

	count, err := suite.store.QuoteCount(suite.ctx, "EURUSD")
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *ManagerTestSuite) TestDispatchRoutesBySymbol() {
	eur := suite.newPipeline("EURUSD", "breakout")
	gold := suite.newPipeline("XAUUSD", "breakout")
	suite.Require().NoError(suite.manager.Register(eur))
	suite.Require().NoError(suite.manager.Register(gold))

	suite.manager.Start(suite.ctx)

	for i := 0; i < 6; i++ {
		bar := types.Bar{
			Symbol: "EURUSD",
			Time:   suite.now.Add(time.Duration(i) * 5 * time.Minute),
			Open:   100, High: 101, Low: 99, Close: 100,
			Volume: 100,
		}
		suite.NoError(suite.manager.Dispatch(suite.ctx, bar))
	}
	suite.manager.Stop()

	// Only the EURUSD pipeline saw bars; the XAUUSD one never warmed up.
	suite.Len(eur.bars, 6)
	suite.Empty(gold.bars)
}

func (suite *ManagerTestSuite) openPosition(tradeID string) gateway.OrderResult {
	result, err := suite.gateway.PlaceOrder(suite.ctx, gateway.OrderRequest{
		Symbol:   "EURUSD",
		Side:     types.SideBuy,
		Volume:   2,
		Price:    100,
		StopLoss: 95,
		Comment:  orderCommentPrefix + tradeID,
	})
	suite.Require().NoError(err)
	return result
}

func (suite *ManagerTestSuite) storedTrade(id string, status types.TradeStatus) types.Trade {
	return types.Trade{
		ID:         id,
		SignalID:   "s-" + id,
		Symbol:     "EURUSD",
		Scenario:   "breakout",
		Side:       types.SideBuy,
		EntryPrice: 100,
		StopLoss:   95,
		Size:       2,
		RiskAmount: 10,
		Status:     status,
		OpenedAt:   suite.now,
	}
}

func (suite *ManagerTestSuite) TestReconcileRejectsOrphanedPending() {
	suite.Require().NoError(suite.store.Record(suite.ctx, suite.storedTrade("t1", types.TradeStatusPending)))
	suite.Require().NoError(suite.manager.Register(suite.newPipeline("EURUSD", "breakout")))

	suite.NoError(suite.manager.Reconcile(suite.ctx))

	trade, err := suite.store.GetTrade(suite.ctx, "t1")
	suite.NoError(err)
	suite.Equal(types.TradeStatusRejected, trade.Status)
}

func (suite *ManagerTestSuite) TestReconcileConfirmsPendingWithPosition() {
	result := suite.openPosition("t1")
	suite.Require().NoError(suite.store.Record(suite.ctx, suite.storedTrade("t1", types.TradeStatusPending)))

	p := suite.newPipeline("EURUSD", "breakout")
	suite.Require().NoError(suite.manager.Register(p))

	suite.NoError(suite.manager.Reconcile(suite.ctx))

	trade, err := suite.store.GetTrade(suite.ctx, "t1")
	suite.NoError(err)
	suite.Equal(types.TradeStatusOpen, trade.Status)
	suite.Equal(result.OrderID, trade.OrderID)

	// The pipeline resumed managing the confirmed trade.
	suite.Equal(StateManage, p.State())
	suite.Require().NotNil(p.OpenTrade())
	suite.Equal("t1", p.OpenTrade().ID)
}

func (suite *ManagerTestSuite) TestReconcileSettlesExternallyClosed() {
	trade := suite.storedTrade("t1", types.TradeStatusOpen)
	trade.OrderID = "gone"
	suite.Require().NoError(suite.store.Record(suite.ctx, trade))
	suite.Require().NoError(suite.manager.Register(suite.newPipeline("EURUSD", "breakout")))

	suite.NoError(suite.manager.Reconcile(suite.ctx))

	stored, err := suite.store.GetTrade(suite.ctx, "t1")
	suite.NoError(err)
	suite.Equal(types.TradeStatusClosed, stored.Status)
	suite.True(stored.ClosedAt.IsSome())

	events, err := suite.store.RiskEventsForTrade(suite.ctx, "t1")
	suite.NoError(err)
	suite.Require().Len(events, 1)
	suite.Equal(types.RiskEventManualExit, events[0].Type)
	suite.Zero(events[0].Amount)
}

func (suite *ManagerTestSuite) TestReconcileRestoresOpenWithPosition() {
	result := suite.openPosition("t1")
	trade := suite.storedTrade("t1", types.TradeStatusOpen)
	trade.OrderID = result.OrderID
	trade.TakeProfit = optional.Some(110.0)
	suite.Require().NoError(suite.store.Record(suite.ctx, trade))

	p := suite.newPipeline("EURUSD", "breakout")
	suite.Require().NoError(suite.manager.Register(p))

	suite.NoError(suite.manager.Reconcile(suite.ctx))

	suite.Equal(StateManage, p.State())
	suite.Require().NotNil(p.OpenTrade())
	suite.InDelta(110.0, p.OpenTrade().TakeProfit.Unwrap(), 1e-9)
}
