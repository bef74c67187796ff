package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type EntityTestSuite struct {
	suite.Suite
}

func TestEntitySuite(t *testing.T) {
	suite.Run(t, new(EntityTestSuite))
}

func (suite *EntityTestSuite) TestSecondaryIDIsDeterministic() {
	ts := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	q := Quote{Symbol: "EURUSD", Timestamp: ts, Price: 1.105, Volume: 120}

	first := SecondaryID(q)
	second := SecondaryID(q)
	suite.Equal(first, second)
	suite.Equal("quote_EURUSD_"+"1772461800000", first)
}

func (suite *EntityTestSuite) TestSecondaryIDPerEntityType() {
	trade := Trade{ID: "t-123"}
	signal := Signal{ID: "s-456"}
	event := RiskEvent{ID: "e-789"}

	suite.Equal("trade_t-123", SecondaryID(trade))
	suite.Equal("signal_s-456", SecondaryID(signal))
	suite.Equal("risk_event_e-789", SecondaryID(event))
}

func (suite *EntityTestSuite) TestTradeIsOpen() {
	t := Trade{Status: TradeStatusPending}
	suite.True(t.IsOpen())

	t.Status = TradeStatusOpen
	suite.True(t.IsOpen())

	t.Status = TradeStatusClosed
	suite.False(t.IsOpen())

	t.Status = TradeStatusRejected
	suite.False(t.IsOpen())
}
