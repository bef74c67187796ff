package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/moznion/go-optional"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

func scanTrade(scan func(dest ...any) error) (types.Trade, error) {
	var trade types.Trade
	var side, status, regime string
	var takeProfit sql.NullFloat64
	var closedAt sql.NullTime

	err := scan(&trade.ID, &trade.SignalID, &trade.OrderID, &trade.Symbol, &trade.Scenario, &side,
		&trade.EntryPrice, &trade.StopLoss, &takeProfit, &trade.Size, &trade.RiskAmount,
		&status, &regime, &trade.OpenedAt, &closedAt)
	if err != nil {
		return types.Trade{}, err
	}

	trade.Side = types.Side(side)
	trade.Status = types.TradeStatus(status)
	trade.Regime = types.RegimeName(regime)
	if takeProfit.Valid {
		trade.TakeProfit = optional.Some(takeProfit.Float64)
	}
	if closedAt.Valid {
		trade.ClosedAt = optional.Some(closedAt.Time)
	}
	return trade, nil
}

var tradeColumns = []string{
	"id", "signal_id", "order_id", "symbol", "scenario", "side", "entry_price", "stop_loss",
	"take_profit", "size", "risk_amount", "status", "regime", "opened_at", "closed_at",
}

// GetTrade returns a trade by id.
func (s *Store) GetTrade(ctx context.Context, id string) (types.Trade, error) {
	row := s.sq.
		Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)

	trade, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return types.Trade{}, errors.Newf(errors.ErrCodeDataNotFound, "no trade with id %s", id)
	}
	if err != nil {
		return types.Trade{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load trade", err)
	}
	return trade, nil
}

// OpenTrades returns every trade still in pending or open status. Startup
// reconciliation compares these against the gateway's live positions.
func (s *Store) OpenTrades(ctx context.Context) ([]types.Trade, error) {
	rows, err := s.sq.
		Select(tradeColumns...).
		From("trades").
		Where(squirrel.Eq{"status": []string{string(types.TradeStatusPending), string(types.TradeStatusOpen)}}).
		OrderBy("opened_at ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query open trades", err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		trade, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade row", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// GetSignal returns a signal by id.
func (s *Store) GetSignal(ctx context.Context, id string) (types.Signal, error) {
	row := s.sq.
		Select("id", "symbol", "timeframe", "kind", "scenario", "side", "features", "regime", "created_at").
		From("signals").
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)

	var signal types.Signal
	var timeframe, kind, side, features, regime string
	err := row.Scan(&signal.ID, &signal.Symbol, &timeframe, &kind, &signal.Scenario, &side, &features, &regime, &signal.CreatedAt)
	if err == sql.ErrNoRows {
		return types.Signal{}, errors.Newf(errors.ErrCodeDataNotFound, "no signal with id %s", id)
	}
	if err != nil {
		return types.Signal{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to load signal", err)
	}

	signal.Timeframe = types.Timeframe(timeframe)
	signal.Kind = types.SignalKind(kind)
	signal.Side = types.Side(side)
	signal.Regime = types.RegimeName(regime)
	if err := json.Unmarshal([]byte(features), &signal.Features); err != nil {
		return types.Signal{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to decode signal features", err)
	}
	return signal, nil
}

// LatestQuoteTime returns the high-watermark timestamp for a symbol's
// quotes. Late quotes upsert behind it without moving it backwards.
func (s *Store) LatestQuoteTime(ctx context.Context, symbol string) (optional.Option[time.Time], error) {
	var latest sql.NullTime
	err := s.sq.
		Select("MAX(timestamp)").
		From("quotes").
		Where(squirrel.Eq{"symbol": symbol}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&latest)
	if err != nil {
		return optional.None[time.Time](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query latest quote time", err)
	}
	if !latest.Valid {
		return optional.None[time.Time](), nil
	}
	return optional.Some(latest.Time), nil
}

// QuoteCount returns the number of stored quotes for a symbol.
func (s *Store) QuoteCount(ctx context.Context, symbol string) (int, error) {
	var count int
	err := s.sq.
		Select("COUNT(*)").
		From("quotes").
		Where(squirrel.Eq{"symbol": symbol}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count quotes", err)
	}
	return count, nil
}

// RiskEventsForTrade returns the recorded outcomes of a trade, oldest first.
func (s *Store) RiskEventsForTrade(ctx context.Context, tradeID string) ([]types.RiskEvent, error) {
	rows, err := s.sq.
		Select("id", "trade_id", "type", "amount", "r_multiple", "timestamp").
		From("risk_events").
		Where(squirrel.Eq{"trade_id": tradeID}).
		OrderBy("timestamp ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query risk events", err)
	}
	defer rows.Close()

	var events []types.RiskEvent
	for rows.Next() {
		var event types.RiskEvent
		var eventType string
		if err := rows.Scan(&event.ID, &event.TradeID, &eventType, &event.Amount, &event.RMultiple, &event.Timestamp); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan risk event row", err)
		}
		event.Type = types.RiskEventType(eventType)
		events = append(events, event)
	}
	return events, rows.Err()
}
