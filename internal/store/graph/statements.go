package graph

import (
	"encoding/json"

	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Statement is one parameterized Cypher write.
type Statement struct {
	Cypher string
	Params map[string]any
}

// BuildStatements turns an outbox entry into the MERGE statements that bring
// the graph up to date. Everything is MERGE on the deterministic node id, so
// replaying a delivery converges to the same graph.
func BuildStatements(entry store.OutboxEntry) ([]Statement, error) {
	switch entry.EntityType {
	case types.EntityTypeQuote:
		var quote types.Quote
		if err := json.Unmarshal(entry.Payload, &quote); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode quote payload", err)
		}
		return []Statement{{
			Cypher: `MERGE (i:Instrument {symbol: $symbol})
MERGE (q:Quote {id: $id})
SET q.timestamp = $timestamp, q.price = $price, q.volume = $volume
MERGE (i)-[:HAS_QUOTE]->(q)`,
			Params: map[string]any{
				"symbol":    quote.Symbol,
				"id":        entry.SecondaryID(),
				"timestamp": quote.Timestamp.UTC().UnixMilli(),
				"price":     quote.Price,
				"volume":    quote.Volume,
			},
		}}, nil

	case types.EntityTypeSignal:
		var signal types.Signal
		if err := json.Unmarshal(entry.Payload, &signal); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode signal payload", err)
		}
		statements := []Statement{{
			Cypher: `MERGE (i:Instrument {symbol: $symbol})
MERGE (s:Signal {id: $id})
SET s.kind = $kind, s.scenario = $scenario, s.side = $side, s.timeframe = $timeframe, s.created_at = $created_at
MERGE (i)-[:HAS_SIGNAL]->(s)`,
			Params: map[string]any{
				"symbol":     signal.Symbol,
				"id":         entry.SecondaryID(),
				"kind":       string(signal.Kind),
				"scenario":   signal.Scenario,
				"side":       string(signal.Side),
				"timeframe":  string(signal.Timeframe),
				"created_at": signal.CreatedAt.UTC().UnixMilli(),
			},
		}}
		if signal.Regime != "" {
			statements = append(statements, Statement{
				Cypher: `MERGE (s:Signal {id: $id})
MERGE (r:Regime {name: $regime})
MERGE (s)-[:IN_REGIME]->(r)`,
				Params: map[string]any{
					"id":     entry.SecondaryID(),
					"regime": string(signal.Regime),
				},
			})
		}
		return statements, nil

	case types.EntityTypeTrade:
		var trade types.Trade
		if err := json.Unmarshal(entry.Payload, &trade); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode trade payload", err)
		}
		params := map[string]any{
			"symbol":      trade.Symbol,
			"id":          entry.SecondaryID(),
			"signal_id":   "signal_" + trade.SignalID,
			"side":        string(trade.Side),
			"entry_price": trade.EntryPrice,
			"stop_loss":   trade.StopLoss,
			"size":        trade.Size,
			"risk_amount": trade.RiskAmount,
			"status":      string(trade.Status),
			"scenario":    trade.Scenario,
			"opened_at":   trade.OpenedAt.UTC().UnixMilli(),
		}
		statements := []Statement{{
			Cypher: `MERGE (i:Instrument {symbol: $symbol})
MERGE (t:Trade {id: $id})
SET t.side = $side, t.entry_price = $entry_price, t.stop_loss = $stop_loss, t.size = $size,
    t.risk_amount = $risk_amount, t.status = $status, t.scenario = $scenario, t.opened_at = $opened_at
MERGE (i)-[:HAS_TRADE]->(t)
MERGE (s:Signal {id: $signal_id})
MERGE (s)-[:TRIGGERED]->(t)`,
			Params: params,
		}}
		if trade.Regime != "" {
			statements = append(statements, Statement{
				Cypher: `MERGE (t:Trade {id: $id})
MERGE (r:Regime {name: $regime})
MERGE (t)-[:IN_REGIME]->(r)`,
				Params: map[string]any{
					"id":     entry.SecondaryID(),
					"regime": string(trade.Regime),
				},
			})
		}
		return statements, nil

	case types.EntityTypeRiskEvent:
		var event types.RiskEvent
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode risk event payload", err)
		}
		statement := Statement{
			Cypher: `MERGE (e:RiskEvent {id: $id})
SET e.type = $type, e.amount = $amount, e.r_multiple = $r_multiple, e.timestamp = $timestamp`,
			Params: map[string]any{
				"id":         entry.SecondaryID(),
				"type":       string(event.Type),
				"amount":     event.Amount,
				"r_multiple": event.RMultiple,
				"timestamp":  event.Timestamp.UTC().UnixMilli(),
			},
		}
		statements := []Statement{statement}
		if event.TradeID != "" {
			statements = append(statements, Statement{
				Cypher: `MERGE (t:Trade {id: $trade_id})
MERGE (e:RiskEvent {id: $id})
MERGE (t)-[:HAD_EVENT]->(e)`,
				Params: map[string]any{
					"trade_id": "trade_" + event.TradeID,
					"id":       entry.SecondaryID(),
				},
			})
		}
		return statements, nil

	default:
		return nil, errors.Newf(errors.ErrCodeInvalidEntity, "unsupported entity type %q", entry.EntityType)
	}
}
