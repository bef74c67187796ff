package semantic

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Document is a semantic-store record: a human-readable rendering of an
// entity plus its embedding.
type Document struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityKey  string    `json:"entity_key"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding"`
}

// RenderDocument turns an outbox entry into the document the semantic store
// keeps. The rendering is deterministic: the same entity payload always
// produces the same text and therefore the same embedding.
func RenderDocument(entry store.OutboxEntry) (Document, error) {
	text, err := renderText(entry)
	if err != nil {
		return Document{}, err
	}

	return Document{
		ID:         entry.SecondaryID(),
		EntityType: string(entry.EntityType),
		EntityKey:  entry.EntityKey,
		Text:       text,
		Embedding:  Embed(text),
	}, nil
}

func renderText(entry store.OutboxEntry) (string, error) {
	switch entry.EntityType {
	case types.EntityTypeQuote:
		var quote types.Quote
		if err := json.Unmarshal(entry.Payload, &quote); err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode quote payload", err)
		}
		return fmt.Sprintf("quote %s at %s price %.5f volume %.2f",
			quote.Symbol, quote.Timestamp.UTC().Format("2006-01-02 15:04:05"), quote.Price, quote.Volume), nil

	case types.EntityTypeSignal:
		var signal types.Signal
		if err := json.Unmarshal(entry.Payload, &signal); err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode signal payload", err)
		}
		return fmt.Sprintf("signal %s %s %s on %s %s scenario %s regime %s features %s",
			signal.ID, signal.Kind, signal.Side, signal.Symbol, signal.Timeframe,
			signal.Scenario, signal.Regime, renderFeatures(signal.Features)), nil

	case types.EntityTypeTrade:
		var trade types.Trade
		if err := json.Unmarshal(entry.Payload, &trade); err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode trade payload", err)
		}
		text := fmt.Sprintf("trade %s %s %.2f %s at %.5f stop %.5f status %s scenario %s regime %s",
			trade.ID, trade.Side, trade.Size, trade.Symbol, trade.EntryPrice, trade.StopLoss,
			trade.Status, trade.Scenario, trade.Regime)
		if trade.TakeProfit.IsSome() {
			text += fmt.Sprintf(" target %.5f", trade.TakeProfit.Unwrap())
		}
		return text, nil

	case types.EntityTypeRiskEvent:
		var event types.RiskEvent
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			return "", errors.Wrap(errors.ErrCodeInvalidEntity, "failed to decode risk event payload", err)
		}
		return fmt.Sprintf("risk event %s %s on trade %s amount %.2f r-multiple %.2f",
			event.ID, event.Type, event.TradeID, event.Amount, event.RMultiple), nil

	default:
		return "", errors.Newf(errors.ErrCodeInvalidEntity, "unsupported entity type %q", entry.EntityType)
	}
}

// renderFeatures renders a feature map in sorted key order so the text is
// stable across runs.
func renderFeatures(features map[string]float64) string {
	keys := make([]string, 0, len(features))
	for key := range features {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.5f", key, features[key]))
	}
	return strings.Join(parts, " ")
}
