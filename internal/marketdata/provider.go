// Package marketdata supplies bar streams to the engine: a live WebSocket
// feed for trading and a CSV replay for deterministic runs against recorded
// history.
package marketdata

import (
	"context"
	"iter"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// ProviderType selects a market data provider.
type ProviderType string

const (
	ProviderWebSocket ProviderType = "websocket"
	ProviderReplay    ProviderType = "replay"
)

// Provider streams bars. The iterator yields bar and error pairs; cancel the
// context to stop streaming.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Stream returns an iterator over bars for the given symbols.
	Stream(ctx context.Context, symbols []string) iter.Seq2[types.Bar, error]
}

// NewProvider creates a provider from its type and source: a WebSocket URL
// for live data, a CSV path for replay.
func NewProvider(providerType ProviderType, source string) (Provider, error) {
	switch providerType {
	case ProviderWebSocket:
		return NewWebSocketProvider(source), nil
	case ProviderReplay:
		return NewReplayProvider(source), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported market data provider %q", providerType)
	}
}
