package marketdata

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// barMessage is the wire format of one streamed bar.
type barMessage struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"` // unix milliseconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// subscribeMessage is sent once after connecting.
type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// WebSocketProvider streams bars from a WebSocket feed.
type WebSocketProvider struct {
	url string
}

// NewWebSocketProvider creates a provider for the given WebSocket URL.
func NewWebSocketProvider(url string) *WebSocketProvider {
	return &WebSocketProvider{url: url}
}

// Name implements Provider.
func (p *WebSocketProvider) Name() string {
	return "websocket"
}

// Stream implements Provider. It connects, subscribes to the symbols and
// yields every bar message until the context is cancelled or the connection
// drops.
func (p *WebSocketProvider) Stream(ctx context.Context, symbols []string) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		if len(symbols) == 0 {
			yield(types.Bar{}, errors.New(errors.ErrCodeInvalidParameter, "at least one symbol is required"))
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to connect to feed", err))
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
			yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to subscribe", err))
			return
		}

		// Unblock ReadMessage when the context is cancelled. The done
		// channel releases the watcher when the stream ends on its own,
		// so it never outlives the iteration.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		wanted := make(map[string]bool, len(symbols))
		for _, symbol := range symbols {
			wanted[symbol] = true
		}

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(types.Bar{}, errors.Wrap(errors.ErrCodeStreamClosed, "feed connection closed", err))
				return
			}

			var msg barMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				if !yield(types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "malformed bar message", err)) {
					return
				}
				continue
			}
			if !wanted[msg.Symbol] {
				continue
			}

			bar := types.Bar{
				Symbol: msg.Symbol,
				Time:   time.UnixMilli(msg.Time).UTC(),
				Open:   msg.Open,
				High:   msg.High,
				Low:    msg.Low,
				Close:  msg.Close,
				Volume: msg.Volume,
			}
			if !yield(bar, nil) {
				return
			}
		}
	}
}
