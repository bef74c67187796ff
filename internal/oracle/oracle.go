// Package oracle defines the decision oracle contract. The trade pipeline
// never embeds decision logic; it hands every prepared setup to an injected
// oracle and treats the verdict as untrusted input until validated.
package oracle

import (
	"context"

	"github.com/helio-lab/helio-trading/internal/types"
)

// Request is everything an oracle may consider for one verdict.
type Request struct {
	// Signal is the detected setup under evaluation.
	Signal types.Signal
	// Features is the deterministic feature snapshot at evaluation time.
	Features map[string]float64
	// Regime is the classified market condition.
	Regime types.RegimeName
	// Balance is the current account balance.
	Balance float64
	// OpenTrade is the pair's live trade when the pipeline is managing a
	// position; nil when evaluating a fresh entry.
	OpenTrade *types.Trade
}

// DecisionOracle produces a verdict for a prepared setup. Implementations
// must respect ctx cancellation; callers enforce a deadline and fall back to
// skip when it passes.
type DecisionOracle interface {
	// Name identifies the oracle in logs and persisted decisions.
	Name() string
	// Decide returns the oracle's verdict for the request.
	Decide(ctx context.Context, req Request) (types.Decision, error)
}
