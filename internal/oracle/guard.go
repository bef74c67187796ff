package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Guard wraps an oracle with a deadline and response validation. Whatever
// goes wrong on the other side of the contract, the pipeline only ever sees
// a valid decision: timeouts, transport errors and malformed verdicts all
// collapse to a skip.
type Guard struct {
	oracle  DecisionOracle
	timeout time.Duration
	logger  *logger.Logger
}

// NewGuard creates a guard around an oracle.
func NewGuard(oracle DecisionOracle, timeout time.Duration, log *logger.Logger) (*Guard, error) {
	if oracle == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "oracle is required")
	}
	if timeout <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "oracle timeout must be positive, got %s", timeout)
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Guard{oracle: oracle, timeout: timeout, logger: log}, nil
}

// Name implements DecisionOracle.
func (g *Guard) Name() string {
	return g.oracle.Name()
}

type decideResult struct {
	decision types.Decision
	err      error
}

// Decide implements DecisionOracle. It never returns an error: the fallback
// verdict for any failure is a skip with the failure as reason.
func (g *Guard) Decide(ctx context.Context, req Request) (types.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results := make(chan decideResult, 1)
	go func() {
		decision, err := g.oracle.Decide(ctx, req)
		results <- decideResult{decision: decision, err: err}
	}()

	select {
	case <-ctx.Done():
		g.logger.Warn("oracle deadline exceeded, skipping setup",
			zap.String("oracle", g.oracle.Name()),
			zap.String("signal_id", req.Signal.ID),
			zap.Duration("timeout", g.timeout),
		)
		return types.Skip("oracle timeout"), nil
	case result := <-results:
		if result.err != nil {
			g.logger.Warn("oracle failed, skipping setup",
				zap.String("oracle", g.oracle.Name()),
				zap.String("signal_id", req.Signal.ID),
				zap.Error(errors.Wrap(errors.ErrCodeOracleUnavailable, "oracle error", result.err)),
			)
			return types.Skip("oracle unavailable"), nil
		}
		if err := result.decision.Validate(); err != nil {
			g.logger.Warn("oracle returned malformed decision, skipping setup",
				zap.String("oracle", g.oracle.Name()),
				zap.String("signal_id", req.Signal.ID),
				zap.Error(errors.Wrap(errors.ErrCodeOracleInvalidResponse, "invalid decision", err)),
			)
			return types.Skip("invalid oracle response"), nil
		}
		return result.decision, nil
	}
}
