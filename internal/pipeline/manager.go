package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/gateway"
	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

const orderCommentPrefix = "trade:"

// Manager routes market data to pipelines. Each pair gets its own worker
// goroutine fed by an ordered channel, so evaluation within a pair is
// strictly sequential while pairs run concurrently.
type Manager struct {
	store   *store.Store
	gateway gateway.ExecutionGateway
	logger  *logger.Logger

	mu      sync.Mutex
	workers map[Pair]*worker
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type worker struct {
	pipeline *Pipeline
	bars     chan types.Bar
}

// NewManager creates an empty manager.
func NewManager(primary *store.Store, gw gateway.ExecutionGateway, log *logger.Logger) (*Manager, error) {
	if primary == nil || gw == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "manager requires a store and gateway")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Manager{
		store:   primary,
		gateway: gw,
		logger:  log,
		workers: make(map[Pair]*worker),
	}, nil
}

// Register adds a pipeline. Must be called before Start.
func (m *Manager) Register(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New(errors.ErrCodePipelineState, "cannot register pipelines after start")
	}
	if _, exists := m.workers[p.pair]; exists {
		return errors.Newf(errors.ErrCodePipelineState, "pipeline already registered for %s", p.pair)
	}

	m.workers[p.pair] = &worker{
		pipeline: p,
		bars:     make(chan types.Bar, 64),
	}
	return nil
}

// Start launches the per-pair workers.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	for pair, w := range m.workers {
		m.wg.Add(1)
		go m.runWorker(ctx, pair, w)
	}
}

// Stop drains and shuts down the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, w := range m.workers {
		close(w.bars)
	}
	m.mu.Unlock()

	m.wg.Wait()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) runWorker(ctx context.Context, pair Pair, w *worker) {
	defer m.wg.Done()

	for bar := range w.bars {
		if ctx.Err() != nil {
			return
		}
		if err := w.pipeline.OnBar(ctx, bar); err != nil {
			m.logger.Error("pipeline step failed",
				zap.String("pair", pair.String()),
				zap.Error(err),
			)
		}
	}
}

// Dispatch records the bar's quote and hands the bar to every pipeline
// trading the symbol. The send is blocking so a slow pair applies
// backpressure instead of reordering its own bars.
func (m *Manager) Dispatch(ctx context.Context, bar types.Bar) error {
	quote := types.Quote{
		Symbol:    bar.Symbol,
		Timestamp: bar.Time.UTC(),
		Price:     bar.Close,
		Volume:    bar.Volume,
	}
	if err := m.store.Record(ctx, quote); err != nil {
		return err
	}

	m.mu.Lock()
	targets := make([]*worker, 0, len(m.workers))
	for pair, w := range m.workers {
		if pair.Symbol == bar.Symbol {
			targets = append(targets, w)
		}
	}
	m.mu.Unlock()

	for _, w := range targets {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.bars <- bar:
		}
	}
	return nil
}

// Reconcile resolves trades the primary store believes are live against the
// gateway's positions. Pending trades whose order never reached the broker
// are rejected; pending trades with a live position are confirmed open; open
// trades with no position left are settled as externally closed. Confirmed
// trades are handed back to their pipeline for management.
func (m *Manager) Reconcile(ctx context.Context) error {
	positions, err := m.gateway.Positions(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconcileFailed, "failed to list gateway positions", err)
	}

	byTradeID := make(map[string]gateway.Position, len(positions))
	for _, position := range positions {
		if tradeID, ok := strings.CutPrefix(position.Comment, orderCommentPrefix); ok {
			byTradeID[tradeID] = position
		}
	}

	trades, err := m.store.OpenTrades(ctx)
	if err != nil {
		return err
	}

	for _, trade := range trades {
		position, alive := byTradeID[trade.ID]

		switch {
		case trade.Status == types.TradeStatusPending && !alive:
			trade.Status = types.TradeStatusRejected
			if err := m.store.Record(ctx, trade); err != nil {
				return err
			}
			m.logger.Warn("pending trade never reached the gateway, rejected",
				zap.String("trade_id", trade.ID),
			)

		case trade.Status == types.TradeStatusPending && alive:
			trade.Status = types.TradeStatusOpen
			trade.OrderID = position.OrderID
			trade.EntryPrice = position.EntryPrice
			if err := m.store.Record(ctx, trade); err != nil {
				return err
			}
			m.logger.Info("pending trade confirmed against gateway position",
				zap.String("trade_id", trade.ID),
			)
			m.restore(trade)

		case trade.Status == types.TradeStatusOpen && !alive:
			// The position was closed outside the engine; settle with an
			// unknown outcome of zero rather than guessing a fill price.
			trade.Status = types.TradeStatusClosed
			trade.ClosedAt = optional.Some(trade.OpenedAt)
			event := types.RiskEvent{
				ID:        uuid.New().String(),
				TradeID:   trade.ID,
				Type:      types.RiskEventManualExit,
				Timestamp: trade.OpenedAt,
			}
			if err := m.store.Record(ctx, trade, event); err != nil {
				return err
			}
			m.logger.Warn("open trade has no gateway position, settled as externally closed",
				zap.String("trade_id", trade.ID),
			)

		default:
			m.restore(trade)
		}
	}

	return nil
}

func (m *Manager) restore(trade types.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair := Pair{Symbol: trade.Symbol, Scenario: trade.Scenario}
	w, ok := m.workers[pair]
	if !ok {
		m.logger.Warn("no pipeline registered for reconciled trade",
			zap.String("pair", pair.String()),
			zap.String("trade_id", trade.ID),
		)
		return
	}
	w.pipeline.Restore(trade)
	m.logger.Info("pipeline resumed managing reconciled trade",
		zap.String("pair", pair.String()),
		zap.String("trade_id", trade.ID),
	)
}
