// Package pipeline runs the trade decision loop. Each (instrument, scenario)
// pair owns one Pipeline, a small state machine that walks
// IDLE -> SETUP -> ENTER/SKIP -> MANAGE -> EXIT and back. Evaluation within
// a pair is strictly sequential; different pairs run concurrently under the
// Manager.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/gateway"
	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/oracle"
	"github.com/helio-lab/helio-trading/internal/risk"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// State is the pipeline's position in the trade lifecycle.
type State string

const (
	// StateIdle means no setup is in flight and no position is open.
	StateIdle State = "IDLE"
	// StateSetup means a candidate setup is being prepared for the oracle.
	StateSetup State = "SETUP"
	// StateEnter means an entry is executing at the gateway.
	StateEnter State = "ENTER"
	// StateManage means a live position is being managed.
	StateManage State = "MANAGE"
	// StateExit means the position is closing at the gateway.
	StateExit State = "EXIT"
)

// Pair identifies one pipeline: an instrument traded under one scenario.
type Pair struct {
	Symbol   string
	Scenario string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Symbol, p.Scenario)
}

// Pipeline is the decision loop for one pair. It is not safe for concurrent
// use; the Manager serializes calls per pair.
type Pipeline struct {
	pair       Pair
	timeframe  types.Timeframe
	spec       risk.InstrumentSpec
	engine     *feature.Engine
	thresholds feature.RegimeThresholds
	risk       *risk.Controller
	oracle     oracle.DecisionOracle
	gateway    gateway.ExecutionGateway
	store      *store.Store
	logger     *logger.Logger

	state     State
	openTrade *types.Trade

	bars        []types.Bar
	maxBars     int
	sessionDay  time.Time
	sessionBars []types.Bar
}

// Options bundles the pipeline dependencies.
type Options struct {
	Pair       Pair
	Timeframe  types.Timeframe
	Spec       risk.InstrumentSpec
	Engine     *feature.Engine
	Thresholds feature.RegimeThresholds
	Risk       *risk.Controller
	Oracle     oracle.DecisionOracle
	Gateway    gateway.ExecutionGateway
	Store      *store.Store
	Logger     *logger.Logger
}

// New creates an idle pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil || opts.Risk == nil || opts.Oracle == nil || opts.Gateway == nil || opts.Store == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "pipeline requires engine, risk, oracle, gateway and store")
	}
	if opts.Pair.Symbol == "" || opts.Pair.Scenario == "" {
		return nil, errors.New(errors.ErrCodeMissingParameter, "pipeline requires a symbol and scenario")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}

	return &Pipeline{
		pair:       opts.Pair,
		timeframe:  opts.Timeframe,
		spec:       opts.Spec,
		engine:     opts.Engine,
		thresholds: opts.Thresholds,
		risk:       opts.Risk,
		oracle:     opts.Oracle,
		gateway:    opts.Gateway,
		store:      opts.Store,
		logger:     opts.Logger,
		state:      StateIdle,
		maxBars:    opts.Engine.MinBars() * 3,
	}, nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

// OpenTrade returns the live trade, if any.
func (p *Pipeline) OpenTrade() *types.Trade {
	return p.openTrade
}

// Restore adopts a reconciled open trade so the pipeline resumes managing it.
func (p *Pipeline) Restore(trade types.Trade) {
	p.openTrade = &trade
	p.state = StateManage
}

// OnBar advances the pipeline by one bar. Exactly one trade lifecycle step
// happens per call: evaluating a fresh setup or managing the open position.
func (p *Pipeline) OnBar(ctx context.Context, bar types.Bar) error {
	p.pushBar(bar)

	// Protective exits need only the bar itself, so they run before the
	// feature snapshot: a position restored after a restart must stay
	// guarded while the warm-up window is still filling.
	if p.openTrade != nil {
		if hit, price := stopHit(p.openTrade, bar); hit {
			return p.exit(ctx, bar, price, types.RiskEventStopLoss)
		}
		if hit, price := targetHit(p.openTrade, bar); hit {
			return p.exit(ctx, bar, price, types.RiskEventTakeProfit)
		}
	}

	snapshot, err := p.engine.Snapshot(p.bars, p.sessionBars)
	if err != nil {
		if errors.IsInsufficientDataError(err) {
			p.logger.Debug("warming up", zap.String("pair", p.pair.String()), zap.Error(err))
			return nil
		}
		return err
	}

	if p.openTrade != nil {
		return p.manage(ctx, bar, snapshot)
	}
	return p.evaluate(ctx, bar, snapshot)
}

func (p *Pipeline) pushBar(bar types.Bar) {
	p.bars = append(p.bars, bar)
	if len(p.bars) > p.maxBars {
		p.bars = p.bars[len(p.bars)-p.maxBars:]
	}

	day := bar.Time.UTC().Truncate(24 * time.Hour)
	if !day.Equal(p.sessionDay) {
		p.sessionDay = day
		p.sessionBars = p.sessionBars[:0]
	}
	p.sessionBars = append(p.sessionBars, bar)
}

// evaluate walks IDLE -> SETUP -> ENTER or back to IDLE on a skip.
func (p *Pipeline) evaluate(ctx context.Context, bar types.Bar, snapshot map[string]float64) error {
	p.state = StateSetup
	defer func() {
		if p.openTrade == nil {
			p.state = StateIdle
		}
	}()

	regime := feature.ClassifyRegime(snapshot, p.thresholds)
	signal := types.Signal{
		ID:        uuid.New().String(),
		Symbol:    p.pair.Symbol,
		Timeframe: p.timeframe,
		Kind:      types.SignalKindBreakout,
		Scenario:  p.pair.Scenario,
		Features:  snapshot,
		Regime:    regime,
		CreatedAt: bar.Time.UTC(),
	}

	decision, err := p.oracle.Decide(ctx, oracle.Request{
		Signal:   signal,
		Features: snapshot,
		Regime:   regime,
		Balance:  p.risk.Balance(),
	})
	if err != nil {
		return err
	}

	if decision.Action != types.ActionEnter {
		p.logger.Debug("setup skipped",
			zap.String("pair", p.pair.String()),
			zap.String("reason", decision.Reason),
		)
		return nil
	}
	signal.Side = decision.Side

	if ok, reason := p.risk.CanTrade(bar.Time); !ok {
		p.logger.Info("entry blocked by risk controller",
			zap.String("pair", p.pair.String()),
			zap.String("reason", reason),
		)
		return nil
	}

	return p.enter(ctx, bar, signal, decision)
}

// enter executes an entry. The trade is recorded as pending before the
// gateway call and confirmed (or rejected) after it, so a crash in between
// leaves a pending row that startup reconciliation resolves against the
// gateway. A gateway failure never leaves an open trade behind.
func (p *Pipeline) enter(ctx context.Context, bar types.Bar, signal types.Signal, decision types.Decision) error {
	p.state = StateEnter

	stopDistance := decision.StopDistance()
	volume, err := p.risk.SizePosition(p.pair.Symbol, stopDistance)
	if err != nil {
		p.logger.Info("entry blocked, position sizing failed",
			zap.String("pair", p.pair.String()),
			zap.Error(err),
		)
		return nil
	}
	riskAmount, err := p.risk.RiskAmount(p.pair.Symbol, stopDistance, volume)
	if err != nil {
		p.logger.Info("entry blocked, risk amount unavailable",
			zap.String("pair", p.pair.String()),
			zap.Error(err),
		)
		return nil
	}

	trade := types.Trade{
		ID:         uuid.New().String(),
		SignalID:   signal.ID,
		Symbol:     p.pair.Symbol,
		Scenario:   p.pair.Scenario,
		Side:       decision.Side,
		EntryPrice: decision.EntryPrice,
		StopLoss:   decision.StopLoss,
		TakeProfit: decision.TakeProfit,
		Size:       volume,
		RiskAmount: riskAmount,
		Status:     types.TradeStatusPending,
		Regime:     signal.Regime,
		OpenedAt:   bar.Time.UTC(),
	}

	if err := p.store.Record(ctx, signal, trade); err != nil {
		return err
	}

	result, gatewayErr := p.gateway.PlaceOrder(ctx, gateway.OrderRequest{
		Symbol:     p.pair.Symbol,
		Side:       decision.Side,
		Volume:     volume,
		Price:      decision.EntryPrice,
		StopLoss:   decision.StopLoss,
		TakeProfit: decision.TakeProfit,
		Comment:    "trade:" + trade.ID,
	})
	if gatewayErr != nil {
		trade.Status = types.TradeStatusRejected
		if err := p.store.Record(ctx, trade); err != nil {
			return err
		}
		p.logger.Error("entry aborted, gateway rejected order",
			zap.String("pair", p.pair.String()),
			zap.String("trade_id", trade.ID),
			zap.Error(gatewayErr),
		)
		return nil
	}

	trade.OrderID = result.OrderID
	trade.EntryPrice = result.FilledPrice
	trade.Status = types.TradeStatusOpen
	if err := p.store.Record(ctx, trade); err != nil {
		return err
	}

	p.openTrade = &trade
	p.state = StateManage
	p.logger.Info("trade entered",
		zap.String("pair", p.pair.String()),
		zap.String("trade_id", trade.ID),
		zap.String("side", string(trade.Side)),
		zap.Float64("entry", trade.EntryPrice),
		zap.Float64("stop", trade.StopLoss),
		zap.Float64("size", trade.Size),
	)
	return nil
}

// manage consults the oracle for an open position. The protective stop and
// target checks already ran in OnBar before the snapshot was taken.
func (p *Pipeline) manage(ctx context.Context, bar types.Bar, snapshot map[string]float64) error {
	trade := p.openTrade

	decision, err := p.oracle.Decide(ctx, oracle.Request{
		Signal:    types.Signal{ID: trade.SignalID, Symbol: trade.Symbol},
		Features:  snapshot,
		Balance:   p.risk.Balance(),
		OpenTrade: trade,
	})
	if err != nil {
		return err
	}

	switch decision.Action {
	case types.ActionExit:
		return p.exit(ctx, bar, bar.Close, types.RiskEventManualExit)
	case types.ActionManage:
		return p.adjust(ctx, bar, decision)
	default:
		return nil
	}
}

// adjust applies a manage decision: trail the stop and/or take a partial.
func (p *Pipeline) adjust(ctx context.Context, bar types.Bar, decision types.Decision) error {
	trade := p.openTrade

	if decision.NewStopLoss.IsSome() {
		newStop := decision.NewStopLoss.Unwrap()
		if err := p.gateway.ModifyStops(ctx, trade.OrderID, newStop, optional.None[float64]()); err != nil {
			p.logger.Error("failed to trail stop",
				zap.String("trade_id", trade.ID),
				zap.Error(err),
			)
			return nil
		}
		trade.StopLoss = newStop
		if err := p.store.Record(ctx, *trade); err != nil {
			return err
		}
		p.logger.Info("stop trailed",
			zap.String("trade_id", trade.ID),
			zap.Float64("stop", newStop),
		)
	}

	if decision.PartialRatio > 0 {
		return p.partialExit(ctx, bar, decision.PartialRatio)
	}
	return nil
}

func (p *Pipeline) partialExit(ctx context.Context, bar types.Bar, ratio float64) error {
	trade := p.openTrade
	closeVolume := trade.Size * ratio

	// A partial that consumes the whole remaining size is a full exit.
	// Settling it as one keeps the trade from lingering open with nothing
	// left to manage.
	if closeVolume >= trade.Size {
		return p.exit(ctx, bar, bar.Close, types.RiskEventManualExit)
	}

	result, err := p.gateway.CloseOrder(ctx, gateway.CloseRequest{
		OrderID: trade.OrderID,
		Volume:  closeVolume,
		Price:   bar.Close,
	})
	if err != nil {
		p.logger.Error("partial exit failed",
			zap.String("trade_id", trade.ID),
			zap.Error(err),
		)
		return nil
	}

	amount := p.pnl(trade.Side, trade.EntryPrice, result.ClosePrice, result.ClosedVolume)
	event := types.RiskEvent{
		ID:        uuid.New().String(),
		TradeID:   trade.ID,
		Type:      types.RiskEventPartialExit,
		Amount:    amount,
		RMultiple: rMultiple(amount, trade.RiskAmount),
		Timestamp: bar.Time.UTC(),
	}

	trade.Size = result.RemainingVolume
	if err := p.store.Record(ctx, *trade, event); err != nil {
		return err
	}
	if _, err := p.risk.RecordOutcome(event); err != nil {
		return err
	}

	p.logger.Info("partial exit",
		zap.String("trade_id", trade.ID),
		zap.Float64("closed_volume", result.ClosedVolume),
		zap.Float64("amount", amount),
	)
	return nil
}

// exit closes the full position and settles the outcome. A gateway failure
// aborts the exit and leaves the trade under management for the next bar.
func (p *Pipeline) exit(ctx context.Context, bar types.Bar, price float64, eventType types.RiskEventType) error {
	p.state = StateExit
	trade := p.openTrade

	result, err := p.gateway.CloseOrder(ctx, gateway.CloseRequest{
		OrderID: trade.OrderID,
		Volume:  trade.Size,
		Price:   price,
	})
	if err != nil {
		p.state = StateManage
		p.logger.Error("exit failed, keeping position under management",
			zap.String("trade_id", trade.ID),
			zap.Error(err),
		)
		return nil
	}

	amount := p.pnl(trade.Side, trade.EntryPrice, result.ClosePrice, result.ClosedVolume)
	event := types.RiskEvent{
		ID:        uuid.New().String(),
		TradeID:   trade.ID,
		Type:      eventType,
		Amount:    amount,
		RMultiple: rMultiple(amount, trade.RiskAmount),
		Timestamp: bar.Time.UTC(),
	}

	trade.Status = types.TradeStatusClosed
	trade.ClosedAt = optional.Some(bar.Time.UTC())
	if err := p.store.Record(ctx, *trade, event); err != nil {
		return err
	}

	breached, err := p.risk.RecordOutcome(event)
	if err != nil {
		return err
	}
	if breached {
		breach := types.RiskEvent{
			ID:        uuid.New().String(),
			Type:      types.RiskEventDrawdownBreach,
			Timestamp: bar.Time.UTC(),
		}
		if err := p.store.Record(ctx, breach); err != nil {
			return err
		}
	}

	p.logger.Info("trade closed",
		zap.String("pair", p.pair.String()),
		zap.String("trade_id", trade.ID),
		zap.String("event", string(eventType)),
		zap.Float64("amount", amount),
	)

	p.openTrade = nil
	p.state = StateIdle
	return nil
}

// pnl converts a price move into account currency using the instrument spec.
func (p *Pipeline) pnl(side types.Side, entry, exit, volume float64) float64 {
	move := exit - entry
	if side == types.SideSell {
		move = -move
	}
	return move / p.spec.PointSize * p.spec.PipValue * volume
}

func rMultiple(amount, riskAmount float64) float64 {
	if riskAmount == 0 {
		return 0
	}
	return amount / riskAmount
}

func stopHit(trade *types.Trade, bar types.Bar) (bool, float64) {
	switch trade.Side {
	case types.SideBuy:
		if bar.Low <= trade.StopLoss {
			return true, trade.StopLoss
		}
	case types.SideSell:
		if bar.High >= trade.StopLoss {
			return true, trade.StopLoss
		}
	}
	return false, 0
}

func targetHit(trade *types.Trade, bar types.Bar) (bool, float64) {
	if trade.TakeProfit.IsNone() {
		return false, 0
	}
	target := trade.TakeProfit.Unwrap()

	switch trade.Side {
	case types.SideBuy:
		if bar.High >= target {
			return true, target
		}
	case types.SideSell:
		if bar.Low <= target {
			return true, target
		}
	}
	return false, 0
}
