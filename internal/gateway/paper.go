package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// PaperGateway is an in-memory execution gateway. Orders fill instantly at
// the request's reference price. It exists for paper trading and tests; the
// contract it honors is exactly the live gateway's.
type PaperGateway struct {
	logger   *logger.Logger
	validate *validator.Validate

	mu        sync.Mutex
	positions map[string]*Position
}

// NewPaperGateway creates a paper gateway.
func NewPaperGateway(log *logger.Logger) *PaperGateway {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PaperGateway{
		logger:    log,
		validate:  validator.New(),
		positions: make(map[string]*Position),
	}
}

// PlaceOrder implements ExecutionGateway.
func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{}, errors.Wrap(errors.ErrCodeOrderFailed, "context cancelled", err)
	}
	if err := g.validate.Struct(req); err != nil {
		return OrderResult{}, errors.Wrap(errors.ErrCodeOrderFailed, "invalid order request", err)
	}

	now := time.Now().UTC()
	position := &Position{
		OrderID:    uuid.New().String(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		EntryPrice: req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
		OpenedAt:   now,
	}

	g.mu.Lock()
	g.positions[position.OrderID] = position
	g.mu.Unlock()

	g.logger.Info("paper order filled",
		zap.String("order_id", position.OrderID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("volume", req.Volume),
		zap.Float64("price", req.Price),
	)

	return OrderResult{
		OrderID:      position.OrderID,
		FilledPrice:  req.Price,
		FilledVolume: req.Volume,
		ExecutedAt:   now,
	}, nil
}

// CloseOrder implements ExecutionGateway.
func (g *PaperGateway) CloseOrder(ctx context.Context, req CloseRequest) (CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{}, errors.Wrap(errors.ErrCodeCloseFailed, "context cancelled", err)
	}
	if err := g.validate.Struct(req); err != nil {
		return CloseResult{}, errors.Wrap(errors.ErrCodeCloseFailed, "invalid close request", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	position, ok := g.positions[req.OrderID]
	if !ok {
		return CloseResult{}, errors.Newf(errors.ErrCodePositionNotFound, "no open position for order %s", req.OrderID)
	}
	if req.Volume > position.Volume {
		return CloseResult{}, errors.Newf(errors.ErrCodeCloseFailed, "close volume %f exceeds position volume %f", req.Volume, position.Volume)
	}

	position.Volume -= req.Volume
	remaining := position.Volume
	if remaining == 0 {
		delete(g.positions, req.OrderID)
	}

	g.logger.Info("paper position closed",
		zap.String("order_id", req.OrderID),
		zap.Float64("closed_volume", req.Volume),
		zap.Float64("remaining_volume", remaining),
	)

	return CloseResult{
		OrderID:         req.OrderID,
		ClosedVolume:    req.Volume,
		ClosePrice:      req.Price,
		RemainingVolume: remaining,
		ExecutedAt:      time.Now().UTC(),
	}, nil
}

// ModifyStops implements ExecutionGateway.
func (g *PaperGateway) ModifyStops(ctx context.Context, orderID string, stopLoss float64, takeProfit optional.Option[float64]) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOrderFailed, "context cancelled", err)
	}
	if stopLoss <= 0 {
		return errors.Newf(errors.ErrCodeOrderFailed, "stop loss must be positive, got %f", stopLoss)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	position, ok := g.positions[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodePositionNotFound, "no open position for order %s", orderID)
	}

	position.StopLoss = stopLoss
	if takeProfit.IsSome() {
		position.TakeProfit = takeProfit
	}

	return nil
}

// Positions implements ExecutionGateway.
func (g *PaperGateway) Positions(ctx context.Context) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "context cancelled", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make([]Position, 0, len(g.positions))
	for _, p := range g.positions {
		positions = append(positions, *p)
	}
	return positions, nil
}
