// Package store implements the primary transactional store on DuckDB. All
// committed state lives here; every write that must reach the secondary
// stores leaves an outbox row in the same transaction, so a crash can delay
// propagation but never lose it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/types"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Store is the primary persistence layer.
type Store struct {
	db      *sql.DB
	sq      squirrel.StatementBuilderType
	logger  *logger.Logger
	targets []string
}

// NewStore opens (or creates) the primary store at path. Use ":memory:" for
// an ephemeral store. targets are the secondary stores every recorded entity
// fans out to through the outbox.
func NewStore(path string, targets []string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to open database", err)
	}

	return &Store{
		db:      db,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger:  log,
		targets: targets,
	}, nil
}

// Initialize creates the schema.
func (s *Store) Initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			price DOUBLE NOT NULL,
			volume DOUBLE NOT NULL,
			PRIMARY KEY (symbol, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			kind TEXT NOT NULL,
			scenario TEXT NOT NULL,
			side TEXT NOT NULL,
			features TEXT NOT NULL,
			regime TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL,
			order_id TEXT,
			symbol TEXT NOT NULL,
			scenario TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_price DOUBLE NOT NULL,
			stop_loss DOUBLE NOT NULL,
			take_profit DOUBLE,
			size DOUBLE NOT NULL,
			risk_amount DOUBLE NOT NULL,
			status TEXT NOT NULL,
			regime TEXT,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS risk_events (
			id TEXT PRIMARY KEY,
			trade_id TEXT,
			type TEXT NOT NULL,
			amount DOUBLE NOT NULL,
			r_multiple DOUBLE NOT NULL,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMP NOT NULL,
			last_error TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			failed_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create schema", err)
		}
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists one or more entities and their outbox rows in a single
// transaction. Either everything commits or nothing does: a trade is never
// stored without its signal, and no entity is ever stored without the outbox
// rows that will propagate it.
func (s *Store) Record(ctx context.Context, entities ...types.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodePrimaryStoreFailed, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, entity := range entities {
		if err := s.insertEntity(tx, entity); err != nil {
			return err
		}
		if err := s.insertOutbox(tx, entity, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodePrimaryStoreFailed, "failed to commit transaction", err)
	}

	return nil
}

func (s *Store) insertEntity(tx *sql.Tx, entity types.Entity) error {
	var err error
	switch e := entity.(type) {
	case types.Quote:
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO quotes (symbol, timestamp, price, volume) VALUES (?, ?, ?, ?)`,
			e.Symbol, e.Timestamp.UTC(), e.Price, e.Volume,
		)
	case types.Signal:
		features, marshalErr := json.Marshal(e.Features)
		if marshalErr != nil {
			return errors.Wrap(errors.ErrCodeInvalidEntity, "failed to marshal signal features", marshalErr)
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO signals (id, symbol, timeframe, kind, scenario, side, features, regime, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Symbol, string(e.Timeframe), string(e.Kind), e.Scenario, string(e.Side),
			string(features), string(e.Regime), e.CreatedAt.UTC(),
		)
	case types.Trade:
		var takeProfit any
		if e.TakeProfit.IsSome() {
			takeProfit = e.TakeProfit.Unwrap()
		}
		var closedAt any
		if e.ClosedAt.IsSome() {
			closedAt = e.ClosedAt.Unwrap().UTC()
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO trades (id, signal_id, order_id, symbol, scenario, side, entry_price, stop_loss,
			 take_profit, size, risk_amount, status, regime, opened_at, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SignalID, e.OrderID, e.Symbol, e.Scenario, string(e.Side), e.EntryPrice, e.StopLoss,
			takeProfit, e.Size, e.RiskAmount, string(e.Status), string(e.Regime), e.OpenedAt.UTC(), closedAt,
		)
	case types.RiskEvent:
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO risk_events (id, trade_id, type, amount, r_multiple, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.TradeID, string(e.Type), e.Amount, e.RMultiple, e.Timestamp.UTC(),
		)
	default:
		return errors.Newf(errors.ErrCodeInvalidEntity, "unsupported entity type %T", entity)
	}

	if err != nil {
		return errors.Wrapf(errors.ErrCodePrimaryStoreFailed, err, "failed to insert %s", entity.EntityType())
	}
	return nil
}

func (s *Store) insertOutbox(tx *sql.Tx, entity types.Entity, now time.Time) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidEntity, "failed to marshal entity payload", err)
	}

	for _, target := range s.targets {
		// One outbox row per (entity, target, write): each secondary
		// retries independently. The row id is unique per write so a
		// later update to the same entity enqueues again.
		_, err := tx.Exec(
			`INSERT INTO outbox (id, target, entity_type, entity_key, payload, attempts, next_attempt_at, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			newOutboxID(), target, string(entity.EntityType()), entity.Key(), string(payload), now, now,
		)
		if err != nil {
			return errors.Wrap(errors.ErrCodeOutboxFailed, "failed to enqueue outbox row", err)
		}
	}

	s.logger.Debug("entity recorded",
		zap.String("entity_type", string(entity.EntityType())),
		zap.String("entity_key", entity.Key()),
	)
	return nil
}
