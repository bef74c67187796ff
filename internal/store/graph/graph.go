// Package graph implements the relationship secondary store on a Bolt graph
// database (Memgraph or Neo4j). The ontology links instruments to their
// quotes, signals and trades, signals to the trades they triggered, trades
// to their outcomes, and everything to the regime it happened in.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/pkg/errors"
)

// Config holds the Bolt connection settings.
type Config struct {
	URI      string `yaml:"uri" default:"bolt://localhost:7687" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Store is the graph-backed secondary store.
type Store struct {
	driver neo4j.DriverWithContext
	logger *logger.Logger
}

// NewStore creates a graph store client.
func NewStore(config Config, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	driver, err := neo4j.NewDriverWithContext(config.URI, neo4j.BasicAuth(config.Username, config.Password, ""))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreInitFailed, "failed to create graph driver", err)
	}

	return &Store{driver: driver, logger: log}, nil
}

// Name implements syncer.SecondaryStore.
func (s *Store) Name() string {
	return "graph"
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "graph store unreachable", err)
	}
	return nil
}

// Apply implements syncer.SecondaryStore. All statements for one entry run
// in a single write transaction.
func (s *Store) Apply(ctx context.Context, entry store.OutboxEntry) error {
	statements, err := BuildStatements(entry)
	if err != nil {
		return err
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, statement := range statements {
			if _, err := tx.Run(ctx, statement.Cypher, statement.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeSecondaryStoreFailed, "failed to apply graph statements", err)
	}

	s.logger.Debug("graph entry applied",
		zap.String("entity_type", string(entry.EntityType)),
		zap.String("id", entry.SecondaryID()),
	)
	return nil
}

// TradeChainLink is one trade reached from a signal, with its outcome sum.
type TradeChainLink struct {
	TradeID string
	Status  string
	Outcome float64
}

// SignalChain follows signal -> TRIGGERED -> trade -> HAD_EVENT -> outcome
// and returns the trades a signal produced with their realized amounts.
func (s *Store) SignalChain(ctx context.Context, signalID string) ([]TradeChainLink, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (s:Signal {id: $signal_id})-[:TRIGGERED]->(t:Trade)
OPTIONAL MATCH (t)-[:HAD_EVENT]->(e:RiskEvent)
RETURN t.id AS trade_id, t.status AS status, COALESCE(SUM(e.amount), 0.0) AS outcome
ORDER BY trade_id`,
			map[string]any{"signal_id": "signal_" + signalID})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query signal chain", err)
	}

	var links []TradeChainLink
	for _, record := range records.([]*neo4j.Record) {
		tradeID, _, _ := neo4j.GetRecordValue[string](record, "trade_id")
		status, _, _ := neo4j.GetRecordValue[string](record, "status")
		outcome, _, _ := neo4j.GetRecordValue[float64](record, "outcome")
		links = append(links, TradeChainLink{TradeID: tradeID, Status: status, Outcome: outcome})
	}
	return links, nil
}

// RegimeStats aggregates trade outcomes per market regime.
type RegimeStats struct {
	Regime     string
	TradeCount int64
	TotalPnL   float64
}

// RegimePerformance returns realized performance grouped by the regime each
// trade was taken in.
func (s *Store) RegimePerformance(ctx context.Context) ([]RegimeStats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
MATCH (t:Trade)-[:IN_REGIME]->(r:Regime)
OPTIONAL MATCH (t)-[:HAD_EVENT]->(e:RiskEvent)
RETURN r.name AS regime, COUNT(DISTINCT t) AS trade_count, COALESCE(SUM(e.amount), 0.0) AS total_pnl
ORDER BY regime`, nil)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query regime performance", err)
	}

	var stats []RegimeStats
	for _, record := range records.([]*neo4j.Record) {
		regime, _, _ := neo4j.GetRecordValue[string](record, "regime")
		count, _, _ := neo4j.GetRecordValue[int64](record, "trade_count")
		pnl, _, _ := neo4j.GetRecordValue[float64](record, "total_pnl")
		stats = append(stats, RegimeStats{Regime: regime, TradeCount: count, TotalPnL: pnl})
	}
	return stats, nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
