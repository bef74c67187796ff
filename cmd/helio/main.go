// Command helio runs the trading engine: it streams bars into per-pair
// decision pipelines, persists every entity through the primary store and
// drains the outbox into the semantic and graph stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/helio-lab/helio-trading/internal/config"
	"github.com/helio-lab/helio-trading/internal/feature"
	"github.com/helio-lab/helio-trading/internal/gateway"
	"github.com/helio-lab/helio-trading/internal/logger"
	"github.com/helio-lab/helio-trading/internal/marketdata"
	"github.com/helio-lab/helio-trading/internal/oracle"
	"github.com/helio-lab/helio-trading/internal/pipeline"
	"github.com/helio-lab/helio-trading/internal/risk"
	"github.com/helio-lab/helio-trading/internal/store"
	"github.com/helio-lab/helio-trading/internal/store/graph"
	"github.com/helio-lab/helio-trading/internal/store/semantic"
	"github.com/helio-lab/helio-trading/internal/syncer"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the YAML configuration file",
	Value:   "helio.yaml",
}

func main() {
	cmd := &cli.Command{
		Name:  "helio",
		Usage: "Automated trading decision and execution engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the engine against the configured market data source",
				Flags:  []cli.Flag{configFlag},
				Action: runAction,
			},
			{
				Name:  "sync",
				Usage: "Inspect and repair secondary store propagation",
				Commands: []*cli.Command{
					{
						Name:   "status",
						Usage:  "Print outbox and dead-letter counts as JSON",
						Flags:  []cli.Flag{configFlag},
						Action: syncStatusAction,
					},
					{
						Name:   "requeue",
						Usage:  "Move dead letters back onto the outbox for redelivery",
						Flags:  []cli.Flag{configFlag},
						Action: syncRequeueAction,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openPrimary loads the configuration and opens the initialized primary
// store, shared by every subcommand.
func openPrimary(path string, log *logger.Logger) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	primary, err := store.NewStore(cfg.Stores.PrimaryPath, []string{"semantic", "graph"}, log)
	if err != nil {
		return nil, nil, err
	}
	if err := primary.Initialize(); err != nil {
		primary.Close()
		return nil, nil, err
	}
	return cfg, primary, nil
}

// buildSecondaries creates the semantic and graph store clients. The caller
// owns closing them.
func buildSecondaries(cfg *config.Config, log *logger.Logger) (*semantic.Store, *graph.Store, error) {
	semanticStore := semantic.NewStore(cfg.Stores.Semantic, log)
	graphStore, err := graph.NewStore(cfg.Stores.Graph, log)
	if err != nil {
		semanticStore.Close()
		return nil, nil, err
	}
	return semanticStore, graphStore, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, primary, err := openPrimary(cmd.String("config"), log)
	if err != nil {
		return err
	}
	defer primary.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	semanticStore, graphStore, err := buildSecondaries(cfg, log)
	if err != nil {
		return err
	}
	defer semanticStore.Close()
	defer graphStore.Close(context.Background())

	if err := semanticStore.Ping(ctx); err != nil {
		log.Warn("semantic store unreachable at startup, outbox will retry", zap.Error(err))
	}
	if err := graphStore.Ping(ctx); err != nil {
		log.Warn("graph store unreachable at startup, outbox will retry", zap.Error(err))
	}

	propagator, err := syncer.NewSyncer(cfg.Sync.Syncer(), primary,
		[]syncer.SecondaryStore{semanticStore, graphStore}, log)
	if err != nil {
		return err
	}
	propagator.Start(ctx)
	defer propagator.Stop()

	riskController, err := risk.NewController(cfg.Risk, cfg.InstrumentSpecs(), cfg.Account.StartingBalance, log)
	if err != nil {
		return err
	}
	featureEngine, err := feature.NewEngine(cfg.Features)
	if err != nil {
		return err
	}
	ruleOracle, err := oracle.NewRuleOracle(cfg.Oracle.Rule)
	if err != nil {
		return err
	}
	guard, err := oracle.NewGuard(ruleOracle, cfg.Oracle.Timeout.Std(), log)
	if err != nil {
		return err
	}
	gw := gateway.NewPaperGateway(log)

	manager, err := pipeline.NewManager(primary, gw, log)
	if err != nil {
		return err
	}
	for _, pair := range cfg.Pairs {
		p, err := pipeline.New(pipeline.Options{
			Pair:       pipeline.Pair{Symbol: pair.Symbol, Scenario: pair.Scenario},
			Timeframe:  pair.Timeframe,
			Spec:       pair.Instrument,
			Engine:     featureEngine,
			Thresholds: cfg.Regime,
			Risk:       riskController,
			Oracle:     guard,
			Gateway:    gw,
			Store:      primary,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		if err := manager.Register(p); err != nil {
			return err
		}
	}

	// Settle trades left pending or open by a previous run before any new
	// bar is processed.
	if err := manager.Reconcile(ctx); err != nil {
		return err
	}

	manager.Start(ctx)
	defer manager.Stop()

	provider, err := marketdata.NewProvider(cfg.MarketData.Provider, cfg.MarketData.Source)
	if err != nil {
		return err
	}

	log.Info("engine started",
		zap.String("provider", provider.Name()),
		zap.Strings("symbols", cfg.Symbols()),
		zap.Int("pairs", len(cfg.Pairs)),
	)

	for bar, err := range provider.Stream(ctx, cfg.Symbols()) {
		if err != nil {
			log.Warn("dropping unusable bar", zap.Error(err))
			continue
		}
		if err := manager.Dispatch(ctx, bar); err != nil {
			log.Error("failed to dispatch bar",
				zap.String("symbol", bar.Symbol),
				zap.Error(err),
			)
		}
	}

	log.Info("bar stream ended, shutting down")
	return nil
}

func syncStatusAction(ctx context.Context, cmd *cli.Command) error {
	log := logger.NewNopLogger()
	cfg, primary, err := openPrimary(cmd.String("config"), log)
	if err != nil {
		return err
	}
	defer primary.Close()

	semanticStore, graphStore, err := buildSecondaries(cfg, log)
	if err != nil {
		return err
	}
	defer semanticStore.Close()
	defer graphStore.Close(context.Background())

	propagator, err := syncer.NewSyncer(cfg.Sync.Syncer(), primary,
		[]syncer.SecondaryStore{semanticStore, graphStore}, log)
	if err != nil {
		return err
	}
	status, err := propagator.Health(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func syncRequeueAction(ctx context.Context, cmd *cli.Command) error {
	log := logger.NewNopLogger()
	cfg, primary, err := openPrimary(cmd.String("config"), log)
	if err != nil {
		return err
	}
	defer primary.Close()

	propagator, err := syncer.NewSyncer(cfg.Sync.Syncer(), primary, nil, log)
	if err != nil {
		return err
	}
	requeued, err := propagator.RequeueDeadLetters(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d dead letters\n", requeued)
	return nil
}
