// Package main runs the copy-trading engine: signal intake, entry
// monitoring, batch execution, housekeeping and the ops API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dex-copy-engine/internal/api"
	"dex-copy-engine/internal/chain"
	"dex-copy-engine/internal/config"
	"dex-copy-engine/internal/domain"
	"dex-copy-engine/internal/engine"
	"dex-copy-engine/internal/events"
	"dex-copy-engine/internal/execution"
	"dex-copy-engine/internal/housekeeping"
	"dex-copy-engine/internal/marketdata"
	"dex-copy-engine/internal/risk"
	"dex-copy-engine/internal/router"
	"dex-copy-engine/internal/scheduler"
	"dex-copy-engine/internal/storage"
	chstore "dex-copy-engine/internal/storage/clickhouse"
	"dex-copy-engine/internal/storage/memory"
	"dex-copy-engine/internal/storage/migrations"
	pgstore "dex-copy-engine/internal/storage/postgres"
)

const shutdownTimeout = 30 * time.Second

var _ execution.EventPublisher = (*events.Publisher)(nil)

type stores struct {
	signals    storage.SignalStore
	strategies storage.StrategyStore
	executions storage.ExecutionStore
	positions  storage.PositionStore
	batches    storage.BatchStore
	decisions  storage.DecisionLogStore
}

func main() {
	config.LoadDotEnv()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "YAML config file (defaults when empty)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (decision log)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	apiAddr := flag.String("api-addr", config.GetEnv("API_ADDR", ":8080"), "Ops API address")
	intakeInterval := flag.Duration("intake-interval", config.GetEnvDuration("INTAKE_INTERVAL", engine.DefaultPollInterval), "Signal intake poll interval")
	logLevel := flag.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "Log level")
	flag.Parse()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	log := logrus.WithField("component", "main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	if !*useMemory && *postgresDSN == "" {
		log.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStores, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		log.WithError(err).Fatal("create stores")
	}
	defer closeStores()

	if err := run(ctx, cfg, st, *apiAddr, *intakeInterval); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("engine stopped")
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, st *stores, apiAddr string, intakeInterval time.Duration) error {
	log := logrus.WithField("component", "main")

	readers, assets, err := chainReaders(cfg)
	if err != nil {
		return err
	}
	balances := chain.NewBalanceReader(assets)

	provider, err := marketdata.NewHTTPProvider(cfg.MarketData.BaseURL,
		marketdata.WithAPIKey(cfg.MarketData.APIKey),
		marketdata.WithRequestTimeout(cfg.MarketData.Timeout),
		marketdata.WithRateLimit(cfg.MarketData.RateLimit, int(cfg.MarketData.RateLimit)+1),
	)
	if err != nil {
		return fmt.Errorf("market data: %w", err)
	}
	cache := marketdata.NewPriceCache(cfg.MarketData.CacheTTL)

	var stream *marketdata.StreamClient
	if cfg.MarketData.StreamURL != "" {
		stream, err = marketdata.NewStreamClient(ctx, cfg.MarketData.StreamURL, cache, nil)
		if err != nil {
			log.WithError(err).Warn("price stream unavailable, polling only")
		} else {
			defer stream.Close()
		}
	}

	rt, err := router.New(cfg, readers, provider)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	gate, err := risk.New(risk.Options{
		Balances:   balances,
		Strategies: st.strategies,
		Executions: st.executions,
		Positions:  st.positions,
		Liquidity:  provider,
		Decisions:  st.decisions,
		Config:     cfg,
	})
	if err != nil {
		return fmt.Errorf("risk gate: %w", err)
	}

	signer, err := execution.NewHTTPSigner(cfg.Signer.URL, cfg.Signer.Token, cfg.Signer.Timeout)
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}

	var publisher execution.EventPublisher
	if cfg.Events.AMQPURL != "" {
		p, err := events.Dial(ctx, cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	pipeline, err := execution.New(execution.Options{
		Executions: st.executions,
		Positions:  st.positions,
		Signals:    st.signals,
		Batches:    st.batches,
		Strategies: st.strategies,
		Router:     rt,
		Signer:     signer,
		Risk:       gate,
		Liquidity:  provider,
		Config:     cfg,
		Decisions:  st.decisions,
		Events:     publisher,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	sched, err := scheduler.New(scheduler.Options{
		Signals:      st.signals,
		Feed:         marketdata.NewFallbackFeed(st.signals, cache, provider),
		OnTrigger:    engine.ExecuteOnTrigger(pipeline, nil),
		Decisions:    st.decisions,
		PollInterval: cfg.Scheduler.PollInterval,
		Deviation: scheduler.DeviationPolicy{
			Enabled: cfg.Safety.DeviationAbort,
			MaxPct:  cfg.Safety.DeviationAbortPct,
		},
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	var monitor engine.Monitor = sched
	if stream != nil {
		monitor = &streamingMonitor{Scheduler: sched, stream: stream}
	}
	intake, err := engine.New(engine.Options{
		Signals:      st.signals,
		Strategies:   st.strategies,
		Risk:         gate,
		Monitor:      monitor,
		PollInterval: intakeInterval,
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	hk, err := housekeeping.New(housekeeping.Options{
		Signals:    st.signals,
		Strategies: st.strategies,
		Monitors:   sched,
		Schedule:   cfg.Housekeeping.Schedule,
	})
	if err != nil {
		return err
	}

	ops, err := api.New(api.Options{
		Strategies: st.strategies,
		Monitors:   sched,
		Executions: st.executions,
		Decisions:  st.decisions,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.Run(gctx) })
	g.Go(func() error { return ops.Run(gctx, apiAddr) })
	g.Go(func() error {
		hk.Start()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := hk.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("housekeeping shutdown")
		}
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("scheduler shutdown")
		}
		return gctx.Err()
	})

	log.WithFields(logrus.Fields{
		"chains":   len(readers),
		"api_addr": apiAddr,
		"events":   publisher != nil,
		"stream":   stream != nil,
	}).Info("copy-trading engine started")
	return g.Wait()
}

// chainReaders builds one RPC client per configured chain plus the
// stablecoin set the balance reader sums over.
func chainReaders(cfg *config.Config) (map[string]chain.Reader, map[string]chain.Assets, error) {
	readers := make(map[string]chain.Reader, len(cfg.Chains))
	assets := make(map[string]chain.Assets, len(cfg.Chains))
	for name, cc := range cfg.Chains {
		if len(cc.RPCEndpoints) == 0 {
			logrus.WithField("chain", name).Warn("no rpc endpoints, chain disabled")
			continue
		}
		client, err := chain.NewHTTPClient(cc.RPCEndpoints, chain.WithHTTPClient(&http.Client{Timeout: cc.RPCTimeout}))
		if err != nil {
			return nil, nil, fmt.Errorf("chain %s: %w", name, err)
		}
		key := strings.ToLower(name)
		readers[key] = client

		stables := make([]common.Address, 0, len(cc.Stablecoins))
		for _, s := range cc.Stablecoins {
			stables = append(stables, common.HexToAddress(s.Address))
		}
		assets[key] = chain.Assets{Reader: client, Stables: stables}
	}
	if len(readers) == 0 {
		return nil, nil, errors.New("no chain has rpc endpoints configured")
	}
	return readers, assets, nil
}

// createStores opens Postgres (state) and ClickHouse (decision log), or
// in-memory stores when useMemory is set. Without a ClickHouse DSN the
// decision log stays in memory.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			signals:    memory.NewSignalStore(),
			strategies: memory.NewStrategyStore(),
			executions: memory.NewExecutionStore(),
			positions:  memory.NewPositionStore(),
			batches:    memory.NewBatchStore(),
			decisions:  memory.NewDecisionLogStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	logrus.WithField("applied", len(applied)).Info("postgres migrations done")

	st := &stores{
		signals:    pgstore.NewSignalStore(pool),
		strategies: pgstore.NewStrategyStore(pool),
		executions: pgstore.NewExecutionStore(pool),
		positions:  pgstore.NewPositionStore(pool),
		batches:    pgstore.NewBatchStore(pool),
		decisions:  memory.NewDecisionLogStore(),
	}
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		st.decisions = chstore.NewDecisionLogStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}
	return st, cleanup, nil
}

// streamingMonitor subscribes the price stream to a signal's token before
// its entry monitor starts.
type streamingMonitor struct {
	*scheduler.Scheduler
	stream *marketdata.StreamClient
}

func (m *streamingMonitor) StartMonitoring(ctx context.Context, sig *domain.Signal, accounts []domain.Allocation) error {
	if err := m.stream.Subscribe(sig.Chain, sig.Asset()); err != nil {
		logrus.WithError(err).WithField("signal_id", sig.ID).Warn("price stream subscribe failed")
	}
	return m.Scheduler.StartMonitoring(ctx, sig, accounts)
}
