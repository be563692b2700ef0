package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakingLedger/internal/asset"
	"stakingLedger/internal/chain"
	"stakingLedger/internal/clock"
	"stakingLedger/internal/config"
	"stakingLedger/internal/custody"
	"stakingLedger/internal/ledger"
	"stakingLedger/internal/metrics"
	"stakingLedger/internal/model"
	"stakingLedger/internal/storage"
	"stakingLedger/internal/storage/leveldb"
	"stakingLedger/internal/storage/postgres"
)

// runtime holds everything one command needs. close releases it in reverse
// order of acquisition.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	store    storage.Store
	pg       *postgres.Store
	bank     *custody.Bank
	engine   *ledger.Engine
	chain    *chain.Client
	assets   *asset.MetaCache
	registry *prometheus.Registry
	closers  []func()
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	rt.closers = append(rt.closers, func() { _ = logger.Sync() })

	if err := metrics.Register(rt.registry); err != nil {
		rt.close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if err := rt.openStore(ctx); err != nil {
		rt.close()
		return nil, err
	}

	if cfg.RPCURL != "" {
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect rpc: %w", err)
		}
		rt.chain = client
		rt.closers = append(rt.closers, client.Close)
	}

	var caller asset.Caller
	if rt.chain != nil {
		caller = rt.chain
	}
	rt.assets, err = asset.NewMetaCache(asset.DefaultCacheSize, caller, logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	clk, err := rt.newClock()
	if err != nil {
		rt.close()
		return nil, err
	}

	var journal storage.EventSink
	if cfg.Journal != "" {
		if err := rt.checkJournal(ctx); err != nil {
			rt.close()
			return nil, err
		}
		journal = storage.NewJsonlJournal(cfg.Journal)
	}

	policy := ledger.SettleOnStake
	if cfg.ForfeitOnStake {
		policy = ledger.ForfeitOnStake
	}

	rt.bank = custody.NewBank(logger.Named("custody"))
	rt.engine = ledger.NewEngine(ledger.Config{
		AllowClose:  cfg.AllowClose,
		StakePolicy: policy,
	}, rt.store, rt.bank, clk, journal, logger.Named("ledger"))

	logger.Debug("runtime ready",
		zap.String("backend", cfg.Backend),
		zap.String("data_dir", cfg.DataDir),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("clock", cfg.Clock),
		zap.String("journal", cfg.Journal),
	)
	return rt, nil
}

// checkJournal warns when the journal holds sequence numbers the store has
// not allocated yet, which happens when a journal is reused with a fresh
// store. New events would repeat those numbers.
func (rt *runtime) checkJournal(ctx context.Context) error {
	journalSeq, err := storage.LastSeq(rt.cfg.Journal)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	var storeSeq uint64
	if err := rt.store.View(ctx, func(tx storage.Tx) error {
		var err error
		storeSeq, err = tx.JournalSeq(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("read journal seq: %w", err)
	}
	if journalSeq > storeSeq {
		rt.logger.Warn("journal is ahead of the store",
			zap.String("journal", rt.cfg.Journal),
			zap.Uint64("journal_seq", journalSeq),
			zap.Uint64("store_seq", storeSeq),
		)
	}
	return nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Backend {
	case config.BackendMemory:
		rt.logger.Warn("memory backend keeps state only for this process")
		rt.store = storage.NewMemoryStore()
	case config.BackendLevelDB:
		store, err := leveldb.Open(rt.cfg.DataDir)
		if err != nil {
			return err
		}
		rt.store = store
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, rt.cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return err
		}
		rt.store = store
		rt.pg = store
	default:
		return fmt.Errorf("unknown backend %q", rt.cfg.Backend)
	}
	store := rt.store
	rt.closers = append(rt.closers, func() {
		if err := store.Close(); err != nil {
			rt.logger.Warn("close store", zap.Error(err))
		}
	})
	return nil
}

func (rt *runtime) newClock() (ledger.Clock, error) {
	if rt.cfg.At != "" {
		at, err := config.ParseTimestamp(rt.cfg.At)
		if err != nil {
			return nil, fmt.Errorf("parse at: %w", err)
		}
		return clock.Fixed(at), nil
	}
	switch rt.cfg.Clock {
	case config.ClockChain:
		if rt.chain == nil {
			return nil, fmt.Errorf("rpc url is required for the chain clock")
		}
		return clock.NewChain(rt.chain, rt.cfg.MaxRetries, rt.cfg.RetryBackoff, rt.logger.Named("clock")), nil
	case config.ClockNTP:
		return clock.NewNTPChecked(clock.System{}, rt.cfg.NTPServer, rt.logger.Named("clock")), nil
	default:
		return clock.System{}, nil
	}
}

// decimals resolves how many decimals amounts of token carry.
func (rt *runtime) decimals(ctx context.Context, token common.Address) uint8 {
	if rt.cfg.Decimals >= 0 {
		return uint8(rt.cfg.Decimals)
	}
	if rt.chain == nil {
		return 0
	}
	meta, err := rt.assets.Get(ctx, token)
	if err != nil {
		rt.logger.Warn("token metadata unavailable, using base units", zap.String("token", token.Hex()), zap.Error(err))
		rt.assets.Set(token, model.AssetMeta{Address: token.Hex()})
		return 0
	}
	return meta.Decimals
}

func (rt *runtime) symbol(ctx context.Context, token common.Address) string {
	if rt.chain == nil {
		return ""
	}
	meta, err := rt.assets.Get(ctx, token)
	if err != nil {
		return ""
	}
	return meta.Symbol
}

func (rt *runtime) close() {
	if rt.cfg.MetricsFile != "" && rt.registry != nil {
		if err := prometheus.WriteToTextfile(rt.cfg.MetricsFile, rt.registry); err != nil {
			rt.logger.Warn("write metrics", zap.String("path", rt.cfg.MetricsFile), zap.Error(err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return openRuntime(cmd.Context(), cfg)
}
