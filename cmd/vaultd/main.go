// Command vaultd is the protocol daemon: it loads configuration, restores
// persisted state, and serves the RPC surface while running the oracle
// refresh, pending-transfer drain, and liquidation sweep loops in the
// background — the boot sequence mirrors the teacher's cmd/p2pd/main.go
// (flag parse, logging setup, config load, storage open, component wiring,
// serve) narrowed to a single process with no gRPC or P2P layer of its own.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nhbvault/config"
	"nhbvault/events"
	"nhbvault/ledger"
	"nhbvault/numeric"
	"nhbvault/oracle"
	"nhbvault/observability/logging"
	"nhbvault/rpc"
	"nhbvault/storage"
	"nhbvault/vault"
)

func main() {
	configFile := flag.String("config", "./vaultd.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env, "")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.LogPath != "" {
		logger = logging.Setup("vaultd", env, cfg.LogPath)
	}

	store, err := storage.Open(cfg.StorageDriver, cfg.StorageDSN)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	state, log, persistedSeq, err := restoreOrInit(cfg, store)
	if err != nil {
		logger.Error("failed to restore state", slog.Any("error", err))
		os.Exit(1)
	}

	ctLedger := ledger.NewHTTPClient(cfg.CTLedgerAddress, cfg.CTLedgerFee)
	stLedger := ledger.NewHTTPClient(cfg.STLedgerAddress, cfg.STLedgerFee)
	rateFeed := oracle.NewHTTPClient(cfg.OracleAddress)

	engine := vault.NewEngine(state, ctLedger, stLedger, rateFeed, log, time.Now)

	jwtSecret, err := hex.DecodeString(cfg.JWTSecretHex)
	if err != nil {
		logger.Error("invalid JWT secret in config", slog.Any("error", err))
		os.Exit(1)
	}
	server, err := rpc.NewServer(engine, rpc.Config{
		JWTSecret:      jwtSecret,
		JWTIssuer:      cfg.JWTIssuer,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		logger.Error("failed to build RPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshotInterval, err := time.ParseDuration(cfg.SnapshotInterval)
	if err != nil || snapshotInterval <= 0 {
		snapshotInterval = 5 * time.Minute
	}

	runBackgroundLoops(ctx, engine, store, logger, snapshotInterval, persistedSeq)

	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info("metrics listening", slog.String("address", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddress, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("vaultd listening", slog.String("address", cfg.ListenAddress))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := persistSnapshot(engine, store); err != nil {
		logger.Error("failed to persist final snapshot", slog.Any("error", err))
	}
}

// restoreOrInit rebuilds the event log and state from storage, or returns a
// fresh genesis State when the store has never been written to. The
// returned sequence is the watermark flushEvents must resume from — every
// record at or above it is still only in the in-memory log.
func restoreOrInit(cfg *config.Config, store *storage.Store) (*vault.State, *events.Log, uint64, error) {
	records, err := store.Events(0, math.MaxInt32)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load events: %w", err)
	}
	log := events.LoadLog(records)
	persistedSeq := uint64(len(records))

	snap, ok, err := store.LoadSnapshot()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		state, err := vault.RestoreFromSnapshot(*snap, log)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("restore snapshot: %w", err)
		}
		return state, log, persistedSeq, nil
	}

	developerKey, err := cfg.DeveloperKey()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("resolve developer key: %w", err)
	}
	developer := developerKey.PubKey().Principal()
	borrowFee := numeric.RatioFromFloat(float64(cfg.BorrowFeeE8s) / 1e8)
	return vault.NewState(developer, borrowFee), log, persistedSeq, nil
}

// runBackgroundLoops starts the oracle-refresh, pending-transfer-drain,
// liquidation-sweep, event-flush, and periodic-snapshot tickers, each
// running until ctx is cancelled.
func runBackgroundLoops(ctx context.Context, engine *vault.Engine, store *storage.Store, logger *slog.Logger, snapshotInterval time.Duration, persistedSeq uint64) {
	go tickerLoop(ctx, 30*time.Second, func() {
		if err := engine.RefreshPrice(ctx); err != nil {
			logger.Warn("oracle refresh failed", slog.Any("error", err))
		}
	})
	go tickerLoop(ctx, 15*time.Second, func() {
		engine.DrainPendingTransfers(ctx)
	})
	go tickerLoop(ctx, 10*time.Second, func() {
		engine.RunLiquidations()
	})
	watermark := persistedSeq
	go tickerLoop(ctx, 2*time.Second, func() {
		if err := flushEvents(engine, store, &watermark); err != nil {
			logger.Error("event flush failed", slog.Any("error", err))
		}
	})
	go tickerLoop(ctx, snapshotInterval, func() {
		if err := persistSnapshot(engine, store); err != nil {
			logger.Error("periodic snapshot failed", slog.Any("error", err))
		}
	})
}

// flushEvents persists every record the in-memory log holds at or beyond
// *watermark, advancing it past what was written.
func flushEvents(engine *vault.Engine, store *storage.Store, watermark *uint64) error {
	const batchSize = 500
	for {
		batch := engine.Events(*watermark, batchSize)
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if err := store.AppendEvent(rec); err != nil {
				return fmt.Errorf("append event %d: %w", rec.Sequence, err)
			}
			*watermark = rec.Sequence + 1
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func tickerLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func persistSnapshot(engine *vault.Engine, store *storage.Store) error {
	snap := engine.Snapshot()
	return store.SaveSnapshot(&snap)
}
