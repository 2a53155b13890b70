package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"eurstable/config"
	"eurstable/crypto"
	nativecommon "eurstable/native/common"
	"eurstable/native/oracle"
	"eurstable/native/pool"
	"eurstable/native/token"
	"eurstable/observability"
	"eurstable/observability/logging"
	"eurstable/rpc"
	"eurstable/storage"
)

const (
	serviceName      = "eurstabled"
	envVar           = "EURSTABLE_ENV"
	snapshotInterval = time.Minute
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup(serviceName, env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	authority, err := resolveAuthority(cfg.AuthorityAddress)
	if err != nil {
		logger.Error("Failed to resolve authority address", slog.Any("error", err))
		os.Exit(1)
	}

	maxQuoteAge := time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second
	prices := oracle.NewStaticFeed()
	feeds := oracle.NewAggregator(nil, maxQuoteAge)
	feeds.Register("feed/eur", prices)

	module := poolModuleAddress()
	stable := token.New(module)

	rate, err := cfg.InterestRate()
	if err != nil {
		logger.Error("Invalid interest rate", slog.Any("error", err))
		os.Exit(1)
	}
	engine := pool.NewEngine(authority, module, stable, feeds, pool.RiskParameters{
		LiquidationThreshold: cfg.Risk.LiquidationThreshold,
		LiquidationBonus:     cfg.Risk.LiquidationBonusBPS,
		DebtRatePerSecond:    rate,
		MaxQuoteAge:          maxQuoteAge,
	})
	engine.SetPauses(configPauses{pauses: cfg.Pauses})
	observability.Pool().SetPause(cfg.Pauses.Pool)

	mintCap, err := cfg.MintCap()
	if err != nil {
		logger.Error("Invalid mint cap", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetMintQuota(nativecommon.Quota{
		MaxRequestsPerMin:  cfg.Quota.MaxRequestsPerMin,
		MaxMintWeiPerEpoch: mintCap,
		EpochSeconds:       cfg.Quota.EpochSeconds,
	})

	backends := newMemoryBackends(prices)
	if err := engine.LoadSnapshot(db, backends); err != nil {
		logger.Error("Failed to restore state snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	if assets := engine.Assets(); len(assets) > 0 {
		logger.Info("restored vaults from snapshot", slog.Int("vaults", len(assets)))
	}

	authToken := strings.TrimSpace(os.Getenv(cfg.RPCAuthTokenEnv))
	if authToken == "" {
		logger.Warn("RPC auth token not set; state-changing methods will be rejected",
			slog.String("env", cfg.RPCAuthTokenEnv))
	}

	server := rpc.NewServer(engine, stable, backends, prices, rpc.ServerConfig{
		AuthToken:       authToken,
		RateLimitPerMin: float64(cfg.RPCRateLimitPerMin),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opsSrv := &http.Server{
		Addr:              cfg.OpsAddress,
		Handler:           rpc.NewOpsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddress))
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", slog.Any("error", err))
		}
	}()

	go snapshotLoop(ctx, logger, engine, stable, db)

	if err := server.Serve(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = opsSrv.Shutdown(shutdownCtx)

	if err := engine.SaveSnapshot(db); err != nil {
		logger.Error("Failed to save final snapshot", slog.Any("error", err))
		return
	}
	logger.Info("state snapshot saved")
}

// resolveAuthority decodes the configured authority address, deriving a
// deterministic placeholder when none is configured so local runs work out of
// the box.
func resolveAuthority(configured string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(configured)
	if trimmed == "" {
		sum := sha256.Sum256([]byte("eurstable/authority"))
		return crypto.NewAddress(crypto.AccountPrefix, sum[:20]), nil
	}
	return crypto.DecodeAddress(trimmed)
}

// poolModuleAddress derives the module address holding pool funds. It doubles
// as the stable token's mint authority, so it must stay stable across
// restarts.
func poolModuleAddress() crypto.Address {
	sum := sha256.Sum256([]byte("eurstable/pool/module"))
	return crypto.NewAddress(crypto.ModulePrefix, sum[:20])
}

type configPauses struct {
	pauses config.Pauses
}

func (p configPauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "pool":
		return p.pauses.Pool
	case "token":
		return p.pauses.Token
	default:
		return false
	}
}

func snapshotLoop(ctx context.Context, logger *slog.Logger, engine *pool.Engine, stable *token.Token, db storage.Database) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := engine.SaveSnapshot(db); err != nil {
				logger.Error("periodic snapshot failed", slog.Any("error", err))
				continue
			}
			publishGauges(engine, stable)
		}
	}
}

func publishGauges(engine *pool.Engine, stable *token.Token) {
	metrics := observability.Pool()
	metrics.RecordSupply(stable.TotalSupply())
	for _, asset := range engine.Assets() {
		vaultState, err := engine.Vault(asset)
		if err != nil {
			continue
		}
		metrics.RecordCollateral(asset, vaultState.TotalCollateral())
	}
}
