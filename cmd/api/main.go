package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/textwallet/internal/chain"
	"github.com/congo-pay/textwallet/internal/config"
	"github.com/congo-pay/textwallet/internal/infra"
	"github.com/congo-pay/textwallet/internal/ledger"
	"github.com/congo-pay/textwallet/internal/logging"
	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
	"github.com/congo-pay/textwallet/internal/notification"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/poller"
	"github.com/congo-pay/textwallet/internal/routes"
	"github.com/congo-pay/textwallet/internal/server"
	"github.com/congo-pay/textwallet/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	gateway, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.BundlerURL, cfg.Chain.PaymasterURL, chain.Config{
		ChainID:           big.NewInt(cfg.Chain.ID),
		EntryPoint:        common.HexToAddress(cfg.Chain.EntryPoint),
		AccountFactory:    common.HexToAddress(cfg.Chain.AccountFactory),
		PaymasterKey:      cfg.Chain.PaymasterKey,
		CallTimeout:       cfg.GatewayTimeout,
		ReceiptTimeout:    cfg.GatewayTimeout,
		RequestsPerSecond: cfg.GatewayRPS,
	}, logger)
	if err != nil {
		logger.Error("dial chain", "error", err)
		os.Exit(1)
	}
	defer gateway.Close()

	repo, err := buildRepository(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build wallet repository", "error", err)
		os.Exit(1)
	}
	sealer, err := buildSealer(cfg, logger)
	if err != nil {
		logger.Error("build secret sealer", "error", err)
		os.Exit(1)
	}
	var journal ledger.Ledger = ledger.NewInMemory()
	if db != nil {
		journal = ledger.NewPostgresLedger(db)
	}

	token := common.HexToAddress(cfg.Chain.USDCAddress)
	wallets := wallet.NewService(repo, gateway, sealer, wallet.Network{
		Name:    cfg.Chain.Name,
		ChainID: cfg.Chain.ID,
		Token:   token,
	}, logger)
	pay := payments.NewService(wallets, gateway, journal, payments.Config{
		Token:       token,
		ExplorerURL: cfg.Chain.ExplorerURL,
	}, logger)

	m := metrics.New()
	store := messages.NewSQLiteStore(cfg.MessageDBPath, cfg.MessageDBWritable)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close message store", "error", err)
		}
	}()

	dispatcher := poller.NewDispatcher(wallets, pay, buildNotifier(cfg, logger), poller.Network{
		Name:        cfg.Chain.Name,
		ChainID:     cfg.Chain.ID,
		Currency:    cfg.Chain.Currency,
		ExplorerURL: cfg.Chain.ExplorerURL,
	}, m, logger)
	opts := poller.Options{BatchSize: cfg.PollBatchSize, Metrics: m, Logger: logger}
	if cache != nil {
		opts.Deduper = poller.NewRedisDeduper(cache, cfg.DedupTTL)
	}
	loop := poller.New(store, dispatcher, opts)

	srv, err := server.New(routes.Deps{
		Cfg:      cfg,
		DB:       db,
		Cache:    cache,
		Logger:   logger,
		Metrics:  m,
		Wallets:  wallets,
		Payments: pay,
		Messages: store,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	pollCtx, stopPolling := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if err := loop.Start(pollCtx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "error", err)
		}
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()
	logger.Info("service started",
		slog.String("app", cfg.AppName),
		slog.String("env", cfg.AppEnv),
		slog.String("addr", cfg.Address()),
		slog.String("network", cfg.Chain.Name),
		slog.String("message_db", cfg.MessageDBPath),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	stopPolling()
	<-pollDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("service exited cleanly", "watermark", loop.Watermark())
}

func buildRepository(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (wallet.Repository, error) {
	var repo wallet.Repository
	switch {
	case db != nil:
		repo = wallet.NewPostgresRepository(db)
	case cfg.WalletFile != "":
		fileRepo, err := wallet.NewFileRepository(cfg.WalletFile)
		if err != nil {
			return nil, err
		}
		repo = fileRepo
	default:
		logger.Warn("no DATABASE_URL or WALLET_FILE; wallet records are kept in memory only")
		repo = wallet.NewMemoryRepository()
	}
	if cache != nil {
		repo = wallet.NewCachedRepository(repo, cache, cfg.WalletCacheTTL, logger)
	}
	return repo, nil
}

func buildSealer(cfg config.Config, logger *slog.Logger) (wallet.Sealer, error) {
	if cfg.SecretPassphrase == "" {
		logger.Warn("SECRET_PASSPHRASE not set; signer secrets are stored unsealed")
		return wallet.PlainSealer{}, nil
	}
	sealer, err := wallet.NewScryptSealer(cfg.SecretPassphrase, cfg.SecretSalt)
	if err != nil {
		return nil, err
	}
	return sealer, nil
}

func buildNotifier(cfg config.Config, logger *slog.Logger) notification.Notifier {
	switch cfg.Notifier {
	case "webhook":
		return notification.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.GatewayTimeout)
	case "applescript":
		return notification.NewAppleScriptNotifier(cfg.GatewayTimeout)
	default:
		return notification.NewLoggerNotifier(logger)
	}
}
