package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/flashsettle/internal/api"
	"github.com/punchamoorthee/flashsettle/internal/clock"
	"github.com/punchamoorthee/flashsettle/internal/config"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/events"
	"github.com/punchamoorthee/flashsettle/internal/ledger"
	"github.com/punchamoorthee/flashsettle/internal/logging"
	"github.com/punchamoorthee/flashsettle/internal/service"
	"github.com/punchamoorthee/flashsettle/internal/store"
	"github.com/punchamoorthee/flashsettle/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Setup("flashsettle-api", cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pg *store.Postgres
	if cfg.StoreBackend == config.BackendPostgres || cfg.TransferBackend == config.BackendPostgres {
		pg, err = store.NewPostgres(ctx, cfg.DBSource)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer pg.Close()
	}

	kv, err := openStore(ctx, cfg, pg)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer kv.Close()

	transfers, err := openTransfers(ctx, cfg, pg)
	if err != nil {
		log.Fatalf("Unable to set up transfers: %v", err)
	}

	sink := events.Fanout{events.LogSink{Logger: logger}}
	if cfg.NATSURL != "" {
		natsSink, conn, err := events.ConnectNATS(cfg.NATSURL, "flashsettle-api", cfg.NATSPrefix, logger)
		if err != nil {
			log.Fatalf("Unable to connect to NATS: %v", err)
		}
		defer conn.Close()
		sink = append(sink, natsSink)
	}

	// Initialize Layers
	engine, err := service.NewEngine(service.Options{
		Ledger:   ledger.New(kv, store.DefaultLifetime, logger),
		Transfer: transfers,
		Clock:    clock.NewSystem(),
		Events:   sink,
		Contract: domain.Address(cfg.ContractAddress),
		Logger:   logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)
	if err := limiter.TrustProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}
	routerCfg := api.RouterConfig{RateLimiter: limiter}
	if cfg.JWTSecret != "" {
		routerCfg.Authenticator = api.NewAuthenticator(cfg.JWTSecret, logger)
	} else {
		logger.Warn("JWT_SECRET not set, every request is anonymous")
	}
	router := api.NewRouter(api.NewHandler(engine, cfg.Network, logger), routerCfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting",
		"port", cfg.Port,
		"store", cfg.StoreBackend,
		"transfers", cfg.TransferBackend,
		"contract", cfg.ContractAddress,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, pg *store.Postgres) (store.KV, error) {
	switch cfg.StoreBackend {
	case config.BackendLevelDB:
		return store.OpenLevelDB(cfg.LevelDBPath)
	case config.BackendPostgres:
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		// The pool is closed by main; the KV shares it.
		return nopClose{store.NewPostgresFromPool(pg.Db)}, nil
	case config.BackendRedis:
		return store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	default:
		slog.Warn("in-memory store selected, state is lost on restart")
		return store.NewMemory(), nil
	}
}

func openTransfers(ctx context.Context, cfg *config.Config, pg *store.Postgres) (transfer.Transferer, error) {
	if cfg.TransferBackend != config.BackendPostgres {
		slog.Warn("in-memory token balances selected")
		return transfer.NewBank(), nil
	}
	tokens := transfer.NewPostgres(pg.Db)
	if err := tokens.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return tokens, nil
}

type nopClose struct{ store.KV }

func (nopClose) Close() error { return nil }
