package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tribunal/ledger"
	"tribunal/native/dispute"
	"tribunal/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfig(os.Getenv("DISPUTE_GATEWAY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("dispute-gateway", cfg.Environment, logging.Options{FilePath: cfg.LogFilePath})

	secret := os.Getenv(cfg.JWTSecretEnv)
	auth, err := NewAuthenticator([]byte(secret), cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Fatalf("configure auth: %v", err)
	}

	bond, ok := new(big.Int).SetString(cfg.AppealBondWei, 10)
	if !ok {
		log.Fatalf("appeal bond %q is not a decimal", cfg.AppealBondWei)
	}

	store, err := NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	client := ledger.NewRPCClient(cfg.NodeURL, cfg.NodeAuthToken)

	snapshots := dispute.NewMemoryStore()
	engine := dispute.NewEngine()
	engine.SetState(snapshots)

	coordinator := dispute.NewAppealCoordinator(engine, client, bond)

	watcher := NewEventWatcher(client, engine, snapshots, store, logger)
	watcher.pollInterval = cfg.PollInterval.Duration
	watcher.batchSize = cfg.BatchSize

	server := NewServer(auth, engine, coordinator, client, watcher, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		logger.Info("dispute gateway listening", "addr", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down dispute gateway")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
