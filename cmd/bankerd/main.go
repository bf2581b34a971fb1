package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ManuACDev/monopoly-wallet/config"
	"github.com/ManuACDev/monopoly-wallet/ports"
	"github.com/ManuACDev/monopoly-wallet/repository/badgerstore"
	"github.com/ManuACDev/monopoly-wallet/repository/postgres"
	"github.com/ManuACDev/monopoly-wallet/server"
	"github.com/ManuACDev/monopoly-wallet/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to the config file")
	flag.Parse()

	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var store ports.Store
	switch cfg.Store {
	case "postgres":
		store, err = postgres.New(cfg.PostgresDSN, logger.With("module", "postgres"))
	case "badger":
		store, err = badgerstore.Open(cfg.BadgerDir, logger.With("module", "badger"))
	}
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := service.NewRegistry(store, logger.With("module", "registry"))
	membership := service.NewMembership(store, logger.With("module", "membership"))
	ledger := service.NewLedger(store, logger.With("module", "ledger"))
	feed := service.NewFeed(store, logger.With("module", "feed"), nil)

	webServer := server.NewWebServer(cfg.ListenAddr, logger.With("module", "server"), registry, membership, ledger, feed)
	if err := webServer.Start(); err != nil {
		logger.Error("failed to start web server", "err", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(ctx); err != nil {
		logger.Error("web server shutdown error", "err", err)
	}
}
