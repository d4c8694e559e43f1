package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"moovemarket/config"
	"moovemarket/core/events"
	"moovemarket/core/state"
	"moovemarket/gateway"
	"moovemarket/metadata"
	"moovemarket/native/market"
	"moovemarket/observability/logging"
	"moovemarket/observability/metrics"
	"moovemarket/rpc"
	"moovemarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MOOVE_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	recorder := events.NewRecorder(256)
	engine := market.NewEngine()
	engine.SetState(state.NewMarketState(db))
	engine.SetEmitter(events.Multi(metrics.Emitter(), recorder))

	fetcher, err := metadata.NewClient(cfg.MetadataGateway)
	if err != nil {
		logger.Error("Failed to configure metadata gateway", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer := rpc.NewServer(engine)
	rpcServer.SetWithdrawCallback(metrics.Market().RecordWithdrawal)
	gatewayServer := gateway.NewServer(engine, fetcher, recorder, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
		errCh <- rpcServer.Start(cfg.RPCAddress)
	}()
	go func() {
		logger.Info("Starting gateway", slog.String("addr", cfg.GatewayAddress))
		errCh <- gatewayServer.Start(cfg.GatewayAddress)
	}()

	logger.Info("marketd started", slog.String("network", cfg.NetworkName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
