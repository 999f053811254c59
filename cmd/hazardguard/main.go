package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hazardguard/internal/alerts"
	"hazardguard/internal/api"
	"hazardguard/internal/config"
	"hazardguard/internal/dispatch"
	"hazardguard/internal/engine"
	"hazardguard/internal/ingest"
	"hazardguard/internal/logging"
	"hazardguard/internal/metrics"
	"hazardguard/internal/model"
	"hazardguard/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	path := config.ResolvePath(*configPath)
	mgr, err := config.NewManager(path)
	if err != nil {
		slog.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger, level := logging.New(os.Stdout, cfg.LogLevel)
	logger.Info("hazardguard starting", "version", version, "config", path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	connections := metrics.NewStore(m)
	history := alerts.NewStore(cfg.Alerts.StoreLimit)

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("storage schema init failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	sinks := dispatch.BuildSinks(cfg.Dispatch, store, logger)
	defer dispatch.Close(sinks)
	dispatcher := dispatch.New(cfg.Dispatch, sinks, m, logger)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatcher.Start(dispatchCtx)

	eng := engine.NewEngine(cfg, logger, m, history, store, dispatcher)
	if _, err := eng.Restore(ctx); err != nil {
		logger.Error("lineage restore failed", "error", err)
	}

	raw := make(chan model.RawMessage, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, raw)
	maintenance, err := eng.StartMaintenance(ctx)
	if err != nil {
		logger.Error("maintenance schedule invalid", "error", err)
		os.Exit(1)
	}

	supervisors, err := ingest.StartSupervisors(ctx, cfg, raw, connections, m, logger)
	if err != nil {
		logger.Error("ingest setup failed", "error", err)
		os.Exit(1)
	}
	ingest.StartREST(ctx, mgr, raw, logger)
	api.Start(ctx, api.NewServer(mgr, connections, m, history, eng, dispatcher, logger, version))

	go mgr.Watch(3*time.Second, func(next *config.Config) {
		level.Set(logging.ParseLevel(next.LogLevel))
		eng.UpdateConfig(next)
		logger.Info("config reloaded; connection, storage and dispatch changes apply on restart")
	}, func(err error) {
		logger.Warn("config reload failed", "error", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("shutting down")

	supervisors.Wait()
	eng.Wait()
	<-maintenance
	stopDispatch()
	dispatcher.Wait()

	logger.Info("shutdown complete")
}
