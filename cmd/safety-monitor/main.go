package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yegors/co-atc-safety/internal/api"
	"github.com/yegors/co-atc-safety/internal/config"
	"github.com/yegors/co-atc-safety/internal/monitor"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/internal/storage/sqlite"
	"github.com/yegors/co-atc-safety/internal/websocket"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Safety monitor stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("Starting safety monitor",
		logger.String("version", version),
		logger.Int("sources", len(cfg.Feed.Sources)),
		logger.Bool("detection_enabled", cfg.Detection.Enabled))

	var sinks []safety.Sink

	var events *sqlite.EventStorage
	if cfg.Storage.Enabled {
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err = sqlite.NewEventStorage(db, log)
		if err != nil {
			return err
		}
		sinks = append(sinks, events.Sink())
	}

	var wsServer *websocket.Server
	if cfg.Broadcast.WebSocketEnabled {
		wsServer = websocket.NewServer(log)
		defer wsServer.Close()
		sinks = append(sinks, websocket.NewEventSink(wsServer))
	}

	var builders []sinkBuilder
	if cfg.Broadcast.NATSURL != "" {
		builders = append(builders, func() (safety.Sink, error) {
			publisher, err := connectNATS(cfg, log)
			if err != nil {
				return nil, err
			}
			return publisher, nil
		})
	}
	if cfg.Notifications.Enabled {
		builders = append(builders, func() (safety.Sink, error) {
			notifier, err := buildNotifier(ctx, cfg, log)
			if err != nil {
				return nil, err
			}
			return notifier, nil
		})
	}
	opened, err := openSinks(log, builders...)
	if err != nil {
		return err
	}
	sinks = append(sinks, opened...)

	dispatcher := safety.NewDispatcher(safety.DispatcherOptions{
		QueueSize:   cfg.Dispatch.QueueSize,
		SinkTimeout: time.Duration(cfg.Dispatch.SinkTimeoutSeconds) * time.Second,
	}, log, sinks...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("Dispatcher closed with errors", logger.Error(err))
		}
	}()

	engineCfg := cfg.EngineConfig()
	engine, err := safety.NewEngine(engineCfg, dispatcher, log)
	if err != nil {
		return err
	}

	sources, closeSources, err := buildSources(cfg, log)
	if err != nil {
		return err
	}
	defer closeSources()

	svc := monitor.NewService(sources, engine, monitor.Options{
		Interval:     cfg.PollingInterval(),
		FetchTimeout: cfg.RequestTimeout(),
		Enabled:      cfg.Detection.Enabled,
	}, log)

	deps := api.Dependencies{
		Monitor:    svc,
		Sinks:      dispatcher,
		Thresholds: engineCfg.Thresholds,
		Version:    version,
	}
	if events != nil {
		deps.Events = events
	}
	if wsServer != nil {
		deps.WebSocket = wsServer
	}

	router := api.NewRouter(deps, &cfg.Server, log)
	server := api.NewServer(cfg.Server.ListenAddress, cfg.Server.MaxConnections, router.Routes(), log)
	if err := server.Start(); err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down safety monitor")

	svc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", logger.Error(err))
	}

	return nil
}
