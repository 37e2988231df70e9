package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/co-atc-safety/internal/adsb"
	"github.com/yegors/co-atc-safety/internal/config"
	"github.com/yegors/co-atc-safety/internal/notify"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/internal/storage/sqlite"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

func main() {
	file := flag.String("file", "", "recording with one aircraft.json document per line")
	configPath := flag.String("config", "", "optional TOML configuration for thresholds and cooldowns")
	store := flag.Bool("store", false, "persist admitted events to the configured sqlite database")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		flag.Usage()
		os.Exit(2)
	}

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := replay(ctx, cfg, *file, *store, log); err != nil {
		log.Error("Replay failed", logger.Error(err))
		os.Exit(1)
	}
}

// replay feeds every recorded snapshot through the engine using the recorded clock
func replay(ctx context.Context, cfg *config.Config, path string, store bool, log *logger.Logger) error {
	src, err := adsb.NewFileSource("replay", path)
	if err != nil {
		return err
	}
	defer src.Close()

	notifier := notify.NewNotifier(notify.TemplateNarrator{}, notify.NewMemoryLimiter(), notify.Options{
		MinSeverity: safety.SeverityInfo,
	}, log)
	logChannel := notify.NewLogChannel(log)
	for _, sev := range []safety.Severity{safety.SeverityInfo, safety.SeverityWarning, safety.SeverityCritical} {
		notifier.Route(sev, logChannel)
	}
	sinks := []safety.Sink{notifier}

	if store {
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		events, err := sqlite.NewEventStorage(db, log)
		if err != nil {
			return err
		}
		sinks = append(sinks, events.Sink())
	}

	dispatcher := safety.NewDispatcher(safety.DispatcherOptions{
		QueueSize:   cfg.Dispatch.QueueSize,
		SinkTimeout: time.Duration(cfg.Dispatch.SinkTimeoutSeconds) * time.Second,
	}, log, sinks...)

	engine, err := safety.NewEngine(cfg.EngineConfig(), dispatcher, log)
	if err != nil {
		dispatcher.Close()
		return err
	}

	var (
		snapshots, skipped int
		admitted           = make(map[safety.EventType]int)
		first, last        time.Time
	)
	for {
		snap, err := src.Next(ctx)
		if errors.Is(err, adsb.ErrExhausted) {
			break
		}
		if errors.Is(err, adsb.ErrInvalidPayload) {
			skipped++
			log.Warn("Skipping unreadable snapshot", logger.Error(err))
			continue
		}
		if err != nil {
			dispatcher.Close()
			return err
		}

		if first.IsZero() {
			first = snap.Now
		}
		last = snap.Now
		snapshots++

		result := engine.Process(snap.Aircraft, snap.Now)
		for _, ev := range result.Admitted {
			admitted[ev.Type]++
		}
	}

	if err := dispatcher.Close(); err != nil {
		log.Warn("Sinks closed with errors", logger.Error(err))
	}

	total := 0
	for _, t := range safety.AllEventTypes {
		if admitted[t] > 0 {
			log.Info("Replay events", logger.String("type", string(t)), logger.Int("count", admitted[t]))
		}
		total += admitted[t]
	}
	log.Info("Replay complete",
		logger.String("snapshots", humanize.Comma(int64(snapshots))),
		logger.Int("skipped", skipped),
		logger.Int("events", total),
		logger.Duration("recorded_span", last.Sub(first)))

	return nil
}
