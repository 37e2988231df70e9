package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/yegors/co-atc-safety/internal/adsb"
	"github.com/yegors/co-atc-safety/internal/config"
	"github.com/yegors/co-atc-safety/internal/monitor"
	"github.com/yegors/co-atc-safety/internal/nats"
	"github.com/yegors/co-atc-safety/internal/notify"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

const webhookTimeout = 5 * time.Second

// sinkBuilder opens one sink that may hold a connection
type sinkBuilder func() (safety.Sink, error)

// openSinks runs the builders in order. When one fails, the sinks already opened are
// closed before the error is returned; on success the caller owns them.
func openSinks(log *logger.Logger, builders ...sinkBuilder) ([]safety.Sink, error) {
	sinks := make([]safety.Sink, 0, len(builders))
	for _, build := range builders {
		sink, err := build()
		if err != nil {
			for _, opened := range sinks {
				if closer, ok := opened.(io.Closer); ok {
					if cerr := closer.Close(); cerr != nil {
						log.Warn("Failed to close sink", logger.Sink(opened.Name()), logger.Error(cerr))
					}
				}
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// buildSources creates one monitor source per configured feed
func buildSources(cfg *config.Config, log *logger.Logger) ([]monitor.Source, func(), error) {
	var (
		sources []monitor.Source
		files   []*adsb.FileSource
	)
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for _, src := range cfg.Feed.Sources {
		switch src.Type {
		case "http":
			sources = append(sources, adsb.NewClient(src.Name, src.URL, src.Headers, cfg.RequestTimeout(), log))
		case "file":
			fs, err := adsb.NewFileSource(src.Name, src.Path)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			files = append(files, fs)
			sources = append(sources, fs)
		case "simulator":
			sources = append(sources, adsb.NewSimulator(src.Name, adsb.SimulatorOptions{
				CenterLat:       src.CenterLat,
				CenterLon:       src.CenterLon,
				ConvergingPair:  src.ConvergingPair,
				EmergencySquawk: src.EmergencySquawk,
			}))
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown source type %q", src.Type)
		}
		log.Info("Feed source configured",
			logger.String("name", src.Name),
			logger.String("type", src.Type))
	}

	return sources, closeAll, nil
}

func connectNATS(cfg *config.Config, log *logger.Logger) (*nats.Publisher, error) {
	publisher, err := nats.Connect(cfg.Broadcast.NATSURL, cfg.Broadcast.NATSSubjectPrefix, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return publisher, nil
}

// buildNotifier wires the narrator, limiter and severity routes
func buildNotifier(ctx context.Context, cfg *config.Config, log *logger.Logger) (*notify.Notifier, error) {
	nc := cfg.Notifications

	var narrator notify.Narrator = notify.TemplateNarrator{}
	if nc.OpenAI.Enabled {
		narrator = notify.NewOpenAINarrator(nc.OpenAI.APIKey, nc.OpenAI.Model, log)
	}

	var limiter notify.Limiter
	if nc.RedisAddr != "" {
		rl, err := notify.NewRedisLimiter(ctx, nc.RedisAddr, nc.RedisPassword, "safety:notify:")
		if err != nil {
			return nil, fmt.Errorf("failed to connect rate limiter: %w", err)
		}
		limiter = rl
	} else {
		limiter = notify.NewMemoryLimiter()
	}

	notifier := notify.NewNotifier(narrator, limiter, notify.Options{
		MinSeverity: cfg.MinSeverity(),
		RateLimit:   time.Duration(nc.RateLimitSeconds) * time.Second,
	}, log)

	logChannel := notify.NewLogChannel(log)
	notifier.Route(safety.SeverityCritical, logChannel)
	notifier.Route(safety.SeverityWarning, logChannel)
	notifier.Route(safety.SeverityInfo, logChannel)

	for i, url := range nc.CriticalWebhooks {
		notifier.Route(safety.SeverityCritical, notify.NewWebhookChannel(fmt.Sprintf("critical-webhook-%d", i), url, webhookTimeout))
	}
	for i, url := range nc.WarningWebhooks {
		notifier.Route(safety.SeverityWarning, notify.NewWebhookChannel(fmt.Sprintf("warning-webhook-%d", i), url, webhookTimeout))
	}

	return notifier, nil
}
