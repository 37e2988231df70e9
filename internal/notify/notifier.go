package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
	"go.uber.org/multierr"
)

// Options configures the notifier
type Options struct {
	MinSeverity safety.Severity
	RateLimit   time.Duration
}

// Notifier is the notification sink: it filters by severity, narrates,
// routes by severity and rate-limits per channel.
type Notifier struct {
	narrator Narrator
	limiter  Limiter
	opts     Options
	routes   map[safety.Severity][]Channel
	logger   *logger.Logger
}

// NewNotifier creates a notifier. A nil narrator uses TemplateNarrator, a nil limiter an in-memory one.
func NewNotifier(narrator Narrator, limiter Limiter, opts Options, log *logger.Logger) *Notifier {
	if narrator == nil {
		narrator = TemplateNarrator{}
	}
	if limiter == nil {
		limiter = NewMemoryLimiter()
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = safety.SeverityWarning
	}
	return &Notifier{
		narrator: narrator,
		limiter:  limiter,
		opts:     opts,
		routes:   make(map[safety.Severity][]Channel),
		logger:   log.Named("notifier"),
	}
}

// Route sends events of severity sev to channels
func (n *Notifier) Route(sev safety.Severity, channels ...Channel) {
	n.routes[sev] = append(n.routes[sev], channels...)
}

// Name implements safety.Sink
func (n *Notifier) Name() string { return "notifier" }

// Deliver implements safety.Sink
func (n *Notifier) Deliver(ctx context.Context, ev safety.SafetyEvent) error {
	if ev.Severity.Rank() < n.opts.MinSeverity.Rank() {
		return nil
	}
	channels := n.routes[ev.Severity]
	if len(channels) == 0 {
		return nil
	}

	msg, err := n.narrator.Narrate(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to narrate event: %w", err)
	}
	notification := Notification{Message: msg, Event: ev}

	var errs error
	for _, ch := range channels {
		if n.opts.RateLimit > 0 {
			allowed, err := n.limiter.Allow(ctx, ch.Name()+":"+ev.DedupKey, n.opts.RateLimit)
			if err != nil {
				n.logger.Warn("Rate limiter unavailable, sending anyway",
					logger.Sink(ch.Name()), logger.Error(err))
			} else if !allowed {
				n.logger.Debug("Notification rate limited",
					logger.Sink(ch.Name()),
					logger.String("dedup_key", ev.DedupKey))
				continue
			}
		}

		if err := ch.Send(ctx, notification); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	return errs
}

// Close releases the limiter when it holds a connection
func (n *Notifier) Close() error {
	if closer, ok := n.limiter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
