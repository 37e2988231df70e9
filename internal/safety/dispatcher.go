package safety

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/co-atc-safety/pkg/logger"
	"go.uber.org/multierr"
)

// Sink receives admitted events. Implementations own their retries.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event SafetyEvent) error
}

// DispatcherOptions configures per-sink queues
type DispatcherOptions struct {
	QueueSize   int
	SinkTimeout time.Duration
}

// SinkStats counts deliveries for one sink
type SinkStats struct {
	Name      string `json:"name"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

type sinkWorker struct {
	sink      Sink
	queue     chan SafetyEvent
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Dispatcher hands admitted events to every configured sink without waiting for delivery
type Dispatcher struct {
	workers []*sinkWorker
	timeout time.Duration
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher and starts one worker per sink
func NewDispatcher(opts DispatcherOptions, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		timeout: opts.SinkTimeout,
		logger:  log.Named("dispatcher"),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, sink := range sinks {
		w := &sinkWorker{sink: sink, queue: make(chan SafetyEvent, opts.QueueSize)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.run(w)
	}

	return d
}

// Emit queues a copy of the event for every sink. It never blocks on delivery;
// a sink whose queue is full loses this event.
func (d *Dispatcher) Emit(event SafetyEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Dispatcher closed, event not delivered",
			logger.String("dedup_key", event.DedupKey))
		return
	}

	for _, w := range d.workers {
		select {
		case w.queue <- event.Clone():
		default:
			w.dropped.Add(1)
			d.logger.Warn("Sink queue full, dropping event",
				logger.Sink(w.sink.Name()),
				logger.String("event_type", string(event.Type)),
				logger.String("dedup_key", event.DedupKey))
		}
	}
}

func (d *Dispatcher) run(w *sinkWorker) {
	defer d.wg.Done()
	for event := range w.queue {
		d.deliver(w, event)
	}
}

func (d *Dispatcher) deliver(w *sinkWorker, event SafetyEvent) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panicked: %v", r)
			}
		}()
		return w.sink.Deliver(ctx, event)
	}()

	if err != nil {
		w.failed.Add(1)
		d.logger.Error("Sink delivery failed",
			logger.Sink(w.sink.Name()),
			logger.String("event_type", string(event.Type)),
			logger.String("dedup_key", event.DedupKey),
			logger.Error(err))
		return
	}
	w.delivered.Add(1)
}

// Stats returns delivery counters per sink
func (d *Dispatcher) Stats() []SinkStats {
	stats := make([]SinkStats, 0, len(d.workers))
	for _, w := range d.workers {
		stats = append(stats, SinkStats{
			Name:      w.sink.Name(),
			Delivered: w.delivered.Load(),
			Failed:    w.failed.Load(),
			Dropped:   w.dropped.Load(),
			Queued:    len(w.queue),
		})
	}
	return stats
}

// Close stops accepting events, waits for queued deliveries and closes sinks that hold resources
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()

	var err error
	for _, w := range d.workers {
		if closer, ok := w.sink.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("failed to close sink %s: %w", w.sink.Name(), cerr))
			}
		}
	}
	return err
}
