package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yegors/co-atc-safety/internal/adsb"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
	"go.uber.org/multierr"
)

var (
	// ErrPassInProgress is returned when a pass is requested while another one runs
	ErrPassInProgress = errors.New("detection pass already in progress")
	// ErrDetectionDisabled is returned when detection is switched off
	ErrDetectionDisabled = errors.New("detection disabled")
)

// Source delivers one batch of aircraft states per call
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]safety.AircraftState, error)
}

// Options configures the polling loop
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Enabled      bool
	// Clock defaults to time.Now in UTC
	Clock func() time.Time
}

// Stats is a point-in-time view of the service
type Stats struct {
	Enabled          bool              `json:"enabled"`
	Ticks            uint64            `json:"ticks"`
	Skipped          uint64            `json:"skipped"`
	Failed           uint64            `json:"failed"`
	LastPassAt       time.Time         `json:"last_pass_at"`
	LastPassDuration time.Duration     `json:"last_pass_duration_ns"`
	FeedTime         time.Time         `json:"feed_time"`
	FeedLag          time.Duration     `json:"feed_lag_ns"`
	LastError        string            `json:"last_error,omitempty"`
	Aircraft         int               `json:"aircraft"`
	Admitted         uint64            `json:"events_admitted"`
	Suppressed       uint64            `json:"events_suppressed"`
	Recovered        uint64            `json:"evaluations_recovered"`
	AdmittedByType   map[string]uint64 `json:"events_by_type"`
	TrackedAircraft  int               `json:"tracked_aircraft"`
	LedgerSize       int               `json:"ledger_size"`
	SourceFailures   map[string]uint64 `json:"source_failures"`
}

// Service drives the detection engine from a set of sources on a fixed interval
type Service struct {
	sources []Source
	engine  *safety.Engine
	opts    Options
	clock   func() time.Time
	logger  *logger.Logger

	enabled atomic.Bool
	running atomic.Bool

	// feed clock, only touched while the running flag is held
	feedTime time.Time
	feedWall time.Time

	mu    sync.RWMutex
	stats Stats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a new monitor service
func NewService(sources []Source, engine *safety.Engine, opts Options, log *logger.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = opts.Interval
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	s := &Service{
		sources: sources,
		engine:  engine,
		opts:    opts,
		clock:   clock,
		logger:  log.Named("monitor"),
		stopCh:  make(chan struct{}),
		stats: Stats{
			AdmittedByType: make(map[string]uint64),
			SourceFailures: make(map[string]uint64),
		},
	}
	s.enabled.Store(opts.Enabled)
	return s
}

// Start runs an initial pass and then polls until Stop or ctx cancellation
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting safety monitor",
		logger.Duration("interval", s.opts.Interval),
		logger.Int("sources", len(s.sources)),
		logger.Bool("enabled", s.Enabled()))

	s.tick(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	return nil
}

// Stop stops the polling loop and waits for the current pass to finish
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping safety monitor")
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	_, err := s.RunOnce(ctx, s.clock())
	switch {
	case err == nil, errors.Is(err, ErrDetectionDisabled):
	case errors.Is(err, ErrPassInProgress):
		s.logger.Warn("Previous detection pass still running, skipping tick")
	default:
		s.logger.Error("Detection pass failed", logger.Error(err))
	}
}

// RunOnce fetches every source, merges the batches and runs one detection pass.
// now is the local wall time of the tick; the pass itself runs on the feed clock
// (see feedClock) so a lagging receiver or a recording is not evicted wholesale.
// When detection is disabled the sources are still polled but the engine is not run.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (safety.TickResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return safety.TickResult{}, ErrPassInProgress
	}
	defer s.running.Store(false)

	batch, err := s.fetchAll(ctx)
	if err != nil {
		s.mu.Lock()
		s.stats.Failed++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		return safety.TickResult{}, err
	}

	tickTime := s.feedClock(batch, now)

	if !s.Enabled() {
		s.mu.Lock()
		s.stats.Aircraft = len(batch)
		s.stats.FeedTime = tickTime
		s.stats.FeedLag = now.Sub(tickTime)
		s.mu.Unlock()
		return safety.TickResult{}, ErrDetectionDisabled
	}

	result := s.engine.Process(batch, tickTime)

	s.mu.Lock()
	s.stats.Ticks++
	s.stats.LastPassAt = now
	s.stats.LastPassDuration = result.Duration
	s.stats.FeedTime = tickTime
	s.stats.FeedLag = now.Sub(tickTime)
	s.stats.LastError = ""
	s.stats.Aircraft = result.Aircraft
	s.stats.Admitted += uint64(len(result.Admitted))
	s.stats.Suppressed += uint64(result.Suppressed)
	s.stats.Recovered += uint64(result.Recovered)
	for _, ev := range result.Admitted {
		s.stats.AdmittedByType[string(ev.Type)]++
	}
	s.stats.TrackedAircraft = s.engine.TrackedAircraft()
	s.stats.LedgerSize = s.engine.LedgerSize()
	s.mu.Unlock()

	return result, nil
}

// feedClock returns the tick time on the feed's own clock: the latest sample timestamp in
// the batch, never earlier than the previous tick. An empty batch advances the previous
// tick time by the wall time elapsed since it. Before any sample has been seen the wall
// time is used.
func (s *Service) feedClock(batch []safety.AircraftState, wall time.Time) time.Time {
	var latest time.Time
	for _, a := range batch {
		if a.Timestamp.After(latest) {
			latest = a.Timestamp
		}
	}

	switch {
	case latest.IsZero() && s.feedTime.IsZero():
		latest = wall
	case latest.IsZero():
		elapsed := wall.Sub(s.feedWall)
		if elapsed < 0 {
			elapsed = 0
		}
		latest = s.feedTime.Add(elapsed)
	case latest.Before(s.feedTime):
		latest = s.feedTime
	}

	s.feedTime, s.feedWall = latest, wall
	return latest
}

type fetchResult struct {
	source string
	batch  []safety.AircraftState
	err    error
}

// fetchAll polls every source concurrently. It fails only when every source failed.
func (s *Service) fetchAll(ctx context.Context) ([]safety.AircraftState, error) {
	if len(s.sources) == 0 {
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	results := make([]fetchResult, len(s.sources))
	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			batch, err := src.Fetch(fetchCtx)
			results[i] = fetchResult{source: src.Name(), batch: batch, err: err}
		}(i, src)
	}
	wg.Wait()

	var (
		batches [][]safety.AircraftState
		errs    error
	)
	for _, r := range results {
		if r.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("source %s: %w", r.source, r.err))
			s.mu.Lock()
			s.stats.SourceFailures[r.source]++
			s.mu.Unlock()
			s.logger.Warn("Source fetch failed", logger.Source(r.source), logger.Error(r.err))
			continue
		}
		batches = append(batches, r.batch)
	}

	if len(batches) == 0 {
		return nil, fmt.Errorf("all sources failed: %w", errs)
	}
	return adsb.Merge(batches...), nil
}

// SetEnabled switches detection on or off without stopping feed polling
func (s *Service) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		s.logger.Info("Detection state changed", logger.Bool("enabled", enabled))
	}
}

// Enabled reports whether detection runs
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// Stats returns a copy of the current counters
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Enabled = s.Enabled()
	stats.AdmittedByType = make(map[string]uint64, len(s.stats.AdmittedByType))
	for k, v := range s.stats.AdmittedByType {
		stats.AdmittedByType[k] = v
	}
	stats.SourceFailures = make(map[string]uint64, len(s.stats.SourceFailures))
	for k, v := range s.stats.SourceFailures {
		stats.SourceFailures[k] = v
	}
	return stats
}
