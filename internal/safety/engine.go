package safety

import (
	"fmt"
	"time"

	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Emitter receives events that passed the cooldown gate
type Emitter interface {
	Emit(event SafetyEvent)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(event SafetyEvent)

// Emit calls f(event)
func (f EmitterFunc) Emit(event SafetyEvent) { f(event) }

// TickResult summarizes one detection pass
type TickResult struct {
	Aircraft   int
	Evicted    []string
	Candidates int
	Admitted   []SafetyEvent
	Suppressed int
	Recovered  int
	Pruned     int
	Duration   time.Duration
}

// Engine runs the detection pass. It owns the tracker and the cooldown ledger and
// must be driven from a single goroutine.
type Engine struct {
	cfg     Config
	tracker *Tracker
	gate    *CooldownGate
	emitter Emitter
	logger  *logger.Logger

	recovered int
}

// NewEngine validates cfg and builds the tracker and cooldown gate
func NewEngine(cfg Config, emitter Emitter, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = EmitterFunc(func(SafetyEvent) {})
	}

	return &Engine{
		cfg:     cfg,
		tracker: NewTracker(cfg.HistoryDepth, cfg.StaleAfter),
		gate:    NewCooldownGate(cfg.DefaultCooldown, cfg.Cooldowns, cfg.LedgerRetention),
		emitter: emitter,
		logger:  log.Named("safety-engine"),
	}, nil
}

// Process runs one tick: evict stale aircraft, record the batch, run every detector,
// gate the candidates and emit the survivors.
func (e *Engine) Process(batch []AircraftState, now time.Time) TickResult {
	start := time.Now()
	e.recovered = 0

	result := TickResult{Aircraft: len(batch)}
	result.Evicted = e.tracker.EvictStale(now, e.cfg.StaleAfter)
	touched := e.tracker.Update(batch)

	th := e.cfg.Thresholds
	var candidates []SafetyEvent
	candidates = append(candidates, DetectProximity(batch, touched, th, now, e.guard)...)
	candidates = append(candidates, DetectVertical(touched, th, now, e.guard)...)
	candidates = append(candidates, DetectEmergencies(batch, now, e.guard)...)
	result.Candidates = len(candidates)

	for _, event := range candidates {
		if !e.gate.Admit(event, now) {
			result.Suppressed++
			continue
		}
		result.Admitted = append(result.Admitted, event)
		e.logger.Info("Safety event admitted",
			logger.String("event_type", string(event.Type)),
			logger.String("severity", string(event.Severity)),
			logger.String("dedup_key", event.DedupKey))
		e.emitter.Emit(event)
	}

	result.Pruned = e.gate.Prune(now)
	result.Recovered = e.recovered
	result.Duration = time.Since(start)

	if len(result.Evicted) > 0 {
		e.logger.Debug("Evicted stale aircraft", logger.Strings("hexes", result.Evicted))
	}
	e.logger.Debug("Detection pass complete",
		logger.Int("aircraft", result.Aircraft),
		logger.Int("candidates", result.Candidates),
		logger.Int("admitted", len(result.Admitted)),
		logger.Int("suppressed", result.Suppressed),
		logger.Duration("duration", result.Duration))

	return result
}

// guard isolates one rule evaluation; a panic is logged and counts as "no event"
func (e *Engine) guard(rule, subject string, eval func()) {
	defer func() {
		if r := recover(); r != nil {
			e.recovered++
			e.logger.Error("Detector evaluation failed",
				logger.Rule(rule),
				logger.String("subject", subject),
				logger.Error(fmt.Errorf("%v", r)))
		}
	}()
	eval()
}

// TrackedAircraft returns the number of aircraft with live history
func (e *Engine) TrackedAircraft() int {
	return e.tracker.Len()
}

// LedgerSize returns the number of cooldown ledger entries
func (e *Engine) LedgerSize() int {
	return e.gate.Len()
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() Config {
	return e.cfg
}
