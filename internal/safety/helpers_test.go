package safety

import (
	"sync"
	"time"

	"github.com/yegors/co-atc-safety/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

type stateOpt func(*AircraftState)

func withPos(lat, lon float64) stateOpt {
	return func(s *AircraftState) { s.Lat, s.Lon = Float(lat), Float(lon) }
}

func withAlt(ft int) stateOpt {
	return func(s *AircraftState) { s.AltBaroFt = Int(ft) }
}

func withVS(fpm int) stateOpt {
	return func(s *AircraftState) { s.VerticalRateFPM = Int(fpm) }
}

func withVelocity(gs, track float64) stateOpt {
	return func(s *AircraftState) { s.GroundSpeedKt, s.TrackDeg = Float(gs), Float(track) }
}

func withSquawk(code string) stateOpt {
	return func(s *AircraftState) { s.Squawk = code }
}

func withCallsign(cs string) stateOpt {
	return func(s *AircraftState) { s.Callsign = cs }
}

func newState(hex string, ts time.Time, opts ...stateOpt) AircraftState {
	s := AircraftState{Hex: hex, Timestamp: ts}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// recorder collects emitted events
type recorder struct {
	mu     sync.Mutex
	events []SafetyEvent
}

func (r *recorder) Emit(ev SafetyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &logger.Logger{Logger: zap.New(core)}, logs
}

func countType(events []SafetyEvent, t EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
