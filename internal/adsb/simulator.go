package adsb

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
)

const earthRadiusKm = 6371.0

// SimulatorOptions selects the demo situations the simulator produces
type SimulatorOptions struct {
	CenterLat, CenterLon float64
	// ConvergingPair adds two aircraft flying head-on at nearly the same level
	ConvergingPair bool
	// EmergencySquawk is set on one aircraft when non-empty
	EmergencySquawk string
	// Clock defaults to time.Now
	Clock func() time.Time
}

type simAircraft struct {
	hex, callsign string
	lat, lon      float64
	alt           float64
	speed, track  float64
	vs            float64
	turnRate      float64 // degrees per second
	squawk        string
}

// Simulator is a deterministic traffic generator implementing the monitor source contract
type Simulator struct {
	name  string
	opts  SimulatorOptions
	clock func() time.Time

	mu       sync.Mutex
	aircraft []simAircraft
	last     time.Time
}

// NewSimulator creates a simulator with a fixed traffic set around the center point
func NewSimulator(name string, opts SimulatorOptions) *Simulator {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Simulator{name: name, opts: opts, clock: clock}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	lat, lon := s.opts.CenterLat, s.opts.CenterLon
	s.aircraft = []simAircraft{
		{hex: "a0c001", callsign: "EASTBND1", lat: lat + 0.20, lon: lon - 0.30, alt: 28000, speed: 420, track: 90},
		{hex: "a0c002", callsign: "CIRCLER", lat: lat - 0.15, lon: lon + 0.10, alt: 9000, speed: 220, track: 0, turnRate: 1},
		{hex: "a0c003", callsign: "CLIMBER", lat: lat - 0.30, lon: lon - 0.20, alt: 4000, speed: 250, track: 45, vs: 2200},
	}
	if s.opts.EmergencySquawk != "" {
		s.aircraft[0].squawk = s.opts.EmergencySquawk
	}
	if s.opts.ConvergingPair {
		// Ten miles apart, closing at 500 kt
		s.aircraft = append(s.aircraft,
			simAircraft{hex: "a0c0f1", callsign: "CONVRG1", lat: lat, lon: lon - offsetLon(lat, 5), alt: 12000, speed: 250, track: 90},
			simAircraft{hex: "a0c0f2", callsign: "CONVRG2", lat: lat, lon: lon + offsetLon(lat, 5), alt: 12300, speed: 250, track: 270},
		)
	}
}

// Name returns the configured source name
func (s *Simulator) Name() string {
	return s.name
}

// Fetch advances every aircraft by the time elapsed since the previous fetch
func (s *Simulator) Fetch(ctx context.Context) ([]safety.AircraftState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if !s.last.IsZero() {
		dt := now.Sub(s.last).Seconds()
		for i := range s.aircraft {
			step(&s.aircraft[i], dt)
		}
		if s.opts.ConvergingPair && s.pairPassed() {
			s.reset()
		}
	}
	s.last = now

	batch := make([]safety.AircraftState, 0, len(s.aircraft))
	for _, ac := range s.aircraft {
		batch = append(batch, safety.AircraftState{
			Hex:             ac.hex,
			Callsign:        ac.callsign,
			Lat:             safety.Float(ac.lat),
			Lon:             safety.Float(ac.lon),
			AltBaroFt:       safety.Int(int(math.Round(ac.alt))),
			VerticalRateFPM: safety.Int(int(ac.vs)),
			GroundSpeedKt:   safety.Float(ac.speed),
			TrackDeg:        safety.Float(ac.track),
			Squawk:          ac.squawk,
			Timestamp:       now,
		})
	}
	return batch, nil
}

// pairPassed reports whether the converging pair has crossed and opened beyond its start separation
func (s *Simulator) pairPassed() bool {
	a, b := s.aircraft[len(s.aircraft)-2], s.aircraft[len(s.aircraft)-1]
	return a.lon > b.lon && safety.Haversine(a.lat, a.lon, b.lat, b.lon) > 10
}

// step moves an aircraft along its great-circle track
func step(ac *simAircraft, dt float64) {
	distanceKm := ac.speed * 0.000514444 * dt
	angular := distanceKm / earthRadiusKm

	trackRad := ac.track * math.Pi / 180.0
	latRad := ac.lat * math.Pi / 180.0
	lonRad := ac.lon * math.Pi / 180.0

	newLatRad := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(trackRad))
	newLonRad := lonRad + math.Atan2(math.Sin(trackRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(newLatRad))

	ac.lat = newLatRad * 180.0 / math.Pi
	ac.lon = math.Mod(newLonRad*180.0/math.Pi+540, 360) - 180

	ac.alt += ac.vs * dt / 60
	if ac.alt > 35000 {
		ac.alt, ac.vs = 35000, 0
	}

	ac.track = math.Mod(ac.track+ac.turnRate*dt, 360)
	if ac.track < 0 {
		ac.track += 360
	}
}

// offsetLon returns the longitude span of nm nautical miles at lat
func offsetLon(lat, nm float64) float64 {
	return nm / (60 * math.Cos(lat*math.Pi/180))
}
