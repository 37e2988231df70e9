package safety

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Guard runs a single rule evaluation. The engine supplies one that recovers
// panics so a bad evaluation only loses its own result.
type Guard func(rule, subject string, eval func())

func runDirect(_, _ string, eval func()) { eval() }

// PairAssessment is the geometry of one aircraft pair at one tick
type PairAssessment struct {
	A, B           AircraftState // A.Hex < B.Hex
	DistanceNM     float64
	AltitudeDiffFt float64

	ClosureRateKt    float64
	HasClosureRate   bool
	VerticalClosure  float64
	HasVerticalTrend bool
}

// InConflict reports whether both tolerances are breached. Equality counts as a breach.
func (p PairAssessment) InConflict(th Thresholds) bool {
	return p.DistanceNM <= th.ProximityNM && p.AltitudeDiffFt <= th.AltitudeDiffFt
}

// Classify picks the single highest-precedence event type for a conflicting pair:
// tcas_ra > tcas_ta > proximity_conflict.
func (p PairAssessment) Classify(th Thresholds) (EventType, Severity) {
	if p.HasVerticalTrend {
		if p.VerticalClosure >= th.TCASVSFPM {
			return EventTCASRA, SeverityCritical
		}
		if p.VerticalClosure > 0 {
			return EventTCASTA, SeverityWarning
		}
	}
	if p.HasClosureRate && p.ClosureRateKt >= th.ClosureRateKt {
		return EventProximityConflict, SeverityCritical
	}
	return EventProximityConflict, SeverityWarning
}

// DetectProximity compares every unordered pair in the batch once and emits at most one
// event per conflicting pair. histories supplies the previous samples used for closure
// and vertical trends; it may be nil.
func DetectProximity(batch []AircraftState, histories map[string]TrackedHistory, th Thresholds, now time.Time, guard Guard) []SafetyEvent {
	if guard == nil {
		guard = runDirect
	}

	candidates := positionedAircraft(batch)
	var events []SafetyEvent

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			guard("proximity", a.Hex+"/"+b.Hex, func() {
				p := AssessPair(a, b, histories)
				if !p.InConflict(th) {
					return
				}
				eventType, severity := p.Classify(th)
				events = append(events, newPairEvent(eventType, severity, p, now))
			})
		}
	}

	return events
}

// AssessPair computes distance, altitude separation, closure rate and vertical closure for two aircraft.
// Both must have a position and an altitude.
func AssessPair(a, b AircraftState, histories map[string]TrackedHistory) PairAssessment {
	if b.Hex < a.Hex {
		a, b = b, a
	}

	p := PairAssessment{
		A:              a,
		B:              b,
		DistanceNM:     Haversine(*a.Lat, *a.Lon, *b.Lat, *b.Lon),
		AltitudeDiffFt: math.Abs(float64(*a.AltBaroFt - *b.AltBaroFt)),
	}

	histA, okA := histories[a.Hex]
	histB, okB := histories[b.Hex]

	if rate, ok := vectorClosureRate(a, b, p.DistanceNM); ok {
		p.ClosureRateKt, p.HasClosureRate = rate, true
	} else if okA && okB {
		p.ClosureRateKt, p.HasClosureRate = historyClosureRate(histA, histB, p.DistanceNM)
	}

	vsA, okVA := verticalTrend(a, histA, okA)
	vsB, okVB := verticalTrend(b, histB, okB)
	if okVA && okVB {
		p.VerticalClosure = verticalClosure(*a.AltBaroFt, *b.AltBaroFt, vsA, vsB)
		p.HasVerticalTrend = true
	}

	return p
}

// positionedAircraft filters the batch to aircraft usable for geometry, sorted by hex.
func positionedAircraft(batch []AircraftState) []AircraftState {
	return latestByHex(batch, func(s AircraftState) bool {
		return s.HasPosition() && s.AltBaroFt != nil
	})
}

// latestByHex keeps the latest record per hex among those passing keep, sorted by hex.
// The hex is chosen before keep is applied, so an older usable record never stands in
// for a newer unusable one.
func latestByHex(batch []AircraftState, keep func(AircraftState) bool) []AircraftState {
	byHex := make(map[string]AircraftState, len(batch))
	for _, s := range batch {
		if s.Hex == "" {
			continue
		}
		if prev, ok := byHex[s.Hex]; ok && prev.Timestamp.After(s.Timestamp) {
			continue
		}
		byHex[s.Hex] = s
	}

	out := make([]AircraftState, 0, len(byHex))
	for _, s := range byHex {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex < out[j].Hex })
	return out
}

// historyClosureRate derives closure from the change in distance since the previous samples
func historyClosureRate(histA, histB TrackedHistory, distanceNM float64) (float64, bool) {
	curA, okA := histA.Latest()
	curB, okB := histB.Latest()
	prevA, okPA := histA.Previous()
	prevB, okPB := histB.Previous()
	if !okA || !okB || !okPA || !okPB || !prevA.HasPosition() || !prevB.HasPosition() {
		return 0, false
	}

	dt := (curA.Timestamp.Sub(prevA.Timestamp) + curB.Timestamp.Sub(prevB.Timestamp)) / 2
	if dt <= 0 {
		return 0, false
	}

	prevDistance := Haversine(*prevA.Lat, *prevA.Lon, *prevB.Lat, *prevB.Lon)
	return (prevDistance - distanceNM) / dt.Hours(), true
}

// verticalTrend is the reported vertical rate, or the rate derived from the last two samples
func verticalTrend(s AircraftState, h TrackedHistory, hasHistory bool) (float64, bool) {
	if s.VerticalRateFPM != nil {
		return float64(*s.VerticalRateFPM), true
	}
	if !hasHistory {
		return 0, false
	}
	prev, okPrev := h.Previous()
	cur, okCur := h.Latest()
	if !okPrev || !okCur {
		return 0, false
	}
	return derivedRate(prev, cur)
}

// verticalClosure is the rate (fpm) at which the altitude gap between two aircraft shrinks
func verticalClosure(altA, altB int, vsA, vsB float64) float64 {
	switch {
	case altA > altB:
		return vsB - vsA
	case altB > altA:
		return vsA - vsB
	default:
		return math.Abs(vsA - vsB)
	}
}

func newPairEvent(t EventType, sev Severity, p PairAssessment, now time.Time) SafetyEvent {
	details := map[string]float64{
		"distance_nm":      round(p.DistanceNM, 3),
		"altitude_diff_ft": p.AltitudeDiffFt,
	}
	if p.HasClosureRate {
		details["closure_rate_kt"] = round(p.ClosureRateKt, 1)
	}
	if p.HasVerticalTrend {
		details["vertical_closure_fpm"] = round(p.VerticalClosure, 0)
	}

	secondary := IdentityOf(p.B)
	snapshot2 := p.B.Clone()

	return SafetyEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Severity:   sev,
		Primary:    IdentityOf(p.A),
		Secondary:  &secondary,
		Details:    details,
		Snapshot:   p.A.Clone(),
		Snapshot2:  &snapshot2,
		DedupKey:   PairKey(t, p.A.Hex, p.B.Hex),
		DetectedAt: now,
	}
}

func newSingleEvent(t EventType, sev Severity, s AircraftState, details map[string]float64, now time.Time) SafetyEvent {
	return SafetyEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Severity:   sev,
		Primary:    IdentityOf(s),
		Details:    details,
		Snapshot:   s.Clone(),
		DedupKey:   SingleKey(t, s.Hex),
		DetectedAt: now,
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
