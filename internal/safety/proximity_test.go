package safety

import (
	"math"
	"testing"
)

func scenarioThresholds() Thresholds {
	th := DefaultConfig().Thresholds
	th.ProximityNM = 1.0
	th.AltitudeDiffFt = 1000
	return th
}

func TestProximityConflictScenario(t *testing.T) {
	batch := []AircraftState{
		newState("b2c3d4", at(0), withPos(47.9450, -121.9600), withAlt(35200), withCallsign("ASA12")),
		newState("a1b2c3", at(0), withPos(47.9377, -121.9687), withAlt(35000), withCallsign("DAL404")),
	}

	events := DetectProximity(batch, nil, scenarioThresholds(), at(0), nil)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Type != EventProximityConflict {
		t.Errorf("type = %s, want %s", ev.Type, EventProximityConflict)
	}
	if ev.Severity != SeverityWarning {
		t.Errorf("severity = %s, want warning", ev.Severity)
	}
	if ev.DedupKey != "proximity_conflict:a1b2c3:b2c3d4" {
		t.Errorf("dedup key = %q", ev.DedupKey)
	}
	if ev.Primary.Hex != "a1b2c3" || ev.Secondary == nil || ev.Secondary.Hex != "b2c3d4" {
		t.Errorf("unexpected identities: %+v / %+v", ev.Primary, ev.Secondary)
	}
	if ev.Snapshot2 == nil || ev.Snapshot2.Hex != "b2c3d4" {
		t.Error("second snapshot missing")
	}
	if d := ev.Details["distance_nm"]; d < 0.5 || d > 0.6 {
		t.Errorf("distance_nm = %v, want ~0.56", d)
	}
	if ev.Details["altitude_diff_ft"] != 200 {
		t.Errorf("altitude_diff_ft = %v, want 200", ev.Details["altitude_diff_ft"])
	}
}

func TestProximityThresholdIsInclusive(t *testing.T) {
	a := newState("aaaaaa", at(0), withPos(47.0, -122.0), withAlt(10000))
	b := newState("bbbbbb", at(0), withPos(47.01, -122.0), withAlt(11000))
	distance := Haversine(47.0, -122.0, 47.01, -122.0)

	tests := []struct {
		name      string
		proximity float64
		altitude  float64
		want      int
	}{
		{"both exactly at threshold", distance, 1000, 1},
		{"distance just outside", math.Nextafter(distance, 0), 1000, 0},
		{"altitude just outside", distance, 999, 0},
		{"well inside", distance * 2, 2000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := scenarioThresholds()
			th.ProximityNM = tt.proximity
			th.AltitudeDiffFt = tt.altitude

			events := DetectProximity([]AircraftState{a, b}, nil, th, at(0), nil)
			if len(events) != tt.want {
				t.Errorf("got %d events, want %d", len(events), tt.want)
			}
		})
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey(EventTCASRA, "abc123", "0fed99") != PairKey(EventTCASRA, "0fed99", "abc123") {
		t.Error("pair key depends on argument order")
	}

	a := newState("c0ffee", at(0), withPos(40.0, -75.0), withAlt(8000))
	b := newState("0badf0", at(0), withPos(40.001, -75.0), withAlt(8100))

	forward := DetectProximity([]AircraftState{a, b}, nil, scenarioThresholds(), at(0), nil)
	reverse := DetectProximity([]AircraftState{b, a}, nil, scenarioThresholds(), at(0), nil)
	if len(forward) != 1 || len(reverse) != 1 {
		t.Fatalf("expected one event each way, got %d and %d", len(forward), len(reverse))
	}
	if forward[0].DedupKey != reverse[0].DedupKey {
		t.Errorf("keys differ: %q vs %q", forward[0].DedupKey, reverse[0].DedupKey)
	}
	if forward[0].DedupKey != "proximity_conflict:0badf0:c0ffee" {
		t.Errorf("key = %q", forward[0].DedupKey)
	}
}

func TestProximitySkipsIncompleteSamples(t *testing.T) {
	full := newState("aaaaaa", at(0), withPos(47.0, -122.0), withAlt(10000))

	tests := []struct {
		name  string
		other AircraftState
	}{
		{"no position", newState("bbbbbb", at(0), withAlt(10000), withSquawk("7700"))},
		{"latitude only", AircraftState{Hex: "bbbbbb", Lat: Float(47.0), AltBaroFt: Int(10000), Timestamp: at(0)}},
		{"no altitude", newState("bbbbbb", at(0), withPos(47.0, -122.0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := DetectProximity([]AircraftState{full, tt.other}, nil, scenarioThresholds(), at(0), nil)
			if len(events) != 0 {
				t.Errorf("got %d events, want 0", len(events))
			}
		})
	}
}

func TestProximityEvaluatesEachPairOnce(t *testing.T) {
	batch := []AircraftState{
		newState("aaaaaa", at(0), withPos(47.000, -122.0), withAlt(10000)),
		newState("bbbbbb", at(0), withPos(47.001, -122.0), withAlt(10100)),
		newState("cccccc", at(0), withPos(47.002, -122.0), withAlt(10200)),
		newState("dddddd", at(0), withPos(48.000, -122.0), withAlt(10200)),
	}

	events := DetectProximity(batch, nil, scenarioThresholds(), at(0), nil)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 (ab, ac, bc)", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.DedupKey] {
			t.Errorf("duplicate key %s", ev.DedupKey)
		}
		seen[ev.DedupKey] = true
	}
}

func TestHeadOnClosureIsCritical(t *testing.T) {
	a := newState("aaa001", at(0), withPos(47.0, -122.0), withAlt(12000), withVelocity(450, 90))
	b := newState("bbb002", at(0), withPos(47.0, -121.99), withAlt(12300), withVelocity(450, 270))

	p := AssessPair(a, b, nil)
	if !p.HasClosureRate {
		t.Fatal("closure rate should come from velocity vectors")
	}
	if math.Abs(p.ClosureRateKt-900) > 5 {
		t.Errorf("closure = %.1f kt, want ~900", p.ClosureRateKt)
	}

	events := DetectProximity([]AircraftState{a, b}, nil, scenarioThresholds(), at(0), nil)
	if len(events) != 1 || events[0].Severity != SeverityCritical {
		t.Fatalf("want one critical proximity event, got %+v", events)
	}
	if events[0].Type != EventProximityConflict {
		t.Errorf("type = %s, want proximity_conflict", events[0].Type)
	}
}

func TestDivergingTrafficHasNegativeClosure(t *testing.T) {
	a := newState("aaa001", at(0), withPos(47.0, -122.0), withAlt(12000), withVelocity(300, 270))
	b := newState("bbb002", at(0), withPos(47.0, -121.99), withAlt(12000), withVelocity(300, 90))

	p := AssessPair(a, b, nil)
	if !p.HasClosureRate || p.ClosureRateKt >= 0 {
		t.Errorf("closure = %.1f, want negative", p.ClosureRateKt)
	}
}

func TestClosureFallsBackToHistory(t *testing.T) {
	tracker := NewTracker(5, 0)
	tracker.Update([]AircraftState{
		newState("aaa001", at(0), withPos(47.0, -122.0), withAlt(9000)),
		newState("bbb002", at(0), withPos(47.0, -121.98), withAlt(9000)),
	})
	cur := []AircraftState{
		newState("aaa001", at(10), withPos(47.0, -121.995), withAlt(9000)),
		newState("bbb002", at(10), withPos(47.0, -121.985), withAlt(9000)),
	}
	touched := tracker.Update(cur)

	p := AssessPair(cur[0], cur[1], touched)
	if !p.HasClosureRate {
		t.Fatal("expected closure from successive-tick distance")
	}
	if p.ClosureRateKt <= 0 {
		t.Errorf("closure = %.1f, want positive (converging)", p.ClosureRateKt)
	}
}

func TestTCASPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		vsLow    *int
		vsHigh   *int
		wantType EventType
		wantSev  Severity
	}{
		{"resolution advisory", Int(2000), Int(-1000), EventTCASRA, SeverityCritical},
		{"traffic advisory", Int(500), Int(0), EventTCASTA, SeverityWarning},
		{"diverging vertically", Int(-500), Int(500), EventProximityConflict, SeverityWarning},
		{"vertical trend unknown", nil, Int(-3000), EventProximityConflict, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low := newState("aaaaaa", at(0), withPos(47.0, -122.0), withAlt(20000))
			high := newState("bbbbbb", at(0), withPos(47.005, -122.0), withAlt(20500))
			low.VerticalRateFPM = tt.vsLow
			high.VerticalRateFPM = tt.vsHigh

			events := DetectProximity([]AircraftState{low, high}, nil, scenarioThresholds(), at(0), nil)
			if len(events) != 1 {
				t.Fatalf("got %d events for one pair, want exactly 1", len(events))
			}
			if events[0].Type != tt.wantType || events[0].Severity != tt.wantSev {
				t.Errorf("got %s/%s, want %s/%s", events[0].Type, events[0].Severity, tt.wantType, tt.wantSev)
			}
			if events[0].DedupKey != PairKey(tt.wantType, "aaaaaa", "bbbbbb") {
				t.Errorf("dedup key = %q", events[0].DedupKey)
			}
		})
	}
}

func TestVerticalClosure(t *testing.T) {
	if got := verticalClosure(10000, 9000, -1000, 1000); got != 2000 {
		t.Errorf("converging from above: got %v, want 2000", got)
	}
	if got := verticalClosure(9000, 10000, -1000, 1000); got != -2000 {
		t.Errorf("diverging: got %v, want -2000", got)
	}
	if got := verticalClosure(9000, 9000, 800, -800); got != 1600 {
		t.Errorf("co-altitude: got %v, want 1600", got)
	}
}

func TestProximityUsesLatestRecordPerHex(t *testing.T) {
	other := newState("bbbbbb", at(5), withPos(47.0, -122.0), withAlt(10000))
	batch := []AircraftState{
		newState("aaaaaa", at(0), withPos(47.001, -122.0), withAlt(10000)),
		newState("aaaaaa", at(5), withPos(48.0, -122.0), withAlt(10000)),
		other,
	}
	if events := DetectProximity(batch, nil, scenarioThresholds(), at(5), nil); len(events) != 0 {
		t.Errorf("older close record was used: %+v", events)
	}
}
