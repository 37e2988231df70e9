package safety

import (
	"math"
	"sort"
	"time"
)

// DetectVertical evaluates extreme vertical rates and rate reversals for every
// history that received a new sample this tick.
func DetectVertical(histories map[string]TrackedHistory, th Thresholds, now time.Time, guard Guard) []SafetyEvent {
	if guard == nil {
		guard = runDirect
	}

	hexes := make([]string, 0, len(histories))
	for hex := range histories {
		hexes = append(hexes, hex)
	}
	sort.Strings(hexes)

	var events []SafetyEvent
	for _, hex := range hexes {
		h := histories[hex]
		guard("extreme_vs", hex, func() {
			if ev, ok := evaluateExtremeVS(h, th, now); ok {
				events = append(events, ev)
			}
		})
		guard("vs_reversal", hex, func() {
			if ev, ok := evaluateReversal(h, th, now); ok {
				events = append(events, ev)
			}
		})
	}
	return events
}

func evaluateExtremeVS(h TrackedHistory, th Thresholds, now time.Time) (SafetyEvent, bool) {
	cur, ok := h.Latest()
	if !ok || cur.VerticalRateFPM == nil {
		return SafetyEvent{}, false
	}
	prev, hasPrev := h.Previous()
	if hasPrev && prev.VerticalRateFPM == nil {
		return SafetyEvent{}, false
	}

	reported := float64(*cur.VerticalRateFPM)
	reportedBreach := math.Abs(reported) >= th.VSExtremeFPM

	details := map[string]float64{
		"vertical_rate_fpm": reported,
		"threshold_fpm":     th.VSExtremeFPM,
	}

	derivedBreach := false
	if hasPrev {
		if derived, ok := derivedRate(prev, cur); ok {
			details["derived_rate_fpm"] = round(derived, 0)
			derivedBreach = math.Abs(derived) >= th.VSChangeFPM
		}
	}

	if !reportedBreach && !derivedBreach {
		return SafetyEvent{}, false
	}

	severity := SeverityWarning
	if reportedBreach && derivedBreach {
		severity = SeverityCritical
	}
	return newSingleEvent(EventExtremeVS, severity, cur, details, now), true
}

func evaluateReversal(h TrackedHistory, th Thresholds, now time.Time) (SafetyEvent, bool) {
	cur, okCur := h.Latest()
	prev, okPrev := h.Previous()
	if !okCur || !okPrev || cur.VerticalRateFPM == nil || prev.VerticalRateFPM == nil {
		return SafetyEvent{}, false
	}

	before := *prev.VerticalRateFPM
	after := *cur.VerticalRateFPM
	if IsReversal(before, after, th.VSReversalNoiseFloor) {
		return newSingleEvent(EventVSReversal, SeverityWarning, cur, map[string]float64{
			"previous_rate_fpm": float64(before),
			"current_rate_fpm":  float64(after),
			"noise_floor_fpm":   th.VSReversalNoiseFloor,
		}, now), true
	}
	return SafetyEvent{}, false
}

// IsReversal reports whether two consecutive rates have strictly opposite signs and at
// least one magnitude exceeds the noise floor.
func IsReversal(before, after int, noiseFloor float64) bool {
	if (before > 0 && after < 0) || (before < 0 && after > 0) {
		return math.Max(math.Abs(float64(before)), math.Abs(float64(after))) > noiseFloor
	}
	return false
}

// derivedRate computes the climb/descent rate in fpm from two altitude samples
func derivedRate(prev, cur AircraftState) (float64, bool) {
	if prev.AltBaroFt == nil || cur.AltBaroFt == nil {
		return 0, false
	}
	elapsed := cur.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return 0, false
	}
	return float64(*cur.AltBaroFt-*prev.AltBaroFt) / elapsed.Minutes(), true
}
