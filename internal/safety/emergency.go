package safety

import (
	"strconv"
	"time"
)

type emergencyCode struct {
	kind     EmergencyKind
	severity Severity
}

var emergencyCodes = map[string]emergencyCode{
	"7500": {EmergencyHijack, SeverityCritical},
	"7600": {EmergencyRadioFailure, SeverityWarning},
	"7700": {EmergencyGeneral, SeverityCritical},
}

// ClassifySquawk maps a reserved emergency code to its kind and severity
func ClassifySquawk(squawk string) (EmergencyKind, Severity, bool) {
	code, ok := emergencyCodes[squawk]
	if !ok {
		return "", "", false
	}
	return code.kind, code.severity, true
}

// DetectEmergencies emits one event per aircraft in the batch squawking 7500, 7600 or 7700.
// A hex appearing twice is judged on its latest record.
func DetectEmergencies(batch []AircraftState, now time.Time, guard Guard) []SafetyEvent {
	if guard == nil {
		guard = runDirect
	}

	states := latestByHex(batch, func(s AircraftState) bool { return s.Squawk != "" })

	var events []SafetyEvent
	for _, s := range states {
		guard("emergency_squawk", s.Hex, func() {
			kind, severity, ok := ClassifySquawk(s.Squawk)
			if !ok {
				return
			}
			code, _ := strconv.Atoi(s.Squawk)
			ev := newSingleEvent(EventEmergencySquawk, severity, s, map[string]float64{
				"squawk": float64(code),
			}, now)
			ev.SubKind = string(kind)
			events = append(events, ev)
		})
	}
	return events
}
