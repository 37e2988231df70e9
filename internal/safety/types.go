package safety

import (
	"strings"
	"time"
)

// EventType identifies the rule that produced a SafetyEvent
type EventType string

const (
	EventProximityConflict EventType = "proximity_conflict"
	EventTCASRA            EventType = "tcas_ra"
	EventTCASTA            EventType = "tcas_ta"
	EventExtremeVS         EventType = "extreme_vs"
	EventVSReversal        EventType = "vs_reversal"
	EventEmergencySquawk   EventType = "emergency_squawk"
)

// AllEventTypes lists the closed set of event types
var AllEventTypes = []EventType{
	EventProximityConflict,
	EventTCASRA,
	EventTCASTA,
	EventExtremeVS,
	EventVSReversal,
	EventEmergencySquawk,
}

// IsPair reports whether the event type involves two aircraft
func (t EventType) IsPair() bool {
	switch t {
	case EventProximityConflict, EventTCASRA, EventTCASTA:
		return true
	}
	return false
}

// Valid reports whether t belongs to the closed set
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity of a SafetyEvent
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can compare them
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	}
	return 0
}

// EmergencyKind is the sub-kind of an emergency_squawk event
type EmergencyKind string

const (
	EmergencyHijack       EmergencyKind = "hijack"
	EmergencyRadioFailure EmergencyKind = "radio_failure"
	EmergencyGeneral      EmergencyKind = "general_emergency"
)

// AircraftState is one decoded snapshot of one aircraft.
// Optional fields are nil when the feed did not provide a usable value.
type AircraftState struct {
	Hex             string    `json:"icao_hex"`
	Callsign        string    `json:"callsign,omitempty"`
	Lat             *float64  `json:"latitude,omitempty"`
	Lon             *float64  `json:"longitude,omitempty"`
	AltBaroFt       *int      `json:"altitude_baro_ft,omitempty"`
	VerticalRateFPM *int      `json:"vertical_rate_fpm,omitempty"`
	GroundSpeedKt   *float64  `json:"ground_speed_kt,omitempty"`
	TrackDeg        *float64  `json:"track_deg,omitempty"`
	Squawk          string    `json:"squawk,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// HasPosition reports whether both coordinates are present
func (s AircraftState) HasPosition() bool {
	return s.Lat != nil && s.Lon != nil
}

// HasVelocity reports whether ground speed and track are both present
func (s AircraftState) HasVelocity() bool {
	return s.GroundSpeedKt != nil && s.TrackDeg != nil
}

// Clone returns a copy that shares no pointers with s
func (s AircraftState) Clone() AircraftState {
	c := s
	c.Lat = cloneFloat(s.Lat)
	c.Lon = cloneFloat(s.Lon)
	c.GroundSpeedKt = cloneFloat(s.GroundSpeedKt)
	c.TrackDeg = cloneFloat(s.TrackDeg)
	c.AltBaroFt = cloneInt(s.AltBaroFt)
	c.VerticalRateFPM = cloneInt(s.VerticalRateFPM)
	return c
}

// Identity is the identifying snapshot of an aircraft inside an event
type Identity struct {
	Hex      string `json:"icao_hex"`
	Callsign string `json:"callsign,omitempty"`
}

// IdentityOf extracts the identity of a state
func IdentityOf(s AircraftState) Identity {
	return Identity{Hex: s.Hex, Callsign: s.Callsign}
}

// SafetyEvent is the immutable output of a detector
type SafetyEvent struct {
	ID         string             `json:"id"`
	Type       EventType          `json:"event_type"`
	SubKind    string             `json:"sub_kind,omitempty"`
	Severity   Severity           `json:"severity"`
	Primary    Identity           `json:"primary"`
	Secondary  *Identity          `json:"secondary,omitempty"`
	Details    map[string]float64 `json:"details"`
	Snapshot   AircraftState      `json:"snapshot"`
	Snapshot2  *AircraftState     `json:"snapshot_2,omitempty"`
	DedupKey   string             `json:"dedup_key"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Clone returns a deep copy suitable for handing to another goroutine
func (e SafetyEvent) Clone() SafetyEvent {
	c := e
	c.Snapshot = e.Snapshot.Clone()
	if e.Snapshot2 != nil {
		s2 := e.Snapshot2.Clone()
		c.Snapshot2 = &s2
	}
	if e.Secondary != nil {
		id := *e.Secondary
		c.Secondary = &id
	}
	if e.Details != nil {
		c.Details = make(map[string]float64, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return c
}

// SingleKey builds the dedup key of a single-aircraft event
func SingleKey(t EventType, hex string) string {
	return string(t) + ":" + hex
}

// PairKey builds the dedup key of a two-aircraft event; argument order does not matter
func PairKey(t EventType, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return string(t) + ":" + a + ":" + b
}

// NormalizeCallsign trims padding; a blank callsign becomes empty
func NormalizeCallsign(callsign string) string {
	return strings.TrimSpace(strings.ReplaceAll(callsign, "\x00", ""))
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int) *int {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
