package sqlite

import (
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
)

// EventRecord represents a stored safety event
type EventRecord struct {
	ID                int64                 `json:"id"`
	EventID           string                `json:"event_id"`
	EventType         string                `json:"event_type"`
	SubKind           string                `json:"sub_kind,omitempty"`
	Severity          string                `json:"severity"`
	PrimaryHex        string                `json:"primary_hex"`
	PrimaryCallsign   string                `json:"primary_callsign,omitempty"`
	SecondaryHex      string                `json:"secondary_hex,omitempty"`
	SecondaryCallsign string                `json:"secondary_callsign,omitempty"`
	DedupKey          string                `json:"dedup_key"`
	Details           map[string]float64    `json:"details"`
	Snapshot          *safety.AircraftState `json:"snapshot,omitempty"`
	Snapshot2         *safety.AircraftState `json:"snapshot_2,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
	CreatedAt         time.Time             `json:"created_at"`
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Type  string
	Hex   string
	Limit int
}
