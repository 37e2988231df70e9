package safety

import (
	"sort"
	"time"
)

// TrackedHistory is the recent sample window of one aircraft
type TrackedHistory struct {
	Hex      string
	Samples  []AircraftState // oldest first
	LastSeen time.Time
}

// Latest returns the most recent sample
func (h TrackedHistory) Latest() (AircraftState, bool) {
	if len(h.Samples) == 0 {
		return AircraftState{}, false
	}
	return h.Samples[len(h.Samples)-1], true
}

// Previous returns the sample before the most recent one
func (h TrackedHistory) Previous() (AircraftState, bool) {
	if len(h.Samples) < 2 {
		return AircraftState{}, false
	}
	return h.Samples[len(h.Samples)-2], true
}

func (h *TrackedHistory) copy() TrackedHistory {
	c := TrackedHistory{Hex: h.Hex, LastSeen: h.LastSeen, Samples: make([]AircraftState, len(h.Samples))}
	for i, s := range h.Samples {
		c.Samples[i] = s.Clone()
	}
	return c
}

// Tracker owns per-aircraft history. It is the only writer of that state.
type Tracker struct {
	depth      int
	staleAfter time.Duration
	histories  map[string]*TrackedHistory
}

// NewTracker creates a tracker keeping the last depth samples per aircraft
func NewTracker(depth int, staleAfter time.Duration) *Tracker {
	if depth < 1 {
		depth = 1
	}
	return &Tracker{
		depth:      depth,
		staleAfter: staleAfter,
		histories:  make(map[string]*TrackedHistory),
	}
}

// Update appends the batch to the per-aircraft histories and returns copies of
// the histories that received a new sample.
func (t *Tracker) Update(batch []AircraftState) map[string]TrackedHistory {
	touched := make(map[string]TrackedHistory, len(batch))

	for _, state := range batch {
		if state.Hex == "" {
			continue
		}

		h, exists := t.histories[state.Hex]
		if !exists {
			h = &TrackedHistory{Hex: state.Hex}
			t.histories[state.Hex] = h
		} else if latest, ok := h.Latest(); ok {
			// Duplicate or out-of-order record: nothing new to learn
			if !state.Timestamp.After(latest.Timestamp) {
				continue
			}
			// A long gap means the old samples describe a different situation
			if t.staleAfter > 0 && state.Timestamp.Sub(h.LastSeen) > t.staleAfter {
				h.Samples = h.Samples[:0]
			}
		}

		h.Samples = append(h.Samples, state.Clone())
		if len(h.Samples) > t.depth {
			h.Samples = append(h.Samples[:0], h.Samples[len(h.Samples)-t.depth:]...)
		}
		h.LastSeen = state.Timestamp

		touched[state.Hex] = h.copy()
	}

	return touched
}

// EvictStale removes histories not refreshed within maxAge and returns their hexes in sorted order
func (t *Tracker) EvictStale(now time.Time, maxAge time.Duration) []string {
	var evicted []string
	for hex, h := range t.histories {
		if now.Sub(h.LastSeen) > maxAge {
			delete(t.histories, hex)
			evicted = append(evicted, hex)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Get returns a copy of the history for hex
func (t *Tracker) Get(hex string) (TrackedHistory, bool) {
	h, ok := t.histories[hex]
	if !ok {
		return TrackedHistory{}, false
	}
	return h.copy(), true
}

// Len returns the number of tracked aircraft
func (t *Tracker) Len() int {
	return len(t.histories)
}
