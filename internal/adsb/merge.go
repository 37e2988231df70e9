package adsb

import (
	"sort"

	"github.com/yegors/co-atc-safety/internal/safety"
)

// Merge combines batches from several receivers into one logical batch,
// keeping the most recent sample per hex. The result is sorted by hex.
func Merge(batches ...[]safety.AircraftState) []safety.AircraftState {
	byHex := make(map[string]safety.AircraftState)
	for _, batch := range batches {
		for _, s := range batch {
			if s.Hex == "" {
				continue
			}
			if cur, ok := byHex[s.Hex]; ok && !s.Timestamp.After(cur.Timestamp) {
				continue
			}
			byHex[s.Hex] = s
		}
	}

	merged := make([]safety.AircraftState, 0, len(byHex))
	for _, s := range byHex {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Hex < merged[j].Hex })
	return merged
}
