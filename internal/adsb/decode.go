package adsb

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/yegors/co-atc-safety/internal/safety"
)

// ErrInvalidPayload is returned when a feed body is not a JSON object
var ErrInvalidPayload = errors.New("invalid aircraft payload")

// Snapshot is one decoded feed response
type Snapshot struct {
	Now      time.Time
	Messages int64
	Aircraft []safety.AircraftState
}

// DecodeAircraftJSON parses a readsb/tar1090 aircraft.json body or the external API
// shape (records under "ac"). fallbackNow is used when the body carries no "now".
// Records without a hex are dropped; unusable fields are left absent.
func DecodeAircraftJSON(body []byte, fallbackNow time.Time) (Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return Snapshot{}, ErrInvalidPayload
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Snapshot{}, ErrInvalidPayload
	}

	snap := Snapshot{
		Now:      fallbackNow,
		Messages: root.Get("messages").Int(),
	}
	if now := root.Get("now"); now.Type == gjson.Number {
		snap.Now = epoch(now.Float())
	}

	records := root.Get("aircraft")
	if !records.Exists() {
		records = root.Get("ac")
	}

	records.ForEach(func(_, rec gjson.Result) bool {
		if state, ok := decodeRecord(rec, snap.Now); ok {
			snap.Aircraft = append(snap.Aircraft, state)
		}
		return true
	})

	return snap, nil
}

func decodeRecord(rec gjson.Result, now time.Time) (safety.AircraftState, bool) {
	hex := strings.ToLower(strings.TrimSpace(rec.Get("hex").String()))
	if hex == "" {
		return safety.AircraftState{}, false
	}

	state := safety.AircraftState{
		Hex:       hex,
		Callsign:  safety.NormalizeCallsign(rec.Get("flight").String()),
		Squawk:    squawk(rec.Get("squawk")),
		Timestamp: now,
	}

	if seen := rec.Get("seen"); seen.Type == gjson.Number && seen.Float() > 0 {
		state.Timestamp = now.Add(-time.Duration(seen.Float() * float64(time.Second)))
	}

	state.Lat = number(rec.Get("lat"))
	state.Lon = number(rec.Get("lon"))
	state.GroundSpeedKt = number(rec.Get("gs"))
	state.TrackDeg = number(rec.Get("track"))
	state.AltBaroFt = altitude(rec.Get("alt_baro"))

	state.VerticalRateFPM = integer(rec.Get("baro_rate"))
	if state.VerticalRateFPM == nil {
		state.VerticalRateFPM = integer(rec.Get("geom_rate"))
	}

	return state, true
}

// epoch converts feed time (seconds, or milliseconds in the external API) to time.Time
func epoch(v float64) time.Time {
	if v > 1e11 {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func number(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}
	return safety.Float(r.Float())
}

func integer(r gjson.Result) *int {
	if r.Type != gjson.Number {
		return nil
	}
	return safety.Int(int(math.Round(r.Float())))
}

// altitude accepts a number or the literal "ground"
func altitude(r gjson.Result) *int {
	switch r.Type {
	case gjson.Number:
		return integer(r)
	case gjson.String:
		if strings.EqualFold(r.String(), "ground") {
			return safety.Int(0)
		}
	}
	return nil
}

// squawk keeps only well-formed four digit octal codes
func squawk(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	code := strings.TrimSpace(r.String())
	if len(code) != 4 {
		return ""
	}
	for _, c := range code {
		if c < '0' || c > '7' {
			return ""
		}
	}
	return code
}
