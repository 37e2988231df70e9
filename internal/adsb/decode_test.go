package adsb

import (
	"errors"
	"testing"
	"time"
)

var fallback = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const readsbBody = `{
  "now": 1748779200.5,
  "messages": 123456,
  "aircraft": [
    {"hex": "A1B2C3", "flight": "DAL404  ", "alt_baro": 35000, "baro_rate": -64, "gs": 451.2, "track": 87.3,
     "lat": 47.9377, "lon": -121.9687, "squawk": "7700", "seen": 0.5},
    {"hex": "b2c3d4", "alt_baro": "ground", "geom_rate": 128, "lat": 47.4, "lon": -122.3, "squawk": "12A4"},
    {"hex": "c3d4e5", "alt_baro": "unknown", "squawk": "7600"},
    {"flight": "NOHEX1", "alt_baro": 12000},
    {"hex": "d4e5f6", "flight": "   ", "squawk": "8000"}
  ]
}`

func TestDecodeReadsb(t *testing.T) {
	snap, err := DecodeAircraftJSON([]byte(readsbBody), fallback)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if want := time.Unix(1748779200, 500000000).UTC(); !snap.Now.Equal(want) {
		t.Errorf("now = %v, want %v", snap.Now, want)
	}
	if snap.Messages != 123456 {
		t.Errorf("messages = %d", snap.Messages)
	}
	if len(snap.Aircraft) != 4 {
		t.Fatalf("got %d aircraft, want 4 (record without hex dropped)", len(snap.Aircraft))
	}

	a := snap.Aircraft[0]
	if a.Hex != "a1b2c3" || a.Callsign != "DAL404" || a.Squawk != "7700" {
		t.Errorf("identity = %q %q %q", a.Hex, a.Callsign, a.Squawk)
	}
	if a.AltBaroFt == nil || *a.AltBaroFt != 35000 {
		t.Errorf("altitude = %v", a.AltBaroFt)
	}
	if a.VerticalRateFPM == nil || *a.VerticalRateFPM != -64 {
		t.Errorf("vertical rate = %v", a.VerticalRateFPM)
	}
	if !a.HasPosition() || !a.HasVelocity() {
		t.Error("position or velocity missing")
	}
	if !a.Timestamp.Equal(time.Unix(1748779200, 0).UTC()) {
		t.Errorf("timestamp = %v, want now minus seen", a.Timestamp)
	}

	b := snap.Aircraft[1]
	if b.AltBaroFt == nil || *b.AltBaroFt != 0 {
		t.Errorf("ground altitude = %v, want 0", b.AltBaroFt)
	}
	if b.VerticalRateFPM == nil || *b.VerticalRateFPM != 128 {
		t.Errorf("geom_rate fallback = %v", b.VerticalRateFPM)
	}
	if b.Squawk != "" {
		t.Errorf("malformed squawk kept: %q", b.Squawk)
	}

	c := snap.Aircraft[2]
	if c.AltBaroFt != nil {
		t.Errorf("unparsable altitude should be absent, got %d", *c.AltBaroFt)
	}
	if c.HasPosition() {
		t.Error("position should be absent")
	}
	if c.Squawk != "7600" {
		t.Errorf("squawk = %q", c.Squawk)
	}

	d := snap.Aircraft[3]
	if d.Callsign != "" || d.Squawk != "" {
		t.Errorf("blank callsign / non-octal squawk kept: %q %q", d.Callsign, d.Squawk)
	}
}

func TestDecodeExternalShape(t *testing.T) {
	body := `{"ac":[{"hex":"abc123","alt_baro":9000,"lat":1,"lon":2}],"now":1748779200000,"msg":"No error"}`

	snap, err := DecodeAircraftJSON([]byte(body), fallback)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Aircraft) != 1 || snap.Aircraft[0].Hex != "abc123" {
		t.Fatalf("aircraft = %+v", snap.Aircraft)
	}
	if !snap.Now.Equal(time.Unix(1748779200, 0).UTC()) {
		t.Errorf("millisecond now decoded as %v", snap.Now)
	}
}

func TestDecodeFallbackNow(t *testing.T) {
	snap, err := DecodeAircraftJSON([]byte(`{"aircraft":[{"hex":"abc123"}]}`), fallback)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Now.Equal(fallback) || !snap.Aircraft[0].Timestamp.Equal(fallback) {
		t.Errorf("now = %v, ts = %v", snap.Now, snap.Aircraft[0].Timestamp)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, body := range []string{`not json`, `[1,2,3]`, ``} {
		if _, err := DecodeAircraftJSON([]byte(body), fallback); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%q: err = %v", body, err)
		}
	}
}

func TestDecodeEmptyAircraftList(t *testing.T) {
	snap, err := DecodeAircraftJSON([]byte(`{"now": 1, "aircraft": []}`), fallback)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Aircraft) != 0 {
		t.Errorf("got %d aircraft", len(snap.Aircraft))
	}
}
