package safety

import (
	"math"
	"testing"
)

func TestHaversine(t *testing.T) {
	// One degree of latitude is sixty nautical miles
	if d := Haversine(47.0, -122.0, 48.0, -122.0); math.Abs(d-60.0) > 0.1 {
		t.Errorf("one degree = %.3f nm", d)
	}
	if d := Haversine(47.0, -122.0, 47.0, -122.0); d != 0 {
		t.Errorf("same point = %v", d)
	}
	ab := Haversine(47.9377, -121.9687, 47.9450, -121.9600)
	ba := Haversine(47.9450, -121.9600, 47.9377, -121.9687)
	if ab != ba {
		t.Errorf("not symmetric: %v vs %v", ab, ba)
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"north", 47, -122, 48, -122, 0},
		{"east", 0, 0, 0, 1, 90},
		{"south", 48, -122, 47, -122, 180},
		{"west", 0, 1, 0, 0, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Bearing(tt.lat1, tt.lon1, tt.lat2, tt.lon2); math.Abs(got-tt.want) > 0.01 {
				t.Errorf("got %.2f, want %.2f", got, tt.want)
			}
		})
	}
}
