package safety

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration validation failure
var ErrInvalidConfig = errors.New("invalid safety configuration")

// Thresholds holds the detector limits. Rates are in feet per minute.
type Thresholds struct {
	ProximityNM          float64
	AltitudeDiffFt       float64
	ClosureRateKt        float64
	VSChangeFPM          float64
	VSExtremeFPM         float64
	VSReversalNoiseFloor float64
	TCASVSFPM            float64
}

// Config is passed to the engine at construction
type Config struct {
	Thresholds Thresholds

	DefaultCooldown time.Duration
	Cooldowns       map[EventType]time.Duration

	HistoryDepth int
	StaleAfter   time.Duration

	// LedgerRetention is how many cooldown windows a ledger entry survives before pruning
	LedgerRetention int
}

// DefaultConfig returns thresholds suitable for a single terminal-area receiver
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			ProximityNM:          1.0,
			AltitudeDiffFt:       1000,
			ClosureRateKt:        300,
			VSChangeFPM:          6000,
			VSExtremeFPM:         4500,
			VSReversalNoiseFloor: 500,
			TCASVSFPM:            1500,
		},
		DefaultCooldown: 5 * time.Minute,
		Cooldowns: map[EventType]time.Duration{
			EventProximityConflict: 5 * time.Minute,
			EventTCASRA:            2 * time.Minute,
			EventTCASTA:            2 * time.Minute,
			EventExtremeVS:         5 * time.Minute,
			EventVSReversal:        5 * time.Minute,
			EventEmergencySquawk:   time.Minute,
		},
		HistoryDepth:    5,
		StaleAfter:      60 * time.Second,
		LedgerRetention: 4,
	}
}

// Validate checks the configuration for values the engine cannot work with
func (c Config) Validate() error {
	th := c.Thresholds
	checks := []struct {
		name  string
		value float64
	}{
		{"proximity_nm", th.ProximityNM},
		{"altitude_diff_ft", th.AltitudeDiffFt},
		{"closure_rate_kt", th.ClosureRateKt},
		{"vs_change_threshold", th.VSChangeFPM},
		{"vs_extreme_threshold", th.VSExtremeFPM},
		{"tcas_vs_threshold", th.TCASVSFPM},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidConfig, check.name, check.value)
		}
	}
	if th.VSReversalNoiseFloor < 0 {
		return fmt.Errorf("%w: vs reversal noise floor must be >= 0", ErrInvalidConfig)
	}
	if c.HistoryDepth < 2 {
		return fmt.Errorf("%w: history depth must be >= 2, got %d", ErrInvalidConfig, c.HistoryDepth)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("%w: stale_after must be > 0", ErrInvalidConfig)
	}
	if c.DefaultCooldown < 0 {
		return fmt.Errorf("%w: default cooldown must be >= 0", ErrInvalidConfig)
	}
	for t, d := range c.Cooldowns {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown event type %q in cooldowns", ErrInvalidConfig, t)
		}
		if d < 0 {
			return fmt.Errorf("%w: cooldown for %s must be >= 0", ErrInvalidConfig, t)
		}
	}
	if c.LedgerRetention < 1 {
		return fmt.Errorf("%w: ledger retention must be >= 1", ErrInvalidConfig)
	}
	return nil
}
