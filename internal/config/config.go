package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Config is the root of config.toml
type Config struct {
	Logging       logger.Config       `toml:"logging"`
	Server        ServerConfig        `toml:"server"`
	Detection     DetectionConfig     `toml:"detection"`
	Feed          FeedConfig          `toml:"feed"`
	Dispatch      DispatchConfig      `toml:"dispatch"`
	Storage       StorageConfig       `toml:"storage"`
	Notifications NotificationsConfig `toml:"notifications"`
	Broadcast     BroadcastConfig     `toml:"broadcast"`
}

// ServerConfig represents the HTTP API configuration
type ServerConfig struct {
	ListenAddress      string   `toml:"listen_address"`
	MaxConnections     int      `toml:"max_connections"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// DetectionConfig represents the detection engine configuration
type DetectionConfig struct {
	Enabled                bool             `toml:"enabled"`
	PollingIntervalSeconds int              `toml:"polling_interval_seconds"`
	HistoryDepth           int              `toml:"history_depth"`
	StaleAfterSeconds      int              `toml:"stale_after_seconds"`
	LedgerRetentionWindows int              `toml:"ledger_retention_windows"`
	Thresholds             ThresholdsConfig `toml:"thresholds"`
	Cooldowns              CooldownsConfig  `toml:"cooldowns"`
}

// ThresholdsConfig holds the detector limits
type ThresholdsConfig struct {
	ProximityNM             float64 `toml:"proximity_nm"`
	AltitudeDiffFt          float64 `toml:"altitude_diff_ft"`
	ClosureRateKt           float64 `toml:"closure_rate_kt"`
	VSChangeThresholdFPM    float64 `toml:"vs_change_threshold_fpm"`
	VSExtremeThresholdFPM   float64 `toml:"vs_extreme_threshold_fpm"`
	VSReversalNoiseFloorFPM float64 `toml:"vs_reversal_noise_floor_fpm"`
	TCASVSThresholdFPM      float64 `toml:"tcas_vs_threshold_fpm"`
}

// CooldownsConfig holds the cooldown windows in seconds. A per-type entry that is
// set, including an explicit 0, replaces the default for that type; 0 admits every
// repeat on the next tick.
type CooldownsConfig struct {
	DefaultSeconds           int  `toml:"default_seconds"`
	ProximityConflictSeconds *int `toml:"proximity_conflict_seconds"`
	TCASRASeconds            *int `toml:"tcas_ra_seconds"`
	TCASTASeconds            *int `toml:"tcas_ta_seconds"`
	ExtremeVSSeconds         *int `toml:"extreme_vs_seconds"`
	VSReversalSeconds        *int `toml:"vs_reversal_seconds"`
	EmergencySquawkSeconds   *int `toml:"emergency_squawk_seconds"`
}

// PerType maps each event type to its configured window. Unset types are absent.
func (c CooldownsConfig) PerType() map[safety.EventType]*int {
	return map[safety.EventType]*int{
		safety.EventProximityConflict: c.ProximityConflictSeconds,
		safety.EventTCASRA:            c.TCASRASeconds,
		safety.EventTCASTA:            c.TCASTASeconds,
		safety.EventExtremeVS:         c.ExtremeVSSeconds,
		safety.EventVSReversal:        c.VSReversalSeconds,
		safety.EventEmergencySquawk:   c.EmergencySquawkSeconds,
	}
}

// SourceConfig describes one snapshot feed
type SourceConfig struct {
	Name    string            `toml:"name"`
	Type    string            `toml:"type"` // http, file or simulator
	URL     string            `toml:"url"`
	Path    string            `toml:"path"`
	Headers map[string]string `toml:"headers"`

	// Simulator only
	CenterLat       float64 `toml:"center_lat"`
	CenterLon       float64 `toml:"center_lon"`
	ConvergingPair  bool    `toml:"converging_pair"`
	EmergencySquawk string  `toml:"emergency_squawk"`
}

// FeedConfig represents the snapshot ingestion configuration
type FeedConfig struct {
	Sources               []SourceConfig `toml:"sources"`
	RequestTimeoutSeconds int            `toml:"request_timeout_seconds"`
}

// DispatchConfig sizes the per-sink queues
type DispatchConfig struct {
	QueueSize          int `toml:"queue_size"`
	SinkTimeoutSeconds int `toml:"sink_timeout_seconds"`
}

// StorageConfig represents the event persistence configuration
type StorageConfig struct {
	Enabled    bool   `toml:"enabled"`
	SQLitePath string `toml:"sqlite_path"`
}

// OpenAIConfig configures the optional narration model
type OpenAIConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

// NotificationsConfig represents the notification sink configuration
type NotificationsConfig struct {
	Enabled          bool         `toml:"enabled"`
	MinSeverity      string       `toml:"min_severity"`
	RateLimitSeconds int          `toml:"rate_limit_seconds"`
	RedisAddr        string       `toml:"redis_addr"`
	RedisPassword    string       `toml:"redis_password"`
	CriticalWebhooks []string     `toml:"critical_webhooks"`
	WarningWebhooks  []string     `toml:"warning_webhooks"`
	OpenAI           OpenAIConfig `toml:"openai"`
}

// BroadcastConfig represents the realtime push configuration
type BroadcastConfig struct {
	WebSocketEnabled  bool   `toml:"websocket_enabled"`
	NATSURL           string `toml:"nats_url"`
	NATSSubjectPrefix string `toml:"nats_subject_prefix"`
}

// DefaultConfig returns a configuration that runs against a local readsb instance
func DefaultConfig() *Config {
	engine := safety.DefaultConfig()
	th := engine.Thresholds

	return &Config{
		Logging: logger.Config{Level: "info", Format: "console"},
		Server: ServerConfig{
			ListenAddress:      ":8080",
			MaxConnections:     256,
			CORSAllowedOrigins: []string{"*"},
		},
		Detection: DetectionConfig{
			Enabled:                true,
			PollingIntervalSeconds: 5,
			HistoryDepth:           engine.HistoryDepth,
			StaleAfterSeconds:      int(engine.StaleAfter / time.Second),
			LedgerRetentionWindows: engine.LedgerRetention,
			Thresholds: ThresholdsConfig{
				ProximityNM:             th.ProximityNM,
				AltitudeDiffFt:          th.AltitudeDiffFt,
				ClosureRateKt:           th.ClosureRateKt,
				VSChangeThresholdFPM:    th.VSChangeFPM,
				VSExtremeThresholdFPM:   th.VSExtremeFPM,
				VSReversalNoiseFloorFPM: th.VSReversalNoiseFloor,
				TCASVSThresholdFPM:      th.TCASVSFPM,
			},
			Cooldowns: CooldownsConfig{
				DefaultSeconds:           300,
				ProximityConflictSeconds: intPtr(300),
				TCASRASeconds:            intPtr(120),
				TCASTASeconds:            intPtr(120),
				ExtremeVSSeconds:         intPtr(300),
				VSReversalSeconds:        intPtr(300),
				EmergencySquawkSeconds:   intPtr(60),
			},
		},
		Feed: FeedConfig{
			Sources: []SourceConfig{
				{Name: "local", Type: "http", URL: "http://localhost:8078/data/aircraft.json"},
			},
			RequestTimeoutSeconds: 3,
		},
		Dispatch: DispatchConfig{
			QueueSize:          256,
			SinkTimeoutSeconds: 10,
		},
		Storage: StorageConfig{
			Enabled:    true,
			SQLitePath: "data/safety.db",
		},
		Notifications: NotificationsConfig{
			Enabled:          false,
			MinSeverity:      string(safety.SeverityWarning),
			RateLimitSeconds: 30,
			OpenAI:           OpenAIConfig{Model: "gpt-4o-mini"},
		},
		Broadcast: BroadcastConfig{
			WebSocketEnabled:  true,
			NATSSubjectPrefix: "safety.events",
		},
	}
}

// Load reads a TOML file over the defaults and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Notifications.OpenAI.APIKey = key
	}
	if pw := os.Getenv("SAFETY_REDIS_PASSWORD"); pw != "" {
		c.Notifications.RedisPassword = pw
	}
}

// Validate checks the parts of the configuration the engine does not check itself
func (c *Config) Validate() error {
	var errs []error

	if c.Detection.PollingIntervalSeconds <= 0 {
		errs = append(errs, errors.New("detection.polling_interval_seconds must be > 0"))
	}
	if c.Feed.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("feed.request_timeout_seconds must be > 0"))
	}
	for i, src := range c.Feed.Sources {
		switch src.Type {
		case "http":
			if src.URL == "" {
				errs = append(errs, fmt.Errorf("feed.sources[%d] (%s): url is required", i, src.Name))
			}
		case "file":
			if src.Path == "" {
				errs = append(errs, fmt.Errorf("feed.sources[%d] (%s): path is required", i, src.Name))
			}
		case "simulator":
			if src.CenterLat < -90 || src.CenterLat > 90 || src.CenterLon < -180 || src.CenterLon > 180 {
				errs = append(errs, fmt.Errorf("feed.sources[%d] (%s): center is out of range", i, src.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("feed.sources[%d] (%s): unknown type %q", i, src.Name, src.Type))
		}
	}
	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required when storage is enabled"))
	}
	if c.Notifications.Enabled {
		if _, err := parseSeverity(c.Notifications.MinSeverity); err != nil {
			errs = append(errs, err)
		}
		if c.Notifications.OpenAI.Enabled && c.Notifications.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("notifications.openai.api_key (or OPENAI_API_KEY) is required when openai is enabled"))
		}
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.EngineConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// EngineConfig converts the detection section into the engine configuration
func (c *Config) EngineConfig() safety.Config {
	d := c.Detection
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }

	cooldowns := make(map[safety.EventType]time.Duration)
	for t, secs := range d.Cooldowns.PerType() {
		if secs != nil {
			cooldowns[t] = seconds(*secs)
		}
	}

	return safety.Config{
		Thresholds: safety.Thresholds{
			ProximityNM:          d.Thresholds.ProximityNM,
			AltitudeDiffFt:       d.Thresholds.AltitudeDiffFt,
			ClosureRateKt:        d.Thresholds.ClosureRateKt,
			VSChangeFPM:          d.Thresholds.VSChangeThresholdFPM,
			VSExtremeFPM:         d.Thresholds.VSExtremeThresholdFPM,
			VSReversalNoiseFloor: d.Thresholds.VSReversalNoiseFloorFPM,
			TCASVSFPM:            d.Thresholds.TCASVSThresholdFPM,
		},
		DefaultCooldown: seconds(d.Cooldowns.DefaultSeconds),
		Cooldowns:       cooldowns,
		HistoryDepth:    d.HistoryDepth,
		StaleAfter:      seconds(d.StaleAfterSeconds),
		LedgerRetention: d.LedgerRetentionWindows,
	}
}

// PollingInterval returns the tick interval
func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.Detection.PollingIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-fetch timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Feed.RequestTimeoutSeconds) * time.Second
}

// MinSeverity returns the parsed notification floor
func (c *Config) MinSeverity() safety.Severity {
	sev, err := parseSeverity(c.Notifications.MinSeverity)
	if err != nil {
		return safety.SeverityWarning
	}
	return sev
}

func intPtr(n int) *int { return &n }

func parseSeverity(s string) (safety.Severity, error) {
	switch sev := safety.Severity(strings.ToLower(s)); sev {
	case safety.SeverityInfo, safety.SeverityWarning, safety.SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}
