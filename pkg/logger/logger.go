package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured log field
type Field = zapcore.Field

// Field constructors re-exported so callers only import this package
var (
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int64    = zap.Int64
	Uint64   = zap.Uint64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Time     = zap.Time
	Duration = zap.Duration
	Error    = zap.Error
	Any      = zap.Any
)

// Hex is the aircraft identity field
func Hex(hex string) Field {
	return zap.String("hex", hex)
}

// Callsign is omitted when empty
func Callsign(callsign string) Field {
	if callsign == "" {
		return zap.Skip()
	}
	return zap.String("callsign", callsign)
}

// Rule names the detector or event type a log line is about
func Rule(rule string) Field {
	return zap.String("rule", rule)
}

// Sink names an event sink
func Sink(name string) Field {
	return zap.String("sink", name)
}

// Source names a feed source
func Source(name string) Field {
	return zap.String("source", name)
}

// Logger wraps zap.Logger so components can derive named children
type Logger struct {
	*zap.Logger
}

// Config represents logger configuration
type Config struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, console

	// Sampling thins repeated messages within one second. Per-tick debug
	// output from a busy feed is the main producer.
	Sampling bool `toml:"sampling"`

	Output io.Writer `toml:"-"` // stdout when nil
}

const nameWidth = 15

// componentNameEncoder prints only the last segment of a dotted logger name, padded for console columns
func componentNameEncoder(loggerName string, enc zapcore.PrimitiveArrayEncoder) {
	name := loggerName
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > nameWidth {
		name = name[:nameWidth]
	}
	enc.AppendString(fmt.Sprintf("%-*s", nameWidth, name))
}

// New creates a logger from the configuration
func New(config Config) (*Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	debug := level == zapcore.DebugLevel

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.NameKey = "logger"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if !debug {
		encoderConfig.CallerKey = zapcore.OmitKey
	}

	var encoder zapcore.Encoder
	switch config.Format {
	case "json", "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeName = componentNameEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	if config.Sampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if debug {
		opts = append(opts, zap.AddCaller())
	}

	return &Logger{Logger: zap.New(core, opts...)}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "", "warn", "error":
		return zapcore.ParseLevel(strings.ToLower(level))
	}
	return zapcore.InfoLevel, fmt.Errorf("unsupported log level: %s", level)
}

// With returns a logger with the given fields
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named returns a child logger for a component
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// WithRequestID returns a logger with the request ID field
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(zap.String("request_id", requestID))
}

// WithAircraft scopes a logger to one aircraft
func (l *Logger) WithAircraft(hex, callsign string) *Logger {
	return l.With(Hex(hex), Callsign(callsign))
}
