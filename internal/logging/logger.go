// Package logging builds the zap loggers used across tagquery.
// Logs always go to stderr (or a caller-supplied writer) so that standard
// output stays reserved for the CSV report.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names the subsystem a log line comes from.
type Category string

const (
	CategoryBoot    Category = "boot"    // CLI startup, config resolution
	CategoryStore   Category = "store"   // SQLite session and queries
	CategoryQuery   Category = "query"   // Filter composition
	CategoryExtract Category = "extract" // Fragment parsing and slicing
	CategoryReport  Category = "report"  // CSV rendering
	CategoryOutput  Category = "output"  // Sinks, backups, provenance log
)

// Formats accepted by Options.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New.
type Options struct {
	// Verbosity follows the CLI flag: 0 quiet, 1 normal, 2+ debug.
	Verbosity int
	// Format is "console" (default) or "json".
	Format string
	// Writer overrides the destination. Defaults to os.Stderr.
	Writer io.Writer
}

// LevelFor maps a CLI verbosity to a zap level.
func LevelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a logger for the given options.
func New(opts Options) (*zap.Logger, error) {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	switch opts.Format {
	case "", FormatConsole:
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zap.NewAtomicLevelAt(LevelFor(opts.Verbosity)))
	return zap.New(core, zap.AddCaller()), nil
}

// Named returns the child logger for a category. A nil parent yields a no-op logger.
func Named(l *zap.Logger, c Category) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.Named(string(c))
}

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	log   *zap.Logger
	op    string
	start time.Time
}

// StartTimer begins timing an operation.
func StartTimer(l *zap.Logger, operation string) *Timer {
	if l == nil {
		l = zap.NewNop()
	}
	return &Timer{log: l, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.log.Debug("operation completed", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}
