// Package log provides structured logging built on zerolog, shared by every
// core component.
package log

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error"; default "info"
	Output  io.Writer // default os.Stdout
	Service string    // attached to every log entry; default "transcode-supervisor"
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global logger. Safe to call more than once;
// the most recent call wins.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "transcode-supervisor"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()
	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()
	Configure(Config{})
}

func logger() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Base returns the configured base logger by value.
func Base() zerolog.Logger { return logger() }

// L returns a pointer to a copy of the base logger, for call sites that want
// the *zerolog.Logger signature (e.g. Event chaining).
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger annotated with component, e.g.
// "store", "scanner", "watcher", "encoder", "classifier", "exclusion", "bus".
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// WithContext enriches logger with the job id carried on ctx, if any.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	if jid := JobIDFromContext(ctx); jid != "" {
		return logger.With().Str("job_id", jid).Logger()
	}
	return logger
}

// FromContext returns a component-less logger enriched with any job id
// carried on ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	return WithContext(ctx, logger())
}
