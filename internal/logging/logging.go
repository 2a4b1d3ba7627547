// Package logging carries a slog.Logger through context.Context and builds
// the process logger from the RXSIM_LOG environment variable.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LevelEnvVar overrides the configured log level when set.
const LevelEnvVar = "RXSIM_LOG"

// key is an unexported type to prevent collisions with context keys from other packages.
type key struct{}

var loggerKey = key{}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. Engine code runs
// inside tests and batch workers that never install one, so a missing
// logger yields a discarding logger instead of a panic.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return discard
}

// New builds a text logger writing to w. The RXSIM_LOG variable, when set,
// takes precedence over level.
func New(w io.Writer, level slog.Level) (*slog.Logger, error) {
	if v, ok := os.LookupEnv(LevelEnvVar); ok {
		parsed, err := ParseLevel(v)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// ParseLevel accepts a level name (DEBUG, INFO, WARN, ERROR) or an integer.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n), nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%s contains an invalid value %q: must be one of DEBUG, INFO, WARN, ERROR or an integer", LevelEnvVar, s)
	}
	return lvl, nil
}
