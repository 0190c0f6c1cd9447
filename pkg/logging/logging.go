// Package logging builds the zerolog loggers used by devorch and its
// tool providers.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures New. Zero values mean info level, console format,
// written to stderr.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New returns a logger with timestamps at the requested level. An
// unrecognized level or format is an error rather than a silent fallback.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want %s or %s)", opts.Format, FormatConsole, FormatJSON)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
