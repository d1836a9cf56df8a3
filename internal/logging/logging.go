package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

// Format selects how log lines are rendered.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// New builds the process logger. Unknown levels fall back to info and
// unknown formats fall back to console output.
func New(out io.Writer, level string, format Format) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	var writer io.Writer = out
	if format != FormatJSON {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: timeFormat,
			NoColor:    true,
		}
	}

	return zerolog.New(writer).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()
}

// ParseLevel maps a textual level onto zerolog levels.
func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
