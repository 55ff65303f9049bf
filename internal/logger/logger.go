package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the process-wide logger. It discards output until Init is called.
	Logger = zerolog.Nop()
)

// Init configures the global logger. pretty switches to a human readable
// console writer for local runs.
func Init(level string, pretty bool) {
	InitWithWriter(level, pretty, os.Stdout)
}

func InitWithWriter(level string, pretty bool, out io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	output := out
	if pretty {
		output = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()

	Logger.Info().
		Str("level", logLevel.String()).
		Msg("logger initialized")
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithItem returns a component logger scoped to one tracked item
func WithItem(component, itemID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("item_id", itemID).Logger()
}
