package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Global logger instance
	Logger zerolog.Logger
)

// Initialize sets up the global logger writing human-readable lines to stdout.
func Initialize(logLevel string) {
	InitializeWithWriter(logLevel, zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    false,
	})
}

// InitializeWithWriter sets up the global logger on an arbitrary writer (JSON lines
// when w is not a ConsoleWriter).
func InitializeWithWriter(logLevel string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	Logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(ParseLevel(logLevel))

	// Replace standard log with zerolog
	log.Logger = Logger
}

// ParseLevel maps a configuration string onto a zerolog level, defaulting to info.
func ParseLevel(logLevel string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &Logger
}

// GetForComponent returns a logger with a component field for better filtering
func GetForComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
