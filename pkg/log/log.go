package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger. Components derive child loggers from it via
// the With helpers below.
var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level Level
	// Pretty switches from JSON to human-readable console output
	Pretty bool
	Output io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithNodeID creates a child logger with node_id field
func WithNodeID(nodeID string) *zerolog.Logger {
	l := Logger.With().Str("node_id", nodeID).Logger()
	return &l
}

// WithService creates a child logger with service field
func WithService(name string) *zerolog.Logger {
	l := Logger.With().Str("service", name).Logger()
	return &l
}

// WithTaskID creates a child logger with task_id field
func WithTaskID(taskID string) *zerolog.Logger {
	l := Logger.With().Str("task_id", taskID).Logger()
	return &l
}
