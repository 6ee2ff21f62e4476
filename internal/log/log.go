// Package log provides structured, colored logging for the posnet
// simulator (§AMBIENT STACK "Logging"). Unlike the teacher's global
// named component loggers, every posnet component asks for its own
// scoped logger (WithComponent/WithNodeID) and carries it in a struct
// field — there's no ambient Logger reached into from arbitrary call
// sites.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// base is the process-wide logger every scoped logger is derived from.
var base zerolog.Logger

func init() {
	base = NewConsoleLogger(os.Stdout, "info")
}

// Init configures the base logger from CLI/config settings. When file is
// non-empty, logs go to both the console (colored or JSON depending on
// jsonOutput) and the file (always JSON, for machine parsing).
func Init(level string, jsonOutput bool, file string) error {
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}

		var consoleWriter io.Writer
		if jsonOutput {
			consoleWriter = os.Stdout
		} else {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: "15:04:05",
			}
		}

		multi := zerolog.MultiLevelWriter(consoleWriter, f)
		base = zerolog.New(multi).
			Level(parseLevel(level)).
			With().
			Timestamp().
			Logger()
		return nil
	}

	if jsonOutput {
		base = NewJSONLogger(os.Stdout, level)
	} else {
		base = NewConsoleLogger(os.Stdout, level)
	}
	return nil
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a logger tagged with a "component" field — the
// relay, the observer, a scenario driver, and each admin CLI all get
// their own instance rather than sharing a package-global one.
func WithComponent(name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// WithNodeID returns a logger tagged with a "node_id" field, identifying
// which simulated participant emitted the log line.
func WithNodeID(nodeID string) zerolog.Logger {
	return base.With().Str("node_id", nodeID).Logger()
}
