package infra

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger aliases zerolog.Logger so packages can accept the service logger
// without importing zerolog themselves.
type Logger = zerolog.Logger

// NewLogger constructs the service logger writing to stdout.
func NewLogger(appEnv string) zerolog.Logger {
	return NewLoggerTo(appEnv, os.Stdout)
}

// NewLoggerTo builds a logger on w. Development gets debug level and the
// console writer, coloured only when w is a terminal.
func NewLoggerTo(appEnv string, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(w),
		})
	}

	return logger
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
