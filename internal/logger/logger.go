package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. Level names are written to "severity" so
// Cloud Logging picks them up.
func New() zerolog.Logger {
	return NewWithOptions(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"), os.Stderr)
}

func NewWithOptions(env, level string, out io.Writer) zerolog.Logger {
	zerolog.LevelFieldName = "severity"
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}
