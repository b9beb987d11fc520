package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nthuku/mailpacer-backend/internal/config"
)

// New builds the process-wide logger. Console output is human readable for
// local runs; otherwise plain JSON to stderr.
func New(cfg config.LoggerConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Console {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}
