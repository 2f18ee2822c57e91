// Package logger configures the process-wide structured logger.
//
// Console output is human-readable in dev, JSON otherwise. Components take a
// zerolog.Logger value at construction instead of reaching for a global.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

func New(appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if appEnv == "dev" || appEnv == "local" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}

	return out.Level(lvl).With().Timestamp().Logger()
}
