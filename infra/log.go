// ABOUTME: Process-wide structured logger shared by the collector and tools
// ABOUTME: Level comes from LOGLEVEL and can be overridden by configuration

package infra

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func init() {
	Logger = log.With().Logger().Level(ParseLevel(os.Getenv("LOGLEVEL")))
}

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	}
	return zerolog.InfoLevel
}

// SetLevel replaces the level of Logger. An empty name keeps the level
// taken from LOGLEVEL.
func SetLevel(level string) {
	if strings.TrimSpace(level) == "" {
		return
	}
	Logger = Logger.Level(ParseLevel(level))
}
