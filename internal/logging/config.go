// Package logging centralizes log configuration for the grnvs binaries.
// Diagnostics are a side channel: everything goes to stderr so stdout stays
// clean for command output.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "GRNVS_LOG_LEVEL"
	EnvLogNoColor = "GRNVS_LOG_NOCOLOR"
	EnvLogPlain   = "GRNVS_LOG_PLAIN"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the process-global logger once; later calls are no-ops.
// GRNVS_LOG_PLAIN switches from the console writer to raw JSON lines.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		if profile == ProfileTest {
			level = zerolog.DebugLevel
		}
		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}
		zerolog.SetGlobalLevel(level)

		if v, ok := parseBool(os.Getenv(EnvLogPlain)); ok && v {
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
			return
		}
		output := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
			output.NoColor = v
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// New returns a named component logger derived from the global one.
func New(app string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Logger()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
