// Package logger provides the call-site logging surface used throughout
// the hoarder (Info/Success/Warn/Error/Banner/Section/Stats), backed by
// github.com/rs/zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	currentLevel  = zerolog.InfoLevel
	currentFormat = "console"
)

// Configure sets the level and format every subsequent log call uses.
// level is one of debug|info|warn|error; format is console|json. Either
// left unrecognized keeps the previous value.
func Configure(level, format string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		currentLevel = lvl
	}
	switch format {
	case "json", "console":
		currentFormat = format
	}
}

func writer() zerolog.Logger {
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339, NoColor: !isTTY()}
	if currentFormat == "json" {
		w = os.Stdout
	}
	return zerolog.New(w).Level(currentLevel).With().Timestamp().Logger()
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Info logs an informational line tagged with a subsystem name.
func Info(tag, msg string) {
	writer().Info().Str("tag", tag).Msg(msg)
}

// Success logs a positive-outcome line tagged with a subsystem name.
func Success(tag, msg string) {
	writer().Info().Str("tag", tag).Str("result", "ok").Msg(msg)
}

// Warn logs a recoverable-problem line tagged with a subsystem name.
func Warn(tag, msg string) {
	writer().Warn().Str("tag", tag).Msg(msg)
}

// Error logs a failure tagged with a subsystem name.
func Error(tag, msg string) {
	writer().Error().Str("tag", tag).Msg(msg)
}

// Banner prints the startup version banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(os.Stdout, "eve-hoarder %s\n", version)
}

// Section prints a visual section break for grouping related log lines.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n== %s ==\n", title)
}

// Stats logs a single key/value counter or gauge reading.
func Stats(key string, val interface{}) {
	writer().Info().Str("tag", "stats").Interface(key, val).Msg("stat")
}
