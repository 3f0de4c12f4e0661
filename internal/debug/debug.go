// Package debug holds the process-wide verbosity switches of the iflow CLI
// and builds its slog logger from them.
package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var (
	enabled               = os.Getenv("IFLOW_DEBUG") != ""
	verboseMode           = false
	quietMode             = false
	out         io.Writer = os.Stdout
	errOut      io.Writer = os.Stderr
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if Enabled() {
		fmt.Fprintf(errOut, format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Fprintf(out, format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Fprintln(out, args...)
	}
}

// Level is the slog level matching the current switches: debug when
// verbose, error only when quiet, warnings otherwise.
func Level() slog.Level {
	switch {
	case Enabled():
		return slog.LevelDebug
	case quietMode:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// NewLogger returns a text logger writing to w at Level().
func NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = errOut
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: Level()}))
}
