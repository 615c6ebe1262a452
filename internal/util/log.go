// Package util holds the console logger, fault reporters and traffic stats
// used across the server, the client and the CLI.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are shown.
func DebugEnabled() bool {
	lvl := pterm.DefaultLogger.Level
	return lvl != pterm.LogLevelDisabled && lvl <= pterm.LogLevelDebug
}

// Logger attaches fixed key/value pairs, such as a slot id and a connection
// id, to every line it prints.
type Logger struct {
	args []any
}

// With returns a logger carrying args as key/value pairs.
func With(args ...any) Logger {
	return Logger{args: args}
}

// With returns a copy of l extended with args.
func (l Logger) With(args ...any) Logger {
	merged := make([]any, 0, len(l.args)+len(args))
	merged = append(merged, l.args...)
	return Logger{args: append(merged, args...)}
}

// Args returns the key/value pairs, for passing on to a Reporter.
func (l Logger) Args() []any { return l.args }

func (l Logger) Debug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(l.args...))
}

func (l Logger) Info(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(l.args...))
}

func (l Logger) Warn(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), pterm.DefaultLogger.Args(l.args...))
}
