// Package util carries the small set of ambient helpers the rest of ev80
// leans on: leveled logging (this file), the stats reporter, and connection
// fingerprinting.
package util

import "github.com/pterm/pterm"

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "2006-01-02 15:04:05"
}

// LogDebug, LogInfo, LogSuccess, LogWarning, and LogError wrap pterm's
// prefixed printers with a printf-style signature, so call sites read like
// fmt.Printf rather than pterm's own chained builder API. All of them write
// to stderr, pterm's default sink.

func LogDebug(format string, args ...interface{}) {
	pterm.Debug.Printfln(format, args...)
}

func LogInfo(format string, args ...interface{}) {
	pterm.Info.Printfln(format, args...)
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Printfln(format, args...)
}

func LogWarning(format string, args ...interface{}) {
	pterm.Warning.Printfln(format, args...)
}

func LogError(format string, args ...interface{}) {
	pterm.Error.Printfln(format, args...)
}

// EnableDebug turns on debug-level output; ev80d's --debug flag is the
// only caller.
func EnableDebug() {
	pterm.EnableDebugMessages()
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}
