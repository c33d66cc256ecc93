// Package monitoring holds the daemon's diagnostic logging hooks.
package monitoring

import "log"

// Logf is the package-level diagnostic logger used for schedule changes and
// link summaries. It defaults to log.Printf; tests redirect or mute it with
// SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
