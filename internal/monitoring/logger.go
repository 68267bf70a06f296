// Package monitoring carries the driver-wide diagnostic logger.
//
// Frame reception and logging sessions run for long stretches without caller
// involvement, so the driver reports drops, stream errors and upload progress
// through this package rather than returning them. Applications embedding the
// driver can redirect or mute the output with SetLogger.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or embedding applications can redirect
// or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
