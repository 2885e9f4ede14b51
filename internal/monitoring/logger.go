package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// StreamLogf returns a logger that tags every line with the stream key.
// It resolves Logf on each call, so a later SetLogger still applies.
func StreamLogf(stream string) func(format string, v ...interface{}) {
	tag := fmt.Sprintf("[stream %s] ", stream)
	return func(format string, v ...interface{}) {
		Logf(tag+format, v...)
	}
}
