package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbosity atomic.Int32

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbosity sets the level up to which Debugf messages are emitted.
// Level 0 (the default) silences all debug output.
func SetVerbosity(level int) {
	verbosity.Store(int32(level))
}

// Verbosity returns the current debug level.
func Verbosity() int {
	return int(verbosity.Load())
}

// Debugf logs through Logf when level is enabled. Level 1 is per-frame
// detail, level 2 and above is per-query chatter.
func Debugf(level int, format string, v ...interface{}) {
	if level > Verbosity() {
		return
	}
	Logf(format, v...)
}
