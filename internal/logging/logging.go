// Package logging provides the pluggable, level-based logger the
// parser reports recoverable events through: a rebuilt xref table, a
// skipped hybrid /XRefStm, an object that failed to resolve. Nothing
// the parser encounters on its own is ever logged above Warn, since
// malformed input is data the parser is designed to route around, not
// a bug in this module.
package logging

// Level identifies log severity.
type Level string

const (
	DebugLevel Level = "debug"
	WarnLevel  Level = "warn"
)

// Func is a single logger function that handles every level; a host
// application swaps it in with SetLogger to route parser diagnostics
// into its own logging stack.
type Func func(level Level, msg string, keyvals ...interface{})

var logFunc Func = func(Level, string, ...interface{}) {}

// SetLogger installs f as the package-level logger. Passing nil is a
// no-op, since a parser that logs to nowhere by default must stay
// that way until a caller opts in.
func SetLogger(f Func) {
	if f != nil {
		logFunc = f
	}
}

// Debug logs a recoverable, expected event: xref rebuilt, entry
// verification mismatch, hybrid xref stream skipped.
func Debug(msg string, keyvals ...interface{}) {
	logFunc(DebugLevel, msg, keyvals...)
}

// Warn logs an event worth a host application's attention even though
// parsing continued: an unsupported filter silently passed through, a
// password-protected stream left undecoded.
func Warn(msg string, keyvals ...interface{}) {
	logFunc(WarnLevel, msg, keyvals...)
}
