package smb2

import "log"

// Logger is the leveled logging interface the connection core calls
// into. It matches the shape of the client-side logging libraries seen
// across the SMB2/SMB3 Go ecosystem (e.g. jfjallid/golog's
// Debug/Info/Warn/Error split) so callers can plug in either a
// standard-library-backed logger or a third-party one without an
// adapter.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// DefaultLogger wraps the standard log package. Debug is only emitted
// when verbose is true, since per-message negotiation/signing traces
// are noisy at the default level.
type DefaultLogger struct {
	verbose bool
}

// NewDefaultLogger returns a Logger backed by the standard log package.
func NewDefaultLogger(verbose bool) *DefaultLogger {
	return &DefaultLogger{verbose: verbose}
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	if l.verbose {
		log.Printf("[DEBUG] "+msg, args...)
	}
}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	log.Printf("[INFO] "+msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	log.Printf("[WARN] "+msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	log.Printf("[ERROR] "+msg, args...)
}

// NullLogger discards everything; it is the default for Options so a
// caller that doesn't care about logs pays nothing for them.
type NullLogger struct{}

func (NullLogger) Debug(string, ...interface{}) {}
func (NullLogger) Info(string, ...interface{})  {}
func (NullLogger) Warn(string, ...interface{})  {}
func (NullLogger) Error(string, ...interface{}) {}
