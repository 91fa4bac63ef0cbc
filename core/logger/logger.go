package logger

// Fields carries structured key/value pairs attached to a log line.
type Fields = map[string]any

// Logger exposes logging methods for common severity levels. The *w variants
// attach structured fields, which is how command lifecycle events are logged.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields Fields)
	Infof(format string, args ...any)
	Infow(msg string, fields Fields)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Errorw(msg string, fields Fields)
}
