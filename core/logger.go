package core

// Logger logs structured application messages. Production implementations may
// report to an external service; `args` may include an error (stack-traced if
// wrapped with pkg/errors) and the acting user for context.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
