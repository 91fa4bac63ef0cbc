package logger

import (
	"sync"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/roamgate/core/logger"
)

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)            {}
func (NopLogger) Debugw(string, corelogger.Fields) {}
func (NopLogger) Infof(string, ...any)             {}
func (NopLogger) Infow(string, corelogger.Fields)  {}
func (NopLogger) Warnf(string, ...any)             {}
func (NopLogger) Errorf(string, ...any)            {}
func (NopLogger) Errorw(string, corelogger.Fields) {}

var levelOnce sync.Once

// SetLevel sets the global minimum level ("debug", "info", "warn", "error").
// Unknown values keep the zerolog default. Only the first call has effect.
func SetLevel(level string) {
	levelOnce.Do(func() {
		if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
			zerolog.SetGlobalLevel(lvl)
		}
	})
}

// New returns a Logger for the given component. The output format is
// selected through the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}
