package logger

import corelogger "github.com/kilianp07/lifespan/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.NopLogger

// New returns a Logger for the given component using the settings applied by
// Configure. Before Configure is called the format follows APP_ENV.
func New(component string) Logger {
	return NewZerologLogger(component)
}
