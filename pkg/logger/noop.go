package logger

import (
	"os"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// Logger is re-exported from eigensdk-go for convenience.
// This allows users of this package to work with loggers without importing sdklogging separately.
type Logger = sdklogging.Logger

// NoOpLogger implements Logger with no-op methods to avoid nil pointer panics.
// Use this when you need a logger instance but don't want any actual logging.
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *NoOpLogger) Infof(format string, args ...interface{})       {}
func (l *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Debugf(format string, args ...interface{})      {}
func (l *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Errorf(format string, args ...interface{})      {}
func (l *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (l *NoOpLogger) Warnf(format string, args ...interface{})       {}
func (l *NoOpLogger) Fatal(msg string, keysAndValues ...interface{}) {}
func (l *NoOpLogger) Fatalf(format string, args ...interface{})      {}
func (l *NoOpLogger) With(keysAndValues ...interface{}) Logger       { return l }
func (l *NoOpLogger) WithComponent(componentName string) Logger      { return l }
func (l *NoOpLogger) WithName(name string) Logger                    { return l }
func (l *NoOpLogger) WithServiceName(serviceName string) Logger      { return l }
func (l *NoOpLogger) WithHostName(hostName string) Logger            { return l }
func (l *NoOpLogger) Sync() error                                    { return nil }

// NewNoOpLogger creates a new no-op logger instance
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// EnsureLogger returns the logger if not nil, otherwise returns a no-op logger.
// This is a convenience function to safely use optional logger parameters.
func EnsureLogger(logger Logger) Logger {
	if logger == nil {
		return NewNoOpLogger()
	}
	return logger
}

// New builds the zap backed logger for an environment, "production" or
// "development". Anything else falls back to development.
func New(environment string) (Logger, error) {
	env := sdklogging.Development
	if sdklogging.LogLevel(environment) == sdklogging.Production {
		env = sdklogging.Production
	}
	return sdklogging.NewZapLogger(env)
}

// FromEnv builds a logger from the LOG_LEVEL env var, defaulting to fallback.
func FromEnv(fallback string) (Logger, error) {
	if level, ok := os.LookupEnv("LOG_LEVEL"); ok && level != "" {
		return New(level)
	}
	return New(fallback)
}

// Component tags every entry of logger with the component name.
func Component(logger Logger, name string) Logger {
	return EnsureLogger(logger).With("component", name)
}
