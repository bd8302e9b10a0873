// Package diag provides diagnostic logging for the OpenLIT SDK.
//
// Instrumentation must never let its own failures surface to the host
// application, so everything the SDK wants to say goes through this logger
// instead of error returns.
package diag

import (
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is an interface you can implement to send diagnostic
// messages to the destination of your choice.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

var (
	mu           sync.RWMutex
	globalLogger Logger = warnLogger{}
)

// SetLogger will use the given logger for logging messages.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{} // just in case
	}
	mu.Lock()
	defer mu.Unlock()
	globalLogger = logger
}

// GetLogger returns the current logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// ClearLogger clears the current logger.
func ClearLogger() {
	SetLogger(noopLogger{})
}

// SetDebugLogger will log debug messages and warnings to Go's standard logger.
func SetDebugLogger() {
	SetLogger(debugLogger{})
}

// SetWarnLogger will log warnings to Go's standard logger.
func SetWarnLogger() {
	SetLogger(warnLogger{})
}

// Debugf logs a debug message using the configured logger.
func Debugf(format string, args ...any) {
	GetLogger().Debugf(format, args...)
}

// Warnf logs a warning message using the configured logger.
func Warnf(format string, args ...any) {
	GetLogger().Warnf(format, args...)
}

// noopLogger logs to nowhere.
type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Warnf(string, ...any)  {}

var _ Logger = noopLogger{}

// debugLogger logs everything to the standard logger.
type debugLogger struct{}

func (debugLogger) Debugf(format string, args ...any) {
	log.Printf("DEBUG openlit: "+format, args...)
}

func (debugLogger) Warnf(format string, args ...any) {
	log.Printf("WARN openlit: "+format, args...)
}

var _ Logger = debugLogger{}

// warnLogger logs only warnings to the standard logger.
type warnLogger struct{}

func (warnLogger) Debugf(string, ...any) {}
func (warnLogger) Warnf(format string, args ...any) {
	log.Printf("WARN openlit: "+format, args...)
}

var _ Logger = warnLogger{}

// init checks for OPENLIT_DEBUG and enables the debug logger if set.
func init() {
	if strings.ToLower(os.Getenv("OPENLIT_DEBUG")) == "true" {
		SetDebugLogger()
	}
}
