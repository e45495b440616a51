// Package logging is a thin wrapper around the standard logger with a
// process-wide disable switch, used so the CLI can run quiet.
package logging

import (
	"log"
	"os"
	"sync/atomic"
)

var (
	disabled atomic.Bool
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off all logging
func Disable() {
	disabled.Store(true)
}

// Enable turns logging back on
func Enable() {
	disabled.Store(false)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf(format, v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf("WARN "+format, v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled.Load() {
		logger.Printf("ERROR "+format, v...)
	}
}

// ComponentLogger prefixes every line with [name], matching the
// component-tag convention used across the codebase.
type ComponentLogger struct {
	prefix string
}

// For creates a component-scoped logger, e.g. For("InFlight").
func For(name string) ComponentLogger {
	return ComponentLogger{prefix: "[" + name + "] "}
}

// Infof logs a formatted info message with the component prefix
func (c ComponentLogger) Infof(format string, v ...any) {
	Infof(c.prefix+format, v...)
}

// Warnf logs a formatted warning message with the component prefix
func (c ComponentLogger) Warnf(format string, v ...any) {
	Warnf(c.prefix+format, v...)
}

// Errorf logs a formatted error message with the component prefix
func (c ComponentLogger) Errorf(format string, v ...any) {
	Errorf(c.prefix+format, v...)
}
