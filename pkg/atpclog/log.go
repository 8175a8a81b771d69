// Package atpclog provides the small per-component logger used across
// ATPC: a standard-library *log.Logger wrapped with a bracketed
// component prefix and leveled convenience methods.
package atpclog

import (
	"fmt"
	"log"
	"os"
)

// Logger wraps a *log.Logger with a fixed component name and a level
// prefix applied per call.
type Logger struct {
	component string
	std       *log.Logger
}

// New returns a Logger that writes to stderr with a "[component] "
// prefix.
func New(component string) *Logger {
	return &Logger{
		component: component,
		std:       log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf("INFO "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf("WARN "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf("ERROR "+format, args...)
}

// With returns a new Logger scoped to a sub-component, e.g.
// base.With("session") logs with prefix "[gateway.session] ".
func (l *Logger) With(sub string) *Logger {
	return New(l.component + "." + sub)
}
