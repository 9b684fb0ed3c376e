// Package rlog is a thin wrapper over the standard log package, prefixing
// every line with a component tag the way the teacher's agents prefix
// their log lines with the bus name (e.g. "J1587: ..."). It exists so the
// ingest/tracking/configstore/watchdog events the spec calls out as
// "logged" go through one place instead of each component importing log
// directly with its own ad hoc prefix.
package rlog

import "log"

// Logger prefixes every line with a fixed component tag.
type Logger struct {
	component string
}

// New returns a Logger tagging every line with component, e.g. "ingest",
// "tracking", "configstore", "watchdog".
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) Printf(format string, args ...any) {
	log.Printf(l.component+": "+format, args...)
}

func (l *Logger) Println(args ...any) {
	line := append([]any{l.component + ":"}, args...)
	log.Println(line...)
}
