// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing holds helpers shared by the coordinator's test suites.
package testing

import (
	"fmt"
	"sync"

	"github.com/juju/loggo/v2"
)

// NoopLogger is a logger that does nothing.
type NoopLogger struct{}

func (NoopLogger) Errorf(string, ...any)   {}
func (NoopLogger) Warningf(string, ...any) {}
func (NoopLogger) Infof(string, ...any)    {}
func (NoopLogger) Debugf(string, ...any)   {}
func (NoopLogger) Tracef(string, ...any)   {}

func (NoopLogger) Logf(loggo.Level, string, ...any) {}

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that writes to a *testing.T or *check.C, so
// that output only shows up for failing tests.
type CheckLogger struct {
	Log  CheckLog
	Name string
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) CheckLogger {
	return CheckLogger{Log: log}
}

// Child returns a CheckLogger tagged with name.
func (c CheckLogger) Child(name string) CheckLogger {
	return CheckLogger{Log: c.Log, Name: name}
}

func (c CheckLogger) logf(level loggo.Level, msg string, args ...any) {
	prefix := level.String()
	if c.Name != "" {
		prefix = fmt.Sprintf("%s %s", prefix, c.Name)
	}
	c.Log.Logf(fmt.Sprintf("%s: %s", prefix, msg), args...)
}

func (c CheckLogger) Errorf(msg string, args ...any)   { c.logf(loggo.ERROR, msg, args...) }
func (c CheckLogger) Warningf(msg string, args ...any) { c.logf(loggo.WARNING, msg, args...) }
func (c CheckLogger) Infof(msg string, args ...any)    { c.logf(loggo.INFO, msg, args...) }
func (c CheckLogger) Debugf(msg string, args ...any)   { c.logf(loggo.DEBUG, msg, args...) }
func (c CheckLogger) Tracef(msg string, args ...any)   { c.logf(loggo.TRACE, msg, args...) }

func (c CheckLogger) Logf(level loggo.Level, msg string, args ...any) { c.logf(level, msg, args...) }

// RecordingLogger keeps every message at or above WARNING so tests can
// assert on reported failures.
type RecordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (r *RecordingLogger) record(level loggo.Level, msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, fmt.Sprintf("%s: %s", level, fmt.Sprintf(msg, args...)))
}

func (r *RecordingLogger) Errorf(msg string, args ...any)   { r.record(loggo.ERROR, msg, args...) }
func (r *RecordingLogger) Warningf(msg string, args ...any) { r.record(loggo.WARNING, msg, args...) }
func (r *RecordingLogger) Infof(string, ...any)             {}
func (r *RecordingLogger) Debugf(string, ...any)            {}
func (r *RecordingLogger) Tracef(string, ...any)            {}

func (r *RecordingLogger) Logf(level loggo.Level, msg string, args ...any) {
	if level >= loggo.WARNING {
		r.record(level, msg, args...)
	}
}

// Messages returns the recorded messages.
func (r *RecordingLogger) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
