// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing holds helpers shared by the operator's test suites.
package testing

import (
	"fmt"
	"sync"

	"github.com/juju/loggo/v2"
)

// CheckLog is an interface that can be used to log messages to a
// *testing.T or *check.C.
type CheckLog interface {
	Logf(string, ...any)
}

// CheckLogger is a logger that writes to a *testing.T or *check.C and keeps
// every formatted message, so that tests can assert on what was logged.
type CheckLogger struct {
	Log CheckLog

	mu      sync.Mutex
	entries []Entry
}

// Entry is a message recorded by a CheckLogger.
type Entry struct {
	Level   loggo.Level
	Message string
}

// NewCheckLogger returns a CheckLogger that logs to the given CheckLog.
func NewCheckLogger(log CheckLog) *CheckLogger {
	return &CheckLogger{Log: log}
}

func (c *CheckLogger) Criticalf(msg string, args ...any) { c.Logf(loggo.CRITICAL, msg, args...) }
func (c *CheckLogger) Errorf(msg string, args ...any)    { c.Logf(loggo.ERROR, msg, args...) }
func (c *CheckLogger) Warningf(msg string, args ...any)  { c.Logf(loggo.WARNING, msg, args...) }
func (c *CheckLogger) Infof(msg string, args ...any)     { c.Logf(loggo.INFO, msg, args...) }
func (c *CheckLogger) Debugf(msg string, args ...any)    { c.Logf(loggo.DEBUG, msg, args...) }
func (c *CheckLogger) Tracef(msg string, args ...any)    { c.Logf(loggo.TRACE, msg, args...) }

// Logf records the message and forwards it to the underlying CheckLog.
func (c *CheckLogger) Logf(level loggo.Level, msg string, args ...any) {
	message := fmt.Sprintf(msg, args...)
	c.mu.Lock()
	c.entries = append(c.entries, Entry{Level: level, Message: message})
	c.mu.Unlock()
	if c.Log != nil {
		c.Log.Logf("%s: %s", level.String(), message)
	}
}

// Entries returns the messages logged so far at level or above.
func (c *CheckLogger) Entries(level loggo.Level) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []string
	for _, entry := range c.entries {
		if entry.Level >= level {
			result = append(result, entry.Message)
		}
	}
	return result
}
