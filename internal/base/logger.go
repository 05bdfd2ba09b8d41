// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds the handful of types shared by the controller,
// the stress monitors, and the CLI without pulling those packages into
// an import cycle.
package base

import (
	"fmt"
	"log"
	"os"
)

// Logger defines an interface for writing log messages. Write-stall
// transitions and stress-monitor vote changes are logged through it rather
// than through a hard-coded stdlib call so that callers embedding the
// controller in a larger service can route it to their own log sink.
type Logger interface {
	Infof(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger struct{}

// Infof implements the Logger.Infof interface.
func (DefaultLogger) Infof(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
}

// Fatalf implements the Logger.Fatalf interface.
func (DefaultLogger) Fatalf(format string, args ...interface{}) {
	_ = log.Output(2, fmt.Sprintf(format, args...))
	os.Exit(1)
}

// NoopLogger discards all messages. Used by tests and by the simulation CLI
// in quiet mode.
type NoopLogger struct{}

// Infof implements the Logger.Infof interface.
func (NoopLogger) Infof(string, ...interface{}) {}

// Fatalf implements the Logger.Fatalf interface. Unlike DefaultLogger it does
// not exit the process, so tests exercising a Fatalf call site can observe
// control flow continuing rather than killing the test binary.
func (NoopLogger) Fatalf(string, ...interface{}) {}
