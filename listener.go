// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "github.com/riftkv/riftkv/internal/base"

// WriteStallBeginInfo describes why a write stall started.
type WriteStallBeginInfo struct {
	// Reason is a short human-readable description, e.g. "memtable count
	// limit reached" or "L0 file count limit exceeded".
	Reason string
}

// EventListener is notified of write-stall transitions. A stress monitor
// calls WriteStallBegin when it goes from holding no vote to holding at least
// one, and WriteStallEnd when it drops the last vote it holds. Each monitor
// tracks only its own votes; votes held by other monitors are not consulted.
// Both callbacks must be safe to call from any monitor's goroutine.
type EventListener struct {
	WriteStallBegin func(WriteStallBeginInfo)
	WriteStallEnd   func()
}

// NoopEventListener returns an EventListener whose callbacks do nothing.
func NoopEventListener() EventListener {
	return EventListener{
		WriteStallBegin: func(WriteStallBeginInfo) {},
		WriteStallEnd:   func() {},
	}
}

// MakeLoggingEventListener returns an EventListener that logs each
// transition through logger.
func MakeLoggingEventListener(logger base.Logger) EventListener {
	return EventListener{
		WriteStallBegin: func(info WriteStallBeginInfo) {
			logger.Infof("write stall begin: %s", info.Reason)
		},
		WriteStallEnd: func() {
			logger.Infof("write stall end")
		},
	}
}
