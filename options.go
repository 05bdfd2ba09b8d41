// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "github.com/riftkv/riftkv/internal/base"

// Options configures the write controller and the simulated stress monitors
// that drive it. It is a plain struct populated by the embedder; there is no
// config-file format.
type Options struct {
	// WriteRateBytesPerSec is the controller's configured default delay rate.
	WriteRateBytesPerSec uint64

	// MemTableStopWritesThreshold places a hard limit on the number of
	// queued memtables allowed before the memtable stress monitor mints a
	// stop vote: a count of queued tables, since this module does not model
	// memtable byte sizes.
	MemTableStopWritesThreshold int

	// MemTableDelayThreshold mints a delay vote once the queued memtable
	// count reaches this many, before the hard stop threshold is reached.
	MemTableDelayThreshold int

	// L0StopWritesThreshold is the number of level-0 files above which the
	// L0 stress monitor mints a stop vote.
	L0StopWritesThreshold int

	// L0DelayThreshold is the number of level-0 files above which the L0
	// stress monitor mints a delay vote.
	L0DelayThreshold int

	// CompactionDebtStopThreshold is the estimated compaction debt, in
	// bytes, at or above which the compaction-debt stress monitor mints a
	// stop vote.
	CompactionDebtStopThreshold uint64

	// CompactionDebtDelayThreshold is the estimated compaction debt, in
	// bytes, at or above which the compaction-debt stress monitor mints a
	// delay vote.
	CompactionDebtDelayThreshold uint64

	// MonitorPollIntervalMillis is how often, in milliseconds, each stress
	// monitor re-evaluates its counters. See internal/stress.
	MonitorPollIntervalMillis int

	// Logger receives WriteStallBegin/WriteStallEnd and monitor-level log
	// lines. Defaults to base.DefaultLogger.
	Logger base.Logger

	// EventListener is notified of write-stall transitions. Defaults to a
	// no-op listener.
	EventListener EventListener
}

// EnsureDefaults fills in zero-valued fields with their defaults. It returns
// o for convenient chaining and is idempotent.
func (o *Options) EnsureDefaults() *Options {
	if o.WriteRateBytesPerSec == 0 {
		o.WriteRateBytesPerSec = 10 << 20 // 10 MB/s
	}
	if o.MemTableStopWritesThreshold <= 0 {
		o.MemTableStopWritesThreshold = 5
	}
	if o.MemTableDelayThreshold <= 0 {
		o.MemTableDelayThreshold = 2
	}
	if o.L0StopWritesThreshold <= 0 {
		o.L0StopWritesThreshold = 36
	}
	if o.L0DelayThreshold <= 0 {
		o.L0DelayThreshold = 20
	}
	if o.CompactionDebtStopThreshold == 0 {
		o.CompactionDebtStopThreshold = 4 << 30 // 4 GB
	}
	if o.CompactionDebtDelayThreshold == 0 {
		o.CompactionDebtDelayThreshold = 1 << 30 // 1 GB
	}
	if o.MonitorPollIntervalMillis <= 0 {
		o.MonitorPollIntervalMillis = 250
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.EventListener.WriteStallBegin == nil || o.EventListener.WriteStallEnd == nil {
		o.EventListener = NoopEventListener()
	}
	return o
}
