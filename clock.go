// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "github.com/cockroachdb/crlib/crtime"

// Clock abstracts the monotonic microsecond clock the controller reads on
// its catch-up path. It is the only capability GetDelay consumes; the
// controller never reads a clock on the fast path (a balance that already
// covers the request), so uncontended writes pay no syscall cost.
//
// The interface is deliberately a single method so tests can substitute a
// manually-advanced fake, mirroring the C++ reference's TimeSetEnv.
type Clock interface {
	// NowMicros returns a monotonically non-decreasing count of microseconds
	// since an arbitrary fixed epoch.
	NowMicros() uint64
}

// SystemClock is the production Clock, backed by crlib's monotonic clock
// reading. crtime.Mono values are comparable and monotonic within a process,
// matching the contract GetDelay relies on.
type SystemClock struct{}

// NowMicros implements Clock.
func (SystemClock) NowMicros() uint64 {
	return uint64(crtime.NowMono().Sub(monoEpoch) / 1000)
}

// monoEpoch anchors SystemClock's microsecond counter to the time the
// process started reading the clock, so early readings don't require the
// full nanosecond range of crtime.Mono to be representable as a microsecond
// uint64 for the lifetime of a long-running process.
var monoEpoch = crtime.NowMono()
