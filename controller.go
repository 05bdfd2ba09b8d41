// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package riftkv implements the write controller: the admission-control
// primitive that regulates the write ingress rate of riftkv's log-structured
// storage engine. It is the only mechanism through which background
// pressure (full memtables, too many level-0 files, pending compaction
// bytes) is communicated back to foreground writers.
package riftkv

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

const (
	// refillIntervalUs is the bucket's refill period: kRefillInterval.
	refillIntervalUs = 1000
	// refillsPerSec is 1e6 / refillIntervalUs: kAdjustmentsPerSec.
	refillsPerSec = 1_000_000 / refillIntervalUs
	// maxSleepUs bounds each individual sleep ClampedWait asks for. GetDelay
	// itself never clamps against it.
	maxSleepUs = 2_000_000
)

// Controller is the root admission-control object for one storage engine
// instance. It combines votes from independent stress-signal producers
// (compaction, flush, stress monitors, ...) without those producers needing
// to coordinate with one another, and paces accepted writes to a token
// bucket driven by a monotonic clock.
//
// A Controller is safe for concurrent use by multiple writer goroutines and
// multiple vote producers. It must outlive every StopToken and DelayToken it
// minted; dropping the last reference to a Controller while tokens are still
// open is a programming error in the embedding engine, not something this
// package can detect.
type Controller struct {
	// configuredRateBytesPerSec is the rate passed to NewController. It never
	// changes after construction; it exists purely so a caller can recover
	// "what the engine was configured with" even after delay votes have
	// changed the live rate.
	configuredRateBytesPerSec uint64

	// stopVoteCount and delayVoteCount are accessed without the mutex so that
	// IsStopped and IsDelayed are lock-free on the hot path.
	stopVoteCount  atomic.Int64
	delayVoteCount atomic.Int64

	mu struct {
		sync.Mutex

		// currentDelayRateBytesPerSec is the rate in effect: the most
		// recently minted delay token's rate, or the constructor's rate if
		// none has ever been minted. DelayedWriteRate reads this field, not
		// configuredRateBytesPerSec — see DESIGN.md for why.
		currentDelayRateBytesPerSec uint64

		// bucket is the token bucket state; see bucket.go.
		bucket tokenBucket
	}
}

// NewController constructs a Controller with the given default delay rate.
// The rate takes effect immediately for DelayedWriteRate, but no delay is
// applied to writes until a DelayToken exists.
func NewController(configuredRateBytesPerSec uint64) *Controller {
	c := &Controller{configuredRateBytesPerSec: configuredRateBytesPerSec}
	c.mu.currentDelayRateBytesPerSec = configuredRateBytesPerSec
	c.mu.bucket.reset()
	return c
}

// NewStopToken mints a stop vote. Never fails.
func (c *Controller) NewStopToken() *StopToken {
	c.stopVoteCount.Add(1)
	return &StopToken{c: c}
}

// NewDelayToken mints a delay vote at rateBytesPerSec, sets it as the
// controller's active delay rate, and resets the token bucket (any carried
// balance from a prior rate is discarded). rateBytesPerSec must be
// positive; zero is a programmer error.
func (c *Controller) NewDelayToken(rateBytesPerSec uint64) *DelayToken {
	if rateBytesPerSec == 0 {
		panic(errors.AssertionFailedf("riftkv: delay token rate must be positive"))
	}

	c.mu.Lock()
	c.mu.currentDelayRateBytesPerSec = rateBytesPerSec
	c.mu.bucket.reset()
	c.mu.Unlock()

	c.delayVoteCount.Add(1)
	return &DelayToken{c: c}
}

// IsStopped reports whether any stop vote is currently outstanding. STOPPED
// dominates DELAYED for a caller's proceed/don't-proceed decision: callers
// must check IsStopped before relying on GetDelay's answer.
func (c *Controller) IsStopped() bool {
	return c.stopVoteCount.Load() > 0
}

// IsDelayed reports whether any delay vote is currently outstanding.
func (c *Controller) IsDelayed() bool {
	return c.delayVoteCount.Load() > 0
}

// DelayedWriteRate returns the rate currently in effect: the most recently
// minted delay token's rate, or the constructor's configured rate if no
// delay token has ever been minted. Stress producers that want to "vote at
// whatever the engine currently considers the default" call this rather than
// hard-coding a number.
func (c *Controller) DelayedWriteRate() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.currentDelayRateBytesPerSec
}

// ConfiguredRate returns the rate the Controller was constructed with,
// unaffected by any delay vote minted since. Not part of the RocksDB-derived
// surface; exposed for Options/metrics reporting.
func (c *Controller) ConfiguredRate() uint64 {
	return c.configuredRateBytesPerSec
}

// GetDelay returns the number of microseconds the caller must sleep before
// it may proceed with writing numBytes, such that long-run throughput across
// all callers converges to DelayedWriteRate(). It is total and never fails;
// it never reads clock if the caller's write fits in the bucket's current
// balance.
//
// If no delay token is outstanding, GetDelay always returns 0 without
// touching the bucket or the clock. If the controller is stopped, the result
// is meaningless — callers must check IsStopped separately before deciding
// whether to call GetDelay at all, or must be prepared to discard its
// answer.
//
// GetDelay does not clamp its return value to maxSleepUs on any path (see
// bucket.go); a caller wanting bounded waits should use ClampedWait.
func (c *Controller) GetDelay(clock Clock, numBytes uint64) uint64 {
	if !c.IsDelayed() {
		return 0
	}
	if numBytes == 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.bucket.getDelay(clock, c.mu.currentDelayRateBytesPerSec, numBytes)
}

// ClampedWait is a convenience built on top of GetDelay for callers that
// prefer a bounded per-call wait over the raw (potentially multi-second)
// duration GetDelay can return for a very large request against a very slow
// rate. It calls sleep (ordinarily time.Sleep, or a test double) in a loop,
// checking IsDelayed between sleeps to detect whether the vote disappeared
// mid-wait; it does not re-charge numBytes.
func (c *Controller) ClampedWait(clock Clock, numBytes uint64, sleep func(microseconds uint64)) {
	d := c.GetDelay(clock, numBytes)
	for d > maxSleepUs {
		sleep(maxSleepUs)
		if !c.IsDelayed() {
			return
		}
		d -= maxSleepUs
	}
	if d > 0 {
		sleep(d)
	}
}
