// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "github.com/cockroachdb/errors"

// tokenBucket is the second of the controller's two cooperating parts: it
// translates a requested byte count plus the currently-active rate into a
// sleep duration, carrying a running balance of bytes not yet "paid for"
// across calls. A negative balance is sleep debt: allowance already spent
// against future refills.
//
// There are two equivalent ways to avoid losing the sub-refill-interval
// remainder of elapsed time: track it in a separate credit field that gets
// folded back into the next call's elapsed time, or simply advance
// lastRefillTimeUs by whole intervals only and let the remainder sit,
// implicitly, in the gap between lastRefillTimeUs and the clock's actual
// reading. This implementation takes the second, simpler option (both give
// the same long-run rate) — there is no separate credit field to go stale
// or to reset independently of lastRefillTimeUs.
//
// Every field here must be read and written while holding Controller.mu;
// tokenBucket itself does no locking.
type tokenBucket struct {
	// refillTimeSet is false until the first catch-up read establishes
	// lastRefillTimeUs. It lets the bucket distinguish "never touched the
	// clock" from "last refill happened at time zero".
	refillTimeSet bool

	lastRefillTimeUs uint64

	// bytesLeftInInterval is the running balance.
	bytesLeftInInterval int64
}

// reset clears balance and refill time. Called on construction and on every
// new delay-token mint, so a rate change never inherits surplus or debt
// accrued under the old rate.
func (b *tokenBucket) reset() {
	*b = tokenBucket{}
}

// getDelay runs the core algorithm: fast path, catch-up refill, consume,
// compute sleep. It does not clamp the result to maxSleepUs: the full needed
// duration is returned even when it is large, leaving clamp-and-retry to
// whatever convenience wrapper the caller chooses (Controller.ClampedWait).
// Callers must already know they are delayed and must already have excluded
// numBytes == 0.
func (b *tokenBucket) getDelay(clock Clock, currentDelayRateBytesPerSec uint64, numBytes uint64) uint64 {
	n := int64(numBytes)

	// Step 1: fast path. No time is read.
	if n <= b.bytesLeftInInterval {
		b.bytesLeftInInterval -= n
		return 0
	}

	// Step 2+4: catch up. Only whole refill intervals count; the remainder
	// of elapsed time is left unconsumed by leaving lastRefillTimeUs behind
	// the clock, so it naturally contributes to elapsed on the next call
	// instead of being discarded.
	now := clock.NowMicros()
	if !b.refillTimeSet {
		b.lastRefillTimeUs = now
		b.refillTimeSet = true
	} else {
		if now < b.lastRefillTimeUs {
			panic(errors.AssertionFailedf(
				"riftkv: clock moved backwards: now=%d last_refill=%d", now, b.lastRefillTimeUs))
		}
		elapsedUs := int64(now - b.lastRefillTimeUs)
		wholeIntervals := elapsedUs / refillIntervalUs
		if wholeIntervals > 0 {
			refillPerInterval := int64(currentDelayRateBytesPerSec / refillsPerSec)
			b.bytesLeftInInterval += wholeIntervals * refillPerInterval
			b.lastRefillTimeUs += uint64(wholeIntervals * refillIntervalUs)
		}
	}

	// Step 5: consume. May go negative (sleep debt).
	b.bytesLeftInInterval -= n

	// Step 6: compute sleep.
	if b.bytesLeftInInterval >= 0 {
		return 0
	}
	neededUs := uint64(-b.bytesLeftInInterval) * 1_000_000 / currentDelayRateBytesPerSec

	// Step 7: the reference does not clamp here; it returns the full debt
	// duration. A caller that slept the full neededUs has paid the debt
	// exactly; a caller that was interrupted early self-corrects on its next
	// call, since that call's re-read of the clock naturally reflects
	// however much it actually waited.
	return neededUs
}
