// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBucketFastPath checks that a request within the current balance never
// reads the clock.
func TestBucketFastPath(t *testing.T) {
	var b tokenBucket
	b.bytesLeftInInterval = 1_000

	clock := &panicClock{t: t}
	require.Equal(t, uint64(0), b.getDelay(clock, 10_000_000, 500))
	require.Equal(t, int64(500), b.bytesLeftInInterval)
}

// panicClock fails the test if NowMicros is ever called; used to assert the
// fast path never touches the clock.
type panicClock struct{ t *testing.T }

func (c *panicClock) NowMicros() uint64 {
	c.t.Helper()
	c.t.Fatal("clock read on fast path")
	return 0
}

// TestBucketResetClearsState checks that reset clears balance and refill
// timing entirely, so a fresh delay token never inherits a prior rate's
// surplus or debt.
func TestBucketResetClearsState(t *testing.T) {
	b := tokenBucket{
		refillTimeSet:       true,
		lastRefillTimeUs:    12345,
		bytesLeftInInterval: -999,
	}
	b.reset()
	require.Equal(t, tokenBucket{}, b)
}

// TestBucketClockRegressionPanics checks that the clock moving backwards
// between calls is a fatal assertion, not a silently-ignored condition.
func TestBucketClockRegressionPanics(t *testing.T) {
	clock := &fakeClock{nowUs: 10_000}
	var b tokenBucket
	require.Equal(t, uint64(2_000), b.getDelay(clock, 1_000_000, 2_000))

	clock.nowUs = 5_000
	require.Panics(t, func() {
		b.getDelay(clock, 1_000_000, 2_000)
	})
}
