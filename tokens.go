// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "sync"

// StopToken is a handle representing one outstanding "stop" vote. While it
// exists, the controller reports IsStopped() == true. Multiple stop tokens
// may coexist; the controller is stopped as long as at least one is live.
//
// A StopToken must be closed exactly once, by the goroutine that created it
// or one it was handed off to; closing it more than once is a no-op rather
// than a double-decrement, so defer t.Close() is always safe even if the
// caller also closes it explicitly on an earlier path.
type StopToken struct {
	c         *Controller
	closeOnce sync.Once
}

// Close releases the stop vote. If this was the last outstanding stop token,
// the controller transitions out of STOPPED (to DELAYED if delay votes
// remain live, otherwise to NORMAL).
func (t *StopToken) Close() error {
	t.closeOnce.Do(func() {
		t.c.stopVoteCount.Add(-1)
	})
	return nil
}

// DelayToken is a handle representing one outstanding "delay" vote at a
// specific rate. Minting one sets the controller's active delay rate to its
// rate and resets the token bucket (see Controller.GetDelay); dropping the
// most recently minted one does not automatically revert the rate to an
// older still-live token's rate. This is deliberate: producers are expected
// to re-mint whenever their opinion of the right rate changes, not to
// coexist with stale votes.
type DelayToken struct {
	c         *Controller
	closeOnce sync.Once
}

// Close releases the delay vote. If this was the last outstanding delay
// token, delays cease (IsDelayed() becomes false) until a new one is minted.
func (t *DelayToken) Close() error {
	t.closeOnce.Do(func() {
		t.c.delayVoteCount.Add(-1)
	})
	return nil
}
