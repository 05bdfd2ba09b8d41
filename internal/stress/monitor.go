// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package stress implements periodic monitors that poll an engine-level
// counter and cast or drop a vote against a *riftkv.Controller as the
// counter crosses configured thresholds, the way db.go's makeRoomForWrite
// does inline for memtable count and L0 file count.
package stress

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riftkv/riftkv"
	"github.com/riftkv/riftkv/internal/base"
)

// Monitor polls an engine-level counter on an interval and mints or drops a
// controller vote as it crosses a stop and/or delay threshold. Three
// instances are expected in practice: memtable queue depth, L0 file count,
// and estimated compaction debt, mirroring makeRoomForWrite's three stall
// reasons.
type Monitor struct {
	// Name identifies the monitor in logs and stall reasons, e.g.
	// "memtable" or "l0".
	Name string

	Logger   base.Logger
	Listener riftkv.EventListener

	// Controller is the controller votes are cast into.
	Controller *riftkv.Controller

	// Poll returns the current value of the counter this monitor watches.
	// It must be safe to call from the monitor's own goroutine.
	Poll func() uint64

	// StopThreshold and DelayThreshold are the counter values at or above
	// which a stop or delay vote is minted. A threshold of 0 disables that
	// vote kind.
	StopThreshold  uint64
	DelayThreshold uint64

	// DelayRate is the rate a delay vote is minted at when DelayThreshold is
	// crossed, whether or not StopThreshold is crossed too.
	DelayRate uint64

	stopTok  *riftkv.StopToken
	delayTok *riftkv.DelayToken
}

// tick polls once and updates votes, firing WriteStallBegin/WriteStallEnd on
// the transition into or out of "this monitor is voting at all".
func (m *Monitor) tick() {
	wasActive := m.stopTok != nil || m.delayTok != nil

	v := m.Poll()

	if m.StopThreshold > 0 && v >= m.StopThreshold {
		if m.stopTok == nil {
			m.stopTok = m.Controller.NewStopToken()
			m.Logger.Infof("%s: stop vote cast (value=%d threshold=%d)", m.Name, v, m.StopThreshold)
		}
	} else if m.stopTok != nil {
		_ = m.stopTok.Close()
		m.stopTok = nil
	}

	if m.DelayThreshold > 0 && v >= m.DelayThreshold {
		if m.delayTok == nil {
			m.delayTok = m.Controller.NewDelayToken(m.DelayRate)
			m.Logger.Infof("%s: delay vote cast at %d bytes/sec (value=%d threshold=%d)",
				m.Name, m.DelayRate, v, m.DelayThreshold)
		}
	} else if m.delayTok != nil {
		_ = m.delayTok.Close()
		m.delayTok = nil
	}

	isActive := m.stopTok != nil || m.delayTok != nil
	switch {
	case !wasActive && isActive:
		reason := m.Name + " threshold reached"
		if m.Listener.WriteStallBegin != nil {
			m.Listener.WriteStallBegin(riftkv.WriteStallBeginInfo{Reason: reason})
		}
	case wasActive && !isActive:
		if m.Listener.WriteStallEnd != nil {
			m.Listener.WriteStallEnd()
		}
	}
}

// Run polls at the given interval until ctx is cancelled. It always returns
// a non-nil error (ctx.Err()) on exit, so it composes directly with
// errgroup.Group.Go via Group.Add.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick()
		}
	}
}

// Group runs a set of Monitors under one cancellation scope, grounded on
// replay.Runner's use of errgroup.WithContext to own a handful of long-lived
// background goroutines with a shared error/cancellation path.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup creates a Group whose monitors are cancelled when ctx is done or
// when any monitor's Run returns a non-context error.
func NewGroup(ctx context.Context) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}
}

// Add starts m polling at interval as part of the group.
func (gr *Group) Add(m *Monitor, interval time.Duration) {
	gr.g.Go(func() error { return m.Run(gr.ctx, interval) })
}

// Wait blocks until every monitor in the group has stopped, returning the
// first non-context-cancellation error encountered, if any.
func (gr *Group) Wait() error {
	if err := gr.g.Wait(); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return err
	}
	return nil
}
