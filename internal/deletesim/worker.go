// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package deletesim simulates background compaction/flush workers: producers
// that generate I/O pressure, pace their own throughput against a shared
// internal/rate.Limiter, and expose a running byte count that
// internal/stress monitors poll to decide whether to vote into the
// foreground write controller.
package deletesim

import (
	"context"
	"sync/atomic"

	"github.com/riftkv/riftkv/internal/rate"
)

// DefaultChunkBytes is the unit of simulated I/O a Worker performs per
// pacing step.
const DefaultChunkBytes = 4 << 20

// Worker simulates one background compaction or flush job. Each iteration it
// "writes" ChunkBytes, pacing the write against Limiter (a background I/O
// budget shared across all workers) and reporting progress through Smoother
// so bursts of completions get spread out rather than landing all at once.
type Worker struct {
	Name string

	// Limiter paces this worker's simulated I/O against the other
	// background workers sharing it. Required.
	Limiter *rate.Limiter

	// Smoother turns idle time into evenly-distributed sleeps across all
	// workers tracked by it. Optional; nil disables smoothing.
	Smoother *rate.Smoother

	// ChunkBytes overrides DefaultChunkBytes if positive.
	ChunkBytes float64

	// TotalBytes is how much simulated I/O this worker performs before
	// Run returns.
	TotalBytes uint64

	written atomic.Uint64
}

// BytesWritten reports how much simulated I/O this worker has completed so
// far. A stress.Monitor polls this (summed across workers) as its
// compaction-debt or queued-bytes counter.
func (w *Worker) BytesWritten() uint64 {
	return w.written.Load()
}

// Run performs TotalBytes of simulated I/O in ChunkBytes increments until
// complete or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	chunk := w.ChunkBytes
	if chunk <= 0 {
		chunk = DefaultChunkBytes
	}

	var tracked rate.Tracked
	if w.Smoother != nil {
		tracked = w.Smoother.Track(func() uint64 { return w.written.Load() })
		defer tracked.Close()
	}

	for w.written.Load() < w.TotalBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Limiter.WaitCtx(ctx, chunk); err != nil {
			return err
		}
		w.written.Add(uint64(chunk))
		if tracked != nil {
			tracked.Tick()
		}
	}
	return nil
}
