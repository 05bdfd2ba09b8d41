// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/riftkv/riftkv"
	"github.com/riftkv/riftkv/internal/base"
	"github.com/riftkv/riftkv/internal/deletesim"
	"github.com/riftkv/riftkv/internal/rate"
	"github.com/riftkv/riftkv/internal/stress"
)

var (
	simDuration     time.Duration
	simWriters      int
	simWriteRate    uint64
	simBacklogBytes uint64
	simVerbose      bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "run a synthetic foreground-writer / stress-producer simulation against a Controller",
	Long:  ``,
	Args:  cobra.NoArgs,
	Run:   runSimulate,
}

func init() {
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "d", 10*time.Second,
		"how long to run the simulation")
	simulateCmd.Flags().IntVarP(&simWriters, "writers", "w", 4,
		"number of concurrent foreground writer goroutines")
	simulateCmd.Flags().Uint64Var(&simWriteRate, "rate", 10<<20,
		"configured write controller rate, in bytes/sec")
	simulateCmd.Flags().Uint64Var(&simBacklogBytes, "backlog", 256<<20,
		"total simulated background compaction backlog, in bytes")
	simulateCmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false,
		"log every stall transition")
}

func runSimulate(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), simDuration)
	defer cancel()

	var logger base.Logger = base.DefaultLogger{}
	if !simVerbose {
		logger = base.NoopLogger{}
	}

	if simWriters < 1 {
		logger.Fatalf("simulate: --writers must be at least 1, got %d", simWriters)
		return
	}

	opts := (&riftkv.Options{
		WriteRateBytesPerSec: simWriteRate,
		Logger:               logger,
	}).EnsureDefaults()
	opts.EventListener = riftkv.MakeLoggingEventListener(logger)

	controller := riftkv.NewController(opts.WriteRateBytesPerSec)
	clock := riftkv.SystemClock{}

	// One simulated compaction worker generates backlog pressure; a stress
	// monitor watches its running byte count and votes into the controller.
	limiter := rate.NewLimiter(float64(simBacklogBytes)/simDuration.Seconds()*4, float64(simBacklogBytes)/8)
	smoother := rate.NewSmoother()
	smoother.Start()
	defer smoother.Stop()

	worker := &deletesim.Worker{
		Name:       "compaction",
		Limiter:    limiter,
		Smoother:   smoother,
		TotalBytes: simBacklogBytes,
	}

	monitor := &stress.Monitor{
		Name:           "compaction-debt",
		Logger:         logger,
		Listener:       opts.EventListener,
		Controller:     controller,
		Poll:           worker.BytesWritten,
		StopThreshold:  opts.CompactionDebtStopThreshold,
		DelayThreshold: opts.CompactionDebtDelayThreshold,
		DelayRate:      opts.WriteRateBytesPerSec / 2,
	}

	group := stress.NewGroup(ctx)
	group.Add(monitor, time.Duration(opts.MonitorPollIntervalMillis)*time.Millisecond)

	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "compaction worker: %s\n", err)
		}
	}()

	results := make(chan uint64, simWriters)
	for i := 0; i < simWriters; i++ {
		go func(seed int64) {
			r := rand.New(rand.NewSource(seed))
			var written uint64
			for ctx.Err() == nil {
				if controller.IsStopped() {
					time.Sleep(time.Millisecond)
					continue
				}
				n := uint64(r.Intn(4096) + 256)
				controller.ClampedWait(clock, n, func(us uint64) {
					time.Sleep(time.Duration(us) * time.Microsecond)
				})
				written += n
			}
			results <- written
		}(time.Now().UnixNano() + int64(i))
	}

	<-ctx.Done()
	_ = group.Wait()

	var total uint64
	for i := 0; i < simWriters; i++ {
		total += <-results
	}

	fmt.Printf("simulated %d writers for %s: %d bytes written, final delay rate=%d bytes/sec, stopped=%v\n",
		simWriters, simDuration, total, controller.DelayedWriteRate(), controller.IsStopped())
}
