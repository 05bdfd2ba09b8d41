// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftkv

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the controller and the stress
// monitors report through. Callers register Collect() with their own
// registry. Use NewMetrics to build one: the zero value has no collectors,
// so Update on it panics.
type Metrics struct {
	// DelayRateBytesPerSec is the delay rate currently in effect, or 0 when
	// not delayed.
	DelayRateBytesPerSec prometheus.Gauge
	// StopVotes and DelayVotes mirror stopVoteCount/delayVoteCount.
	StopVotes  prometheus.Gauge
	DelayVotes prometheus.Gauge
	// StallDuration records how long each write stall lasted, from
	// WriteStallBegin to WriteStallEnd.
	StallDuration prometheus.Histogram
}

// NewMetrics constructs a Metrics with collectors named under the given
// namespace: plain prometheus.Histogram/prometheus.Gauge struct fields
// rather than a registry-owned vector. It does not register them with any
// registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DelayRateBytesPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_controller_delay_rate_bytes_per_sec",
			Help:      "Current write controller delay rate, or 0 if not delayed.",
		}),
		StopVotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_controller_stop_votes",
			Help:      "Number of outstanding stop votes.",
		}),
		DelayVotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_controller_delay_votes",
			Help:      "Number of outstanding delay votes.",
		}),
		StallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_controller_stall_duration_seconds",
			Help:      "Duration of write stalls, from stall begin to stall end.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
	}
}

// Collect returns the collectors so a caller can register them with a
// prometheus.Registerer, e.g. registerer.MustRegister(m.Collect()...).
func (m *Metrics) Collect() []prometheus.Collector {
	return []prometheus.Collector{
		m.DelayRateBytesPerSec,
		m.StopVotes,
		m.DelayVotes,
		m.StallDuration,
	}
}

// Update refreshes the gauge values from a live controller. Callers
// typically invoke this from a monitor's poll loop right after voting.
func (m *Metrics) Update(c *Controller) {
	if c.IsDelayed() {
		m.DelayRateBytesPerSec.Set(float64(c.DelayedWriteRate()))
	} else {
		m.DelayRateBytesPerSec.Set(0)
	}
	m.StopVotes.Set(float64(c.stopVoteCount.Load()))
	m.DelayVotes.Set(float64(c.delayVoteCount.Load()))
}
