// Package stats registers, tracks, logs, and exports tracer-health counters.
/*
 * Copyright (c) 2024-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	ratomic "sync/atomic"

	"github.com/NVIDIA/biosnoop/cmn/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// each statsValue keeps its own running total next to the Prometheus collector,
// so that the final summary is available with or without a scrape endpoint

type (
	iprom interface {
		inc(parent *statsValue)
		add(parent *statsValue, val int64)
		addWith(parent *statsValue, label string, val int64)
	}

	counter    struct{ prometheus.Counter }
	counterVec struct{ *prometheus.CounterVec }
)

// interface guard
var (
	_ iprom = (*counter)(nil)
	_ iprom = (*counterVec)(nil)
)

func (v counter) inc(parent *statsValue) {
	ratomic.AddInt64(&parent.Value, 1)
	v.Inc()
}

func (v counter) add(parent *statsValue, val int64) {
	ratomic.AddInt64(&parent.Value, val)
	v.Add(float64(val))
}

func (v counterVec) addWith(parent *statsValue, label string, val int64) {
	ratomic.AddInt64(&parent.Value, val)
	v.WithLabelValues(label).Add(float64(val))
}

// illegal impl. placeholders

func (counter) addWith(*statsValue, string, int64) { debug.Assert(false) }
func (counterVec) inc(*statsValue)                 { debug.Assert(false) }
func (counterVec) add(*statsValue, int64)          { debug.Assert(false) }
