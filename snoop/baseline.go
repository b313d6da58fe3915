// Package snoop correlates and reports block I/O request completions:
// the polling loop, the per-record reporter, and the run configuration.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package snoop

import ratomic "sync/atomic"

// Baseline is the timestamp of the very first record observed in the process lifetime;
// set exactly once and never reset.
type Baseline struct {
	v ratomic.Uint64 // ts+1; zero when unset
}

// Observe sets the baseline unless already set, and returns it.
func (b *Baseline) Observe(ts uint64) uint64 {
	b.v.CompareAndSwap(0, ts+1)
	return b.v.Load() - 1
}

func (b *Baseline) IsSet() bool { return b.v.Load() != 0 }

// Rel returns seconds since the baseline; records that completed before it
// (delivered late by another CPU) come out negative.
func (b *Baseline) Rel(ts uint64) float64 {
	first := b.v.Load()
	if first == 0 {
		return 0
	}
	return float64(int64(ts-(first-1))) / 1e9
}
