// Package stats registers, tracks, logs, and exports tracer-health counters.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"strings"
	ratomic "sync/atomic"

	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/debug"
	"github.com/NVIDIA/biosnoop/cmn/nlog"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "biosnoop"

// all supported metrics (counters)
const (
	Records  = "records.n"  // rendered
	Lost     = "lost.n"     // never delivered, by source (CPU ring, delivery channel)
	Filtered = "filtered.n" // delivered but not for the traced device
	Orphans  = "orphans.n"  // completions with no matching start (blktrace)
)

const labelSource = "source"

type (
	statsValue struct {
		iprom iprom
		prom  string // fully qualified Prometheus name
		Value int64
	}

	// Tracker is a Prometheus registry private to the process
	// plus the named counters it exports.
	Tracker struct {
		reg     *prometheus.Registry
		tracker map[string]*statsValue
	}
)

func NewTracker() *Tracker {
	t := &Tracker{
		reg:     prometheus.NewRegistry(),
		tracker: make(map[string]*statsValue, 4),
	}
	t.reg.MustRegister(
		t.regCounter(Records, "records_total", "Number of block I/O completions reported"),
		t.regCounterVec(Lost, "lost_records_total", "Number of records lost before reaching user space", labelSource),
		t.regCounter(Filtered, "filtered_records_total", "Number of records dropped by the device filter"),
		t.regCounter(Orphans, "orphan_completions_total", "Number of completions without a matching request start"),
	)
	return t
}

func (t *Tracker) regCounter(name, metric, help string) prometheus.Collector {
	fqn := prometheus.BuildFQName(namespace, "", metric)
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: fqn, Help: help})
	t.tracker[name] = &statsValue{iprom: counter{c}, prom: fqn}
	return c
}

func (t *Tracker) regCounterVec(name, metric, help string, labels ...string) prometheus.Collector {
	fqn := prometheus.BuildFQName(namespace, "", metric)
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: fqn, Help: help}, labels)
	t.tracker[name] = &statsValue{iprom: counterVec{c}, prom: fqn}
	return c
}

func (t *Tracker) Registry() *prometheus.Registry { return t.reg }

func (t *Tracker) inc(name string) {
	v, ok := t.tracker[name]
	debug.Assertf(ok, "invalid metric name %q", name)
	v.iprom.inc(v)
}

func (t *Tracker) Record()   { t.inc(Records) }
func (t *Tracker) Filtered() { t.inc(Filtered) }
func (t *Tracker) Orphan()   { t.inc(Orphans) }

func (t *Tracker) Lost(src string, n uint64) {
	v := t.tracker[Lost]
	v.iprom.addWith(v, src, int64(n))
}

// Get returns the running total (all label values combined).
func (t *Tracker) Get(name string) int64 {
	v, ok := t.tracker[name]
	debug.Assertf(ok, "invalid metric name %q", name)
	return ratomic.LoadInt64(&v.Value)
}

// Log writes the (nonzero) totals, e.g. upon exit.
func (t *Tracker) Log() {
	var sb strings.Builder
	for _, name := range []string{Records, Lost, Filtered, Orphans} {
		if val := t.Get(name); val != 0 {
			if sb.Len() > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(cos.FormatBigI64(val))
		}
	}
	if sb.Len() == 0 {
		return
	}
	nlog.Infoln("stats:", sb.String())
}
