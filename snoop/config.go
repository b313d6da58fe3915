// Package snoop correlates and reports block I/O request completions:
// the polling loop, the per-record reporter, and the run configuration.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package snoop

import (
	"fmt"
	"time"

	"github.com/NVIDIA/biosnoop/blk"
)

const (
	BackendBPF      = "bpf"
	BackendBlktrace = "blktrace"
)

const DefaultPollInterval = 100 * time.Millisecond

// Config is fixed at startup and immutable for the duration of the run
type Config struct {
	Disk       string        // trace this disk (or partition) only
	CgroupPath string        // trace processes in this cgroup (v2) only
	Backend    string        // BackendBPF (default) or BackendBlktrace
	BPFObject  string        // compiled instrumentation (BackendBPF)
	PromAddr   string        // optional listen address for tracer-health metrics
	Duration   time.Duration // zero: until interrupted

	PollInterval time.Duration // bounded wait per polling cycle

	Queued  bool // include OS queued time and show the QUE(ms) column
	Verbose bool
}

func (c *Config) Validate() error {
	if c.Duration < 0 {
		return fmt.Errorf("invalid duration %v", c.Duration)
	}
	if len(c.Disk)+1 > blk.DiskNameLen {
		return fmt.Errorf("invalid disk name %q: too long", c.Disk)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	switch c.Backend {
	case "":
		c.Backend = BackendBPF
	case BackendBPF:
	case BackendBlktrace:
		if c.Disk == "" {
			return fmt.Errorf("backend %q requires a disk to trace", c.Backend)
		}
		if c.CgroupPath != "" {
			return fmt.Errorf("backend %q cannot filter by cgroup", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q (expecting %q or %q)", c.Backend, BackendBPF, BackendBlktrace)
	}
	return nil
}
