//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import (
	"time"

	"golang.org/x/sys/unix"
)

// NanoTime returns CLOCK_MONOTONIC nanoseconds - the clock used by bpf_ktime_get_ns()
// and by blktrace timestamps.
func NanoTime() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().UnixNano()
	}
	return ts.Nano()
}
