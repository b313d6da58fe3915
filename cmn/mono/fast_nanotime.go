//go:build mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import (
	_ "unsafe" // for go:linkname
)

// runtime.nanotime reads CLOCK_MONOTONIC on linux
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
