// Package blk describes block-layer requests as reported by kernel instrumentation:
// the event wire layout, request operation flags, and device numbers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blk

import "strconv"

// kernel-internal dev_t (include/linux/kdev_t.h), not the userspace (glibc) encoding
const (
	MinorBits = 20
	MinorMask = 1<<MinorBits - 1
)

type DevT uint32

func MkDev(major, minor uint32) DevT { return DevT(major<<MinorBits | minor&MinorMask) }

func (d DevT) Major() uint32 { return uint32(d) >> MinorBits }
func (d DevT) Minor() uint32 { return uint32(d) & MinorMask }

func (d DevT) String() string {
	return strconv.FormatUint(uint64(d.Major()), 10) + ":" + strconv.FormatUint(uint64(d.Minor()), 10)
}
