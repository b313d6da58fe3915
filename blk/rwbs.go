// Package blk describes block-layer requests as reported by kernel instrumentation:
// the event wire layout, request operation flags, and device numbers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blk

// request operations and flags (include/linux/blk_types.h)
const (
	ReqOpBits = 8
	ReqOpMask = 1<<ReqOpBits - 1
)

const (
	ReqOpRead        = 0
	ReqOpWrite       = 1
	ReqOpFlush       = 2
	ReqOpDiscard     = 3
	ReqOpSecureErase = 5
	ReqOpWriteSame   = 7 // removed in 5.18, still decoded for older kernels
	ReqOpWriteZeroes = 9
)

const (
	ReqSync     OpFlags = 1 << (ReqOpBits + 3)
	ReqMeta     OpFlags = 1 << (ReqOpBits + 4)
	ReqFUA      OpFlags = 1 << (ReqOpBits + 9)
	ReqPreflush OpFlags = 1 << (ReqOpBits + 10)
	ReqRahead   OpFlags = 1 << (ReqOpBits + 11)
)

// RWBSLen bounds the decoded string
const RWBSLen = 8

// OpFlags is the request's cmd_flags: operation in the low ReqOpBits, modifiers above.
type OpFlags uint32

func (f OpFlags) Op() uint32               { return uint32(f) & ReqOpMask }
func (f OpFlags) IsSet(flags OpFlags) bool { return f&flags == flags }

// RWBS decodes flags into the short form used by blktrace(8) and biosnoop(8), e.g. "WFS".
// Every value decodes to a non-empty string of at most RWBSLen characters.
func (f OpFlags) RWBS() string {
	var (
		rwbs [RWBSLen]byte
		i    int
	)
	if f.IsSet(ReqPreflush) {
		rwbs[i] = 'F'
		i++
	}
	switch f.Op() {
	case ReqOpWrite, ReqOpWriteSame:
		rwbs[i] = 'W'
		i++
	case ReqOpDiscard:
		rwbs[i] = 'D'
		i++
	case ReqOpSecureErase:
		rwbs[i], rwbs[i+1] = 'D', 'E'
		i += 2
	case ReqOpFlush:
		rwbs[i] = 'F'
		i++
	case ReqOpRead:
		rwbs[i] = 'R'
		i++
	default:
		rwbs[i] = 'N'
		i++
	}
	for _, m := range modifiers {
		if f.IsSet(m.flag) {
			rwbs[i] = m.c
			i++
		}
	}
	return string(rwbs[:i])
}

// order matters
var modifiers = [...]struct {
	flag OpFlags
	c    byte
}{
	{ReqFUA, 'F'},
	{ReqRahead, 'A'},
	{ReqSync, 'S'},
	{ReqMeta, 'M'},
}
