// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"encoding/binary"
	"fmt"

	"github.com/NVIDIA/biosnoop/blk"
)

// trace actions (low 16 bits of Trace.Action; include/uapi/linux/blktrace_api.h)
const (
	TAQueue       = 1
	TABackMerge   = 2
	TAFrontMerge  = 3
	TAGetRq       = 4
	TASleepRq     = 5
	TARequeue     = 6
	TAIssue       = 7
	TAComplete    = 8
	TAPlug        = 9
	TAUnplugIO    = 10
	TAUnplugTimer = 11
	TAInsert      = 12
	TASplit       = 13
	TABounce      = 14
	TARemap       = 15
	TAAbort       = 16
	TADrvData     = 17
)

// notify actions (with TCNotify)
const (
	TNProcess   = 0
	TNTimestamp = 1
	TNMessage   = 2
)

// trace categories (high 16 bits of Trace.Action)
const (
	TCRead     = 1 << 0
	TCWrite    = 1 << 1
	TCFlush    = 1 << 2
	TCSync     = 1 << 3
	TCQueue    = 1 << 4
	TCRequeue  = 1 << 5
	TCIssue    = 1 << 6
	TCComplete = 1 << 7
	TCFS       = 1 << 8
	TCPC       = 1 << 9
	TCNotify   = 1 << 10
	TCAhead    = 1 << 11
	TCMeta     = 1 << 12
	TCDiscard  = 1 << 13
	TCDrvData  = 1 << 14
	TCFUA      = 1 << 15

	tcShift = 16
)

const (
	traceMagic   = 0x65617400
	traceVersion = 0x07

	TraceSize  = 48   // sizeof(struct blk_io_trace)
	maxPDULen  = 4096 // sanity
	sectorSize = 512
)

type (
	// Trace is the fixed-size header of every relay record (native byte order).
	Trace struct {
		Magic    uint32
		Sequence uint32
		Time     uint64 // CLOCK_MONOTONIC, ns
		Sector   uint64
		Bytes    uint32
		Action   uint32 // category << 16 | action
		Pid      uint32
		Device   uint32 // kernel dev_t
		CPU      uint32
		Error    uint16
		PDULen   uint16
	}
	// Record is a decoded Trace plus the payload, if any (notify only)
	Record struct {
		PDU []byte
		Trace
	}

	ErrBadTrace struct {
		magic uint32
	}
)

func (e *ErrBadTrace) Error() string {
	return fmt.Sprintf("invalid blk_io_trace magic/version %#x (expecting %#x)", e.magic, traceMagic|traceVersion)
}

func (tr *Trace) Act() uint32      { return tr.Action & 0xffff }
func (tr *Trace) Category() uint32 { return tr.Action >> tcShift }
func (tr *Trace) Dev() blk.DevT    { return blk.DevT(tr.Device) }

func (tr *Trace) IsNotify() bool { return tr.Category()&TCNotify != 0 }

// ParseTrace decodes the record at the head of b and returns its total length
// (header + payload). Zero length with nil error means b holds a partial record.
func ParseTrace(b []byte) (tr Trace, n int, err error) {
	if len(b) < TraceSize {
		return
	}
	tr.Magic = binary.NativeEndian.Uint32(b[0:])
	if tr.Magic&0xffffff00 != traceMagic || tr.Magic&0xff != traceVersion {
		err = &ErrBadTrace{tr.Magic}
		return
	}
	tr.Sequence = binary.NativeEndian.Uint32(b[4:])
	tr.Time = binary.NativeEndian.Uint64(b[8:])
	tr.Sector = binary.NativeEndian.Uint64(b[16:])
	tr.Bytes = binary.NativeEndian.Uint32(b[24:])
	tr.Action = binary.NativeEndian.Uint32(b[28:])
	tr.Pid = binary.NativeEndian.Uint32(b[32:])
	tr.Device = binary.NativeEndian.Uint32(b[36:])
	tr.CPU = binary.NativeEndian.Uint32(b[40:])
	tr.Error = binary.NativeEndian.Uint16(b[44:])
	tr.PDULen = binary.NativeEndian.Uint16(b[46:])
	if tr.PDULen > maxPDULen {
		err = &ErrBadTrace{tr.Magic}
		return
	}
	if total := TraceSize + int(tr.PDULen); len(b) >= total {
		n = total
	}
	return
}

// Encode appends the wire form of tr followed by pdu (tr.PDULen is overwritten).
func (tr *Trace) Encode(b, pdu []byte) []byte {
	var hdr [TraceSize]byte
	magic := tr.Magic
	if magic == 0 {
		magic = traceMagic | traceVersion
	}
	binary.NativeEndian.PutUint32(hdr[0:], magic)
	binary.NativeEndian.PutUint32(hdr[4:], tr.Sequence)
	binary.NativeEndian.PutUint64(hdr[8:], tr.Time)
	binary.NativeEndian.PutUint64(hdr[16:], tr.Sector)
	binary.NativeEndian.PutUint32(hdr[24:], tr.Bytes)
	binary.NativeEndian.PutUint32(hdr[28:], tr.Action)
	binary.NativeEndian.PutUint32(hdr[32:], tr.Pid)
	binary.NativeEndian.PutUint32(hdr[36:], tr.Device)
	binary.NativeEndian.PutUint32(hdr[40:], tr.CPU)
	binary.NativeEndian.PutUint16(hdr[44:], tr.Error)
	binary.NativeEndian.PutUint16(hdr[46:], uint16(len(pdu)))
	b = append(b, hdr[:]...)
	return append(b, pdu...)
}

// Act composes Trace.Action
func Act(action, category uint32) uint32 { return category<<tcShift | action }

// OpFlags translates trace categories into request op flags, so that
// records from either source decode to the same RWBS.
// Secure erase is reported by blktrace as a plain discard.
func OpFlags(category, bytes uint32) (f blk.OpFlags) {
	switch {
	case category&TCDiscard != 0:
		f = blk.ReqOpDiscard
	case category&TCFlush != 0 && category&TCWrite == 0 && bytes == 0:
		f = blk.ReqOpFlush // empty flush
	case category&TCWrite != 0:
		f = blk.ReqOpWrite
	default:
		f = blk.ReqOpRead
	}
	if category&TCFlush != 0 && f.Op() != blk.ReqOpFlush {
		f |= blk.ReqPreflush
	}
	if category&TCSync != 0 {
		f |= blk.ReqSync
	}
	if category&TCMeta != 0 {
		f |= blk.ReqMeta
	}
	if category&TCFUA != 0 {
		f |= blk.ReqFUA
	}
	if category&TCAhead != 0 {
		f |= blk.ReqRahead
	}
	return f
}
