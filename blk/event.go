// Package blk describes block-layer requests as reported by kernel instrumentation:
// the event wire layout, request operation flags, and device numbers.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	TaskCommLen = 16
	DiskNameLen = 32

	// EventSize is the size of one record as emitted by the instrumentation
	EventSize = 64

	// QDeltaNone: no matching insert was observed, or queued time is not measured
	QDeltaNone = -1
)

// Event is one completed request; field order and widths follow the wire layout.
type Event struct {
	Comm     [TaskCommLen]byte
	Delta    uint64 // ns, issue (or insert) to completion
	QDelta   int64  // ns, insert to issue, or QDeltaNone
	Ts       uint64 // ns, CLOCK_MONOTONIC at completion
	Sector   uint64
	Len      uint32 // bytes
	Pid      uint32
	CmdFlags OpFlags
	Dev      DevT
}

type ErrShortEvent struct {
	size int
}

func (e *ErrShortEvent) Error() string {
	return fmt.Sprintf("short event record: %dB (expecting %dB)", e.size, EventSize)
}

// Decode parses one record in host byte order; trailing bytes (perf sample padding) are ignored.
func Decode(b []byte) (ev Event, err error) {
	if len(b) < EventSize {
		return ev, &ErrShortEvent{len(b)}
	}
	ne := binary.NativeEndian
	copy(ev.Comm[:], b[0:16])
	ev.Delta = ne.Uint64(b[16:24])
	ev.QDelta = int64(ne.Uint64(b[24:32]))
	ev.Ts = ne.Uint64(b[32:40])
	ev.Sector = ne.Uint64(b[40:48])
	ev.Len = ne.Uint32(b[48:52])
	ev.Pid = ne.Uint32(b[52:56])
	ev.CmdFlags = OpFlags(ne.Uint32(b[56:60]))
	ev.Dev = DevT(ne.Uint32(b[60:64]))
	return ev, nil
}

// Encode is the inverse of Decode (used by user-space producers and tests).
func (ev *Event) Encode(b []byte) []byte {
	var (
		ne  = binary.NativeEndian
		off = len(b)
	)
	b = append(b, make([]byte, EventSize)...)
	r := b[off:]
	copy(r[0:16], ev.Comm[:])
	ne.PutUint64(r[16:24], ev.Delta)
	ne.PutUint64(r[24:32], uint64(ev.QDelta))
	ne.PutUint64(r[32:40], ev.Ts)
	ne.PutUint64(r[40:48], ev.Sector)
	ne.PutUint32(r[48:52], ev.Len)
	ne.PutUint32(r[52:56], ev.Pid)
	ne.PutUint32(r[56:60], uint32(ev.CmdFlags))
	ne.PutUint32(r[60:64], uint32(ev.Dev))
	return b
}

// Command returns the process name up to the first NUL.
func (ev *Event) Command() string {
	if i := bytes.IndexByte(ev.Comm[:], 0); i >= 0 {
		return string(ev.Comm[:i])
	}
	return string(ev.Comm[:])
}

func (ev *Event) SetCommand(comm string) {
	clear(ev.Comm[:])
	copy(ev.Comm[:TaskCommLen-1], comm)
}

func (ev *Event) HasQDelta() bool { return ev.QDelta != QDeltaNone }
