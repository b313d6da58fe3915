// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"errors"
	"io"
	"slices"

	"github.com/NVIDIA/biosnoop/cmn/nlog"
)

const readBufSize = 64 * 1024

type (
	// per-CPU relay channel; rem holds the trailing partial record, if any
	cpuRelay struct {
		r   io.Reader
		rem []byte
		cpu int
	}
	// relay gathers (sweeps) all CPU channels, in a single goroutine
	relay struct {
		cpus []*cpuRelay
		buf  []byte
		recs []Record
	}
)

func newRelay(readers []io.Reader) *relay {
	rl := &relay{cpus: make([]*cpuRelay, len(readers)), buf: make([]byte, readBufSize)}
	for i, r := range readers {
		rl.cpus[i] = &cpuRelay{r: r, cpu: i}
	}
	return rl
}

// sweep drains whatever is currently available on every CPU and returns
// complete records ordered by (time, sequence); valid until the next sweep.
func (rl *relay) sweep() ([]Record, error) {
	rl.recs = rl.recs[:0]
	for _, c := range rl.cpus {
		if err := rl.drain(c); err != nil {
			return nil, err
		}
	}
	slices.SortFunc(rl.recs, func(a, b Record) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
	return rl.recs, nil
}

func (rl *relay) drain(c *cpuRelay) error {
	for {
		n, err := c.r.Read(rl.buf)
		if n > 0 {
			c.rem = append(c.rem, rl.buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if n == 0 {
			break
		}
	}
	off := rl.parse(c)
	c.rem = c.rem[:copy(c.rem, c.rem[off:])]
	return nil
}

// parse consumes complete records from c.rem and returns the consumed length
func (rl *relay) parse(c *cpuRelay) (off int) {
	for off < len(c.rem) {
		tr, n, err := ParseTrace(c.rem[off:])
		if err != nil {
			// not resyncable: drop what's buffered on this CPU
			nlog.Warningf("CPU #%d: %v - discarding %d bytes", c.cpu, err, len(c.rem)-off)
			return len(c.rem)
		}
		if n == 0 {
			return off // partial
		}
		rec := Record{Trace: tr}
		if tr.IsNotify() && tr.PDULen > 0 {
			rec.PDU = slices.Clone(c.rem[off+TraceSize : off+n])
		}
		rl.recs = append(rl.recs, rec)
		off += n
	}
	return off
}
