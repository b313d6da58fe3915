// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"bytes"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/delivery"
)

const (
	DefaultMaxPending = 64 * 1024
	maxComms          = 4 * 1024
)

// SrcCorrelator tags starts the correlator had no room for (their completions
// are never reported)
const SrcCorrelator = "blktrace correlator"

type (
	reqKey struct {
		sector uint64
		dev    blk.DevT
	}
	// one generation of a request: from its first start record to its completion
	pending struct {
		comm     [blk.TaskCommLen]byte
		insert   uint64
		issue    uint64
		bytes    uint32
		pid      uint32
		flags    blk.OpFlags
		inserted bool
		issued   bool
		requeued bool // back in the OS queue, may be inserted again
		owned    bool
	}
	// generations in flight at the same (device, sector), oldest first
	fifo []*pending

	// Correlator matches starts with completions; it is not safe for concurrent use.
	Correlator struct {
		reqs     map[reqKey]fifo
		comms    map[uint32][blk.TaskCommLen]byte
		onOrphan func()
		max      int
		inflight int
		orphans  uint64
		refused  uint64
		reported uint64 // refused starts already sent as lost
		queued   bool
	}

	CorrelatorStats struct {
		Pending int
		Orphans uint64
		Refused uint64
	}
)

// NewCorrelator: with queued, latency includes the time spent in the OS queue
// (from insert, when seen) and QDelta is reported.
func NewCorrelator(queued bool, maxPending int, onOrphan func()) *Correlator {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if onOrphan == nil {
		onOrphan = func() {}
	}
	return &Correlator{
		reqs:     make(map[reqKey]fifo, 64),
		comms:    make(map[uint32][blk.TaskCommLen]byte, 64),
		onOrphan: onOrphan,
		max:      maxPending,
		queued:   queued,
	}
}

func (c *Correlator) Stats() CorrelatorStats {
	return CorrelatorStats{Pending: c.inflight, Orphans: c.orphans, Refused: c.refused}
}

// Forward feeds recs in order, sends completions to ch, and reports starts
// refused since the previous call as lost.
func (c *Correlator) Forward(recs []Record, ch *delivery.Channel) {
	for i := range recs {
		if ev, ok := c.Add(&recs[i]); ok {
			ch.Send(&ev)
		}
	}
	if n := c.refused - c.reported; n > 0 {
		ch.Lost(SrcCorrelator, n)
		c.reported = c.refused
	}
}

// Add consumes one record in (time, sequence) order and returns the completed
// request, if any.
func (c *Correlator) Add(rec *Record) (ev blk.Event, ok bool) {
	if rec.IsNotify() {
		if rec.Act() == TNProcess {
			c.setComm(rec.Pid, rec.PDU)
		}
		return
	}
	key := reqKey{sector: rec.Sector, dev: rec.Dev()}
	switch rec.Act() {
	case TAQueue:
		// every queued bio is a new generation
		if p := c.push(key, rec); p != nil {
			c.owner(p, rec.Pid)
		}
	case TAInsert:
		p := c.find(key, func(p *pending) bool { return !p.issued && (!p.inserted || p.requeued) })
		if p == nil {
			p = c.push(key, rec)
		}
		if p != nil {
			p.insert, p.inserted = rec.Time, true
			if !p.owned {
				c.owner(p, rec.Pid)
			}
		}
	case TAIssue:
		p := c.find(key, func(p *pending) bool { return !p.issued })
		if p == nil {
			p = c.push(key, rec)
		}
		if p != nil {
			p.issue, p.issued, p.requeued = rec.Time, true, false
			p.bytes = rec.Bytes
			p.flags = OpFlags(rec.Category(), rec.Bytes)
			if !p.owned {
				c.owner(p, rec.Pid) // best effort: may well be a kworker
			}
		}
	case TARequeue:
		if p := c.find(key, func(p *pending) bool { return p.issued }); p != nil {
			p.issued, p.requeued = false, true
		}
	case TABackMerge:
		// the bio becomes part of an existing request
		c.dropBio(key)
	case TAFrontMerge:
		// the bio becomes the head of the request that started right after it
		c.dropBio(key)
		old := reqKey{sector: rec.Sector + uint64(rec.Bytes/sectorSize), dev: key.dev}
		if p := c.find(old, func(p *pending) bool { return !p.issued }); p != nil {
			c.remove(old, p)
			p.bytes += rec.Bytes
			c.reqs[key] = append(c.reqs[key], p)
			c.inflight++
		}
	case TAComplete:
		return c.complete(key, rec)
	}
	return
}

// push appends a new generation for key, or returns nil when at capacity
func (c *Correlator) push(key reqKey, rec *Record) *pending {
	if c.inflight >= c.max {
		c.refused++
		return nil
	}
	p := &pending{bytes: rec.Bytes, flags: OpFlags(rec.Category(), rec.Bytes)}
	c.reqs[key] = append(c.reqs[key], p)
	c.inflight++
	return p
}

// find returns the oldest generation at key that satisfies cond
func (c *Correlator) find(key reqKey, cond func(*pending) bool) *pending {
	for _, p := range c.reqs[key] {
		if cond(p) {
			return p
		}
	}
	return nil
}

func (c *Correlator) remove(key reqKey, p *pending) {
	q := c.reqs[key]
	for i := range q {
		if q[i] != p {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		c.inflight--
		break
	}
	if len(q) == 0 {
		delete(c.reqs, key)
	} else {
		c.reqs[key] = q
	}
}

// dropBio removes the newest generation at key that has only been queued
func (c *Correlator) dropBio(key reqKey) {
	q := c.reqs[key]
	for i := len(q) - 1; i >= 0; i-- {
		if !q[i].inserted && !q[i].issued {
			c.remove(key, q[i])
			return
		}
	}
}

func (c *Correlator) owner(p *pending, pid uint32) {
	p.pid, p.owned = pid, true
	if comm, ok := c.comms[pid]; ok {
		p.comm = comm
	}
}

// complete pairs the completion with the oldest issued generation at key
func (c *Correlator) complete(key reqKey, rec *Record) (ev blk.Event, ok bool) {
	p := c.find(key, func(p *pending) bool { return p.issued })
	if p == nil {
		// never started (e.g., before tracing), already completed, or refused
		c.orphan()
		return
	}
	c.remove(key, p)

	start := p.issue
	ev.QDelta = blk.QDeltaNone
	if c.queued && p.inserted {
		if p.issue < p.insert {
			c.orphan()
			return
		}
		start = p.insert
		ev.QDelta = int64(p.issue - p.insert)
	}
	if rec.Time < start {
		// out of order across CPUs: no valid latency
		c.orphan()
		return ev, false
	}
	ev.Comm = p.comm
	ev.Delta = rec.Time - start
	ev.Ts = rec.Time
	ev.Sector = key.sector
	ev.Len = p.bytes
	ev.Pid = p.pid
	ev.CmdFlags = p.flags
	ev.Dev = key.dev
	return ev, true
}

func (c *Correlator) orphan() {
	c.orphans++
	c.onOrphan()
}

func (c *Correlator) setComm(pid uint32, pdu []byte) {
	var comm [blk.TaskCommLen]byte
	if i := bytes.IndexByte(pdu, 0); i >= 0 {
		pdu = pdu[:i]
	}
	copy(comm[:blk.TaskCommLen-1], pdu)
	if len(c.comms) >= maxComms {
		clear(c.comms)
	}
	c.comms[pid] = comm
}
