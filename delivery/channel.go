// Package delivery provides the bounded channel between kernel instrumentation
// (producers) and the polling loop (single consumer).
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package delivery

import (
	"errors"
	"fmt"
	"sync"
	ratomic "sync/atomic"
	"time"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/debug"
)

// SrcDelivery tags records dropped by the Channel itself (as opposed to
// records the instrumentation could not hand over, e.g. "CPU #3")
const SrcDelivery = "delivery channel"

const DefaultCapacity = 4096

var ErrFailed = errors.New("delivery failed")

type (
	// Msg is either a record or an overflow notice (Lost > 0)
	Msg struct {
		Src   string
		Event blk.Event
		Lost  uint64
	}
	Batch []Msg

	Channel struct {
		ch        chan Msg
		failed    chan struct{}
		err       error
		dropped   ratomic.Uint64 // since the last Wait
		closed    ratomic.Bool
		failOnce  sync.Once
		closeOnce sync.Once
	}
)

func (m *Msg) IsLost() bool { return m.Lost > 0 }

func New(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Channel{
		ch:     make(chan Msg, capacity),
		failed: make(chan struct{}),
	}
}

//
// producer side
//

// Send never blocks: when full, the record is dropped and accounted for.
func (c *Channel) Send(ev *blk.Event) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.ch <- Msg{Event: *ev}:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Lost forwards an overflow reported by the instrumentation itself.
func (c *Channel) Lost(src string, n uint64) {
	if n == 0 || c.closed.Load() {
		return
	}
	select {
	case c.ch <- Msg{Src: src, Lost: n}:
	default:
		c.dropped.Add(n)
	}
}

// Fail reports a hard (non-recoverable) producer error; only the first one is kept.
func (c *Channel) Fail(err error) {
	debug.Assert(err != nil)
	c.failOnce.Do(func() {
		c.err = fmt.Errorf("%w: %w", ErrFailed, err)
		close(c.failed)
	})
}

func (c *Channel) Close() {
	c.closeOnce.Do(func() { c.closed.Store(true) })
}

//
// consumer side
//

// Wait blocks for up to timeout for the first message and then drains whatever is
// already queued (bounded by capacity), preserving arrival order. Timing out is not
// an error. Once the producer has failed, queued messages are still delivered and
// the error is returned when nothing else remains.
func (c *Channel) Wait(timeout time.Duration) (Batch, error) {
	var (
		batch Batch
		timer = time.NewTimer(timeout)
	)
	defer timer.Stop()

	select {
	case msg := <-c.ch:
		batch = append(batch, msg)
	case <-c.failed:
		if len(c.ch) == 0 {
			return c.drops(nil), c.err
		}
	case <-timer.C:
		return c.drops(nil), nil
	}
drain:
	for len(batch) < cap(c.ch) {
		select {
		case msg := <-c.ch:
			batch = append(batch, msg)
		default:
			break drain
		}
	}
	return c.drops(batch), nil
}

func (c *Channel) drops(batch Batch) Batch {
	if n := c.dropped.Swap(0); n > 0 {
		batch = append(batch, Msg{Src: SrcDelivery, Lost: n})
	}
	return batch
}
