// Package snoop correlates and reports block I/O request completions:
// the polling loop, the per-record reporter, and the run configuration.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package snoop

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/debug"
	"github.com/NVIDIA/biosnoop/cmn/mono"
	"github.com/NVIDIA/biosnoop/cmn/nlog"
	"github.com/NVIDIA/biosnoop/delivery"
)

type State int

const (
	StateInit State = iota
	StateRunning
	StateStoppingSignal
	StateStoppingDuration
	StateStoppingError
	StateTerminated
)

var stateNames = [...]string{
	StateInit:             "init",
	StateRunning:          "running",
	StateStoppingSignal:   "stopping(signal)",
	StateStoppingDuration: "stopping(duration)",
	StateStoppingError:    "stopping(error)",
	StateTerminated:       "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

type (
	// Receiver waits up to timeout for the next batch of records and lost notices;
	// an empty batch with nil error is a timeout.
	Receiver interface {
		Wait(timeout time.Duration) (delivery.Batch, error)
	}
	// Resolver maps a device number to its name (ios.UnknownDisk when there's none).
	Resolver interface {
		Resolve(dev blk.DevT) string
	}
	// Tracker counts what the loop does with each message (see stats).
	Tracker interface {
		Record()
		Filtered()
		Lost(src string, n uint64)
	}

	Option func(*Loop)

	Loop struct {
		cfg      *Config
		src      Receiver
		res      Resolver
		rep      *Reporter
		stop     *cos.StopCh
		tracker  Tracker
		ovw      io.Writer
		now      func() int64
		err      error
		base     Baseline
		deadline int64
		filter   blk.DevT
		state    State
		filtered bool
	}

	nopTracker struct{}
)

// interface guard
var _ Tracker = nopTracker{}

func (nopTracker) Record()             {}
func (nopTracker) Filtered()           {}
func (nopTracker) Lost(string, uint64) {}

// WithClock overrides the monotonic nanosecond clock.
func WithClock(now func() int64) Option { return func(l *Loop) { l.now = now } }

// WithStop sets the cancellation token checked once per polling cycle.
func WithStop(stop *cos.StopCh) Option { return func(l *Loop) { l.stop = stop } }

func WithTracker(t Tracker) Option { return func(l *Loop) { l.tracker = t } }

// WithFilter drops records of any device other than dev. Kernel-side filtering
// makes this redundant for the bpf backend; it is kept as the last line.
func WithFilter(dev blk.DevT) Option {
	return func(l *Loop) { l.filter, l.filtered = dev, true }
}

// WithOverflowWriter is where lost notices go (default: stderr).
func WithOverflowWriter(w io.Writer) Option { return func(l *Loop) { l.ovw = w } }

func NewLoop(cfg *Config, src Receiver, res Resolver, w io.Writer, opts ...Option) *Loop {
	debug.Assert(cfg != nil && src != nil && res != nil)
	l := &Loop{
		cfg:     cfg,
		src:     src,
		res:     res,
		rep:     NewReporter(w, cfg.Queued),
		stop:    cos.NewStopCh(),
		tracker: nopTracker{},
		ovw:     os.Stderr,
		now:     mono.NanoTime,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) State() State        { return l.state }
func (l *Loop) Baseline() *Baseline { return &l.base }

// Run prints the header and then dispatches records until interrupted, timed out,
// or failed. Only the latter returns an error. Resources are the caller's to release.
func (l *Loop) Run() error {
	l.state = StateInit
	if err := l.rep.Header(); err != nil {
		l.state = StateTerminated
		return err
	}
	if l.cfg.Duration > 0 {
		l.deadline = l.now() + int64(l.cfg.Duration)
	}
	interval := l.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	l.state = StateRunning
	for l.state == StateRunning {
		batch, err := l.src.Wait(interval)
		if errD := l.dispatch(batch); errD != nil && err == nil {
			err = errD
		}
		switch {
		case err != nil:
			l.err = err
			l.state = StateStoppingError
		case l.stop.Stopped():
			l.state = StateStoppingSignal
		case l.expired():
			l.state = StateStoppingDuration
		}
	}

	nlog.Infoln(l.state)
	stopping := l.state
	l.state = StateTerminated
	if stopping == StateStoppingError {
		return l.err
	}
	return nil
}

func (l *Loop) expired() bool { return l.deadline != 0 && l.now() > l.deadline }

// once the deadline has passed, records are skipped while overflow notices
// are still reported
func (l *Loop) dispatch(batch delivery.Batch) (err error) {
	var skipped int
	defer func() {
		if skipped > 0 {
			nlog.Infof("deadline passed: skipped %d record(s)", skipped)
		}
	}()
	for i := range batch {
		msg := &batch[i]
		if msg.IsLost() {
			fmt.Fprintf(l.ovw, "lost %d events on %s\n", msg.Lost, msg.Src)
			l.tracker.Lost(msg.Src, msg.Lost)
			continue
		}
		if skipped > 0 || l.expired() {
			skipped++
			continue
		}
		ev := &msg.Event
		if l.filtered && ev.Dev != l.filter {
			l.tracker.Filtered()
			continue
		}
		l.base.Observe(ev.Ts)
		if err := l.rep.Render(ev, l.base.Rel(ev.Ts), l.res.Resolve(ev.Dev)); err != nil {
			return err
		}
		l.tracker.Record()
	}
	return nil
}
