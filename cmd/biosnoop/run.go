// Package main is the biosnoop command: trace block device I/O with latency,
// one line per completed request.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"os"
	"strings"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/blktrace"
	"github.com/NVIDIA/biosnoop/bpf"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/mono"
	"github.com/NVIDIA/biosnoop/cmn/nlog"
	"github.com/NVIDIA/biosnoop/delivery"
	"github.com/NVIDIA/biosnoop/ios"
	"github.com/NVIDIA/biosnoop/snoop"
	"github.com/NVIDIA/biosnoop/stats"

	"github.com/pkg/errors"
)

type (
	// producer is the kernel-side instrumentation, either backend
	producer interface {
		Run(ch *delivery.Channel)
		Close() error
	}
	// releases, in reverse order, whatever was acquired
	teardown struct {
		closers []func() error
	}
)

func (td *teardown) add(closer func() error) { td.closers = append(td.closers, closer) }

func (td *teardown) release() {
	errs := cos.NewErrs()
	for i := len(td.closers) - 1; i >= 0; i-- {
		if err := td.closers[i](); err != nil {
			errs.Add(err)
		}
	}
	if cnt, err := errs.JoinErr(); cnt > 0 {
		nlog.Warningf("teardown: %d error%s: %v", cnt, cos.Plural(cnt), err)
	}
}

func run(cfg *snoop.Config, stop *cos.StopCh) error {
	var (
		td      teardown
		tracker = stats.NewTracker()
		dev     blk.DevT
	)
	nlog.SetVerbose(cfg.Verbose)
	defer td.release()

	if cfg.PromAddr != "" {
		srv, err := tracker.Serve(cfg.PromAddr)
		if err != nil {
			return err
		}
		td.add(srv.Close)
	}

	parts, err := ios.LoadPartitions()
	if err != nil {
		return err
	}
	td.add(func() error { parts.Close(); return nil })
	if cfg.Disk != "" {
		if dev, err = parts.ByName(cfg.Disk); err != nil {
			return errors.Wrap(err, "invalid partition name")
		}
	}

	ch := delivery.New(delivery.DefaultCapacity)
	td.add(func() error { ch.Close(); return nil })
	prod, err := open(cfg, dev, tracker)
	if err != nil {
		return err
	}
	td.add(prod.Close)
	prod.Run(ch)

	opts := []snoop.Option{snoop.WithStop(stop), snoop.WithTracker(tracker)}
	if cfg.Disk != "" && cfg.Backend == snoop.BackendBPF {
		opts = append(opts, snoop.WithFilter(dev))
	}
	var (
		loop    = snoop.NewLoop(cfg, ch, parts, os.Stdout, opts...)
		started = mono.NanoTime()
	)
	err = loop.Run()
	nlog.Infof("%s after %v", loop.State(), mono.Since(started))
	tracker.Log()
	return err
}

func open(cfg *snoop.Config, dev blk.DevT, tracker *stats.Tracker) (producer, error) {
	switch cfg.Backend {
	case snoop.BackendBlktrace:
		return blktrace.Open(&blktrace.Options{
			Device:   "/dev/" + strings.TrimPrefix(cfg.Disk, "/dev/"),
			Queued:   cfg.Queued,
			OnOrphan: tracker.Orphan,
		})
	default:
		return bpf.Open(&bpf.Options{
			Object:    cfg.BPFObject,
			Cgroup:    cfg.CgroupPath,
			Dev:       dev,
			FilterDev: cfg.Disk != "",
			Queued:    cfg.Queued,
		})
	}
}
