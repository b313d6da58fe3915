// Package bpf loads, configures, and attaches the block I/O instrumentation
// and pumps its perf ring records into the delivery channel.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package bpf

import (
	"fmt"
	"os"
	"strings"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/debug"
	"github.com/NVIDIA/biosnoop/cmn/nlog"
	"github.com/NVIDIA/biosnoop/delivery"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const DefaultObject = "/usr/lib/biosnoop/biosnoop.bpf.o"

// programs, in attachment order
const (
	ProgIOStart    = "blk_account_io_start"
	ProgIOMergeBio = "blk_account_io_merge_bio" // optional: kernels that have the symbol
	ProgRqInsert   = "block_rq_insert"          // queued time only
	ProgRqIssue    = "block_rq_issue"
	ProgRqComplete = "block_rq_complete"
)

const (
	MapEvents = "events"
	MapCgroup = "cgroup_map"
)

// read-only (rodata) variables
const (
	VarQueued    = "targ_queued"
	VarFilterCg  = "filter_cg"
	VarFilterDev = "filter_dev"
	VarDev       = "targ_dev"
)

const PerCPUPages = 16

var progOrder = [...]string{ProgIOStart, ProgIOMergeBio, ProgRqInsert, ProgRqIssue, ProgRqComplete}

type (
	Options struct {
		Object   string   // compiled instrumentation (ELF)
		Cgroup   string   // cgroup v2 path; empty: all
		Kallsyms string   // default /proc/kallsyms
		Dev      blk.DevT // when FilterDev
		Pages    int      // perf ring size per CPU, in pages

		Queued    bool
		FilterDev bool
	}

	// Tracer owns every kernel-side resource; Close releases them in reverse order.
	Tracer struct {
		coll  *ebpf.Collection
		rd    *perf.Reader
		done  chan struct{}
		links []link.Link
		cgfd  int
	}
)

// Open acquires (in this order) the cgroup fd, the collection, the links, and
// the perf reader. On error everything acquired so far is released.
func Open(opts *Options) (t *Tracer, err error) {
	debug.Assert(opts.Object != "")
	t = &Tracer{cgfd: -1}
	defer func() {
		if err != nil {
			if errC := t.Close(); errC != nil {
				nlog.Warningln("cleanup:", errC)
			}
			t = nil
		}
	}()

	if err = rlimit.RemoveMemlock(); err != nil {
		return t, errors.Wrap(err, "failed to remove memlock rlimit")
	}
	if opts.Cgroup != "" {
		if t.cgfd, err = unix.Open(opts.Cgroup, unix.O_RDONLY|unix.O_CLOEXEC, 0); err != nil {
			t.cgfd = -1
			return t, errors.Wrapf(err, "failed opening cgroup path %q", opts.Cgroup)
		}
	}

	spec, err := ebpf.LoadCollectionSpec(opts.Object)
	if err != nil {
		return t, errors.Wrapf(err, "failed to open BPF object %q", opts.Object)
	}
	kallsyms := cos.Either(opts.Kallsyms, procKallsyms)
	hasMerge, err := hasSymbol(kallsyms, ProgIOMergeBio)
	if err != nil {
		return t, err
	}
	if err = prepare(spec, opts, hasMerge); err != nil {
		return t, err
	}

	if t.coll, err = load(spec); err != nil {
		return t, err
	}
	if t.cgfd >= 0 {
		if err = t.coll.Maps[MapCgroup].Put(uint32(0), uint32(t.cgfd)); err != nil {
			return t, errors.Wrap(err, "failed adding target cgroup to map")
		}
	}

	for _, name := range progOrder {
		ps, ok := spec.Programs[name]
		if !ok {
			continue // pruned
		}
		l, err := attach(ps, t.coll.Programs[name])
		if err != nil {
			return t, errors.Wrapf(err, "failed to attach %s", name)
		}
		t.links = append(t.links, l)
		nlog.Infof("attached %s (%s %q)", name, ps.Type, ps.AttachTo)
	}

	pages := opts.Pages
	if pages <= 0 {
		pages = PerCPUPages
	}
	if t.rd, err = perf.NewReader(t.coll.Maps[MapEvents], pages*os.Getpagesize()); err != nil {
		return t, errors.Wrap(err, "failed to open perf buffer")
	}
	return t, nil
}

// prepare prunes programs that must not load and sets read-only variables
func prepare(spec *ebpf.CollectionSpec, opts *Options, hasMerge bool) error {
	if !hasMerge {
		delete(spec.Programs, ProgIOMergeBio)
	}
	if !opts.Queued {
		delete(spec.Programs, ProgRqInsert)
	}
	for _, name := range []string{ProgIOStart, ProgRqIssue, ProgRqComplete} {
		if _, ok := spec.Programs[name]; !ok {
			return errors.Errorf("invalid BPF object: program %q not found", name)
		}
	}
	if _, ok := spec.Maps[MapEvents]; !ok {
		return errors.Errorf("invalid BPF object: map %q not found", MapEvents)
	}
	if _, ok := spec.Maps[MapCgroup]; !ok && opts.Cgroup != "" {
		return errors.Errorf("invalid BPF object: map %q not found (required to filter by cgroup)", MapCgroup)
	}

	vars := []struct {
		name string
		val  any
	}{
		{VarQueued, opts.Queued},
		{VarFilterCg, opts.Cgroup != ""},
		{VarFilterDev, opts.FilterDev},
		{VarDev, uint32(opts.Dev)},
	}
	for _, v := range vars {
		vs, ok := spec.Variables[v.name]
		if !ok {
			nlog.Infof("BPF object has no variable %q", v.name)
			continue
		}
		if err := vs.Set(v.val); err != nil {
			return errors.Wrapf(err, "failed to set %s=%v", v.name, v.val)
		}
	}
	return nil
}

func load(spec *ebpf.CollectionSpec) (*ebpf.Collection, error) {
	coll, err := ebpf.NewCollection(spec)
	if err == nil {
		return coll, nil
	}
	var ve *ebpf.VerifierError
	if errors.As(err, &ve) && nlog.Verbose() {
		nlog.Errorf("verifier log: %+v", ve)
	}
	return nil, errors.Wrap(err, "failed to load BPF object")
}

func attach(ps *ebpf.ProgramSpec, prog *ebpf.Program) (link.Link, error) {
	debug.Assert(prog != nil, ps.Name)
	switch ps.Type {
	case ebpf.Tracing: // fentry, tp_btf
		return link.AttachTracing(link.TracingOptions{Program: prog, AttachType: ps.AttachType})
	case ebpf.Kprobe:
		return link.Kprobe(ps.AttachTo, prog, nil)
	case ebpf.TracePoint:
		group, name, err := tracepoint(ps.AttachTo)
		if err != nil {
			return nil, err
		}
		return link.Tracepoint(group, name, prog, nil)
	case ebpf.RawTracepoint:
		return link.AttachRawTracepoint(link.RawTracepointOptions{Name: ps.AttachTo, Program: prog})
	default:
		return nil, errors.Errorf("unsupported program type %s", ps.Type)
	}
}

// "block/block_rq_issue" => ("block", "block_rq_issue")
func tracepoint(attachTo string) (group, name string, err error) {
	var ok bool
	if group, name, ok = strings.Cut(attachTo, "/"); !ok || group == "" || name == "" {
		err = fmt.Errorf("invalid tracepoint %q (expecting <group>/<name>)", attachTo)
	}
	return
}

// Run pumps perf ring records into ch until Close. A read error other than
// "closed" fails the channel.
func (t *Tracer) Run(ch *delivery.Channel) {
	debug.Assert(t.done == nil)
	t.done = make(chan struct{})
	go t.pump(ch)
}

func (t *Tracer) pump(ch *delivery.Channel) {
	var rec perf.Record
	defer close(t.done)
	for {
		if err := t.rd.ReadInto(&rec); err != nil {
			if !errors.Is(err, perf.ErrClosed) {
				ch.Fail(errors.Wrap(err, "error polling perf buffer"))
			}
			return
		}
		if rec.LostSamples > 0 {
			ch.Lost(CPUSource(rec.CPU), rec.LostSamples)
			continue
		}
		ev, err := blk.Decode(rec.RawSample)
		if err != nil {
			nlog.Warningln(err)
			continue
		}
		ch.Send(&ev)
	}
}

// CPUSource names a per-CPU ring in lost notices
func CPUSource(cpu int) string { return fmt.Sprintf("CPU #%d", cpu) }

// Close releases (in reverse acquisition order) the perf reader, the links,
// the collection, and the cgroup fd.
func (t *Tracer) Close() error {
	errs := cos.NewErrs()
	if t.rd != nil {
		if err := t.rd.Close(); err != nil {
			errs.Add(errors.Wrap(err, "perf reader"))
		}
		if t.done != nil {
			<-t.done
		}
		t.rd = nil
	}
	for i := len(t.links) - 1; i >= 0; i-- {
		if err := t.links[i].Close(); err != nil {
			errs.Add(errors.Wrap(err, "link"))
		}
	}
	t.links = nil
	if t.coll != nil {
		t.coll.Close()
		t.coll = nil
	}
	if t.cgfd >= 0 {
		if err := unix.Close(t.cgfd); err != nil {
			errs.Add(errors.Wrap(err, "cgroup fd"))
		}
		t.cgfd = -1
	}
	_, err := errs.JoinErr()
	return err
}
