// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"time"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/delivery"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var sda = blk.MkDev(8, 0)

func trace(action, category uint32, ts, sector uint64, bytes, pid uint32) *Record {
	return &Record{Trace: Trace{
		Time:   ts,
		Sector: sector,
		Bytes:  bytes,
		Action: Act(action, category),
		Pid:    pid,
		Device: uint32(sda),
	}}
}

func queue(ts, sector uint64, bytes, pid uint32) *Record {
	return trace(TAQueue, TCWrite|TCQueue, ts, sector, bytes, pid)
}

func insert(ts, sector uint64, bytes, pid uint32) *Record {
	return trace(TAInsert, TCWrite|TCQueue, ts, sector, bytes, pid)
}

func issue(ts, sector uint64, bytes uint32) *Record {
	return trace(TAIssue, TCWrite|TCSync|TCIssue, ts, sector, bytes, 0 /*kworker*/)
}

func complete(ts, sector uint64, bytes uint32) *Record {
	return trace(TAComplete, TCWrite|TCSync|TCComplete, ts, sector, bytes, 0)
}

var _ = Describe("Correlator", func() {
	var (
		corr    *Correlator
		orphans int
		events  []blk.Event
	)
	feed := func(recs ...*Record) {
		for _, rec := range recs {
			if ev, ok := corr.Add(rec); ok {
				events = append(events, ev)
			}
		}
	}
	newCorrelator := func(queued bool, maxPending int) {
		orphans, events = 0, nil
		corr = NewCorrelator(queued, maxPending, func() { orphans++ })
	}

	BeforeEach(func() { newCorrelator(false, 0) })

	It("should emit exactly one event per request", func() {
		feed(queue(100, 2048, 4096, 42), issue(1100, 2048, 4096), complete(2_001_100, 2048, 4096))
		Expect(events).To(HaveLen(1))
		ev := events[0]
		Expect(ev.Delta).To(BeEquivalentTo(2_000_000))
		Expect(ev.QDelta).To(BeEquivalentTo(blk.QDeltaNone))
		Expect(ev.Ts).To(BeEquivalentTo(2_001_100))
		Expect(ev.Sector).To(BeEquivalentTo(2048))
		Expect(ev.Len).To(BeEquivalentTo(4096))
		Expect(ev.Pid).To(BeEquivalentTo(42))
		Expect(ev.Dev).To(Equal(sda))
		Expect(ev.CmdFlags.RWBS()).To(Equal("WS"))
		Expect(corr.Stats().Pending).To(BeZero())
	})

	It("should discard duplicated completions as orphans", func() {
		feed(queue(100, 8, 512, 1), issue(200, 8, 512), complete(300, 8, 512), complete(400, 8, 512))
		Expect(events).To(HaveLen(1))
		Expect(orphans).To(Equal(1))
		Expect(corr.Stats().Orphans).To(BeEquivalentTo(1))
	})

	It("should discard completions without a start", func() {
		feed(complete(300, 8, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(1))

		// queued but never issued
		feed(queue(400, 16, 512, 1), complete(500, 16, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(2))
	})

	It("should re-key front-merged requests", func() {
		feed(
			queue(100, 100, 4096, 10),
			insert(110, 100, 4096, 10),
			queue(120, 92, 4096, 11),
			trace(TAFrontMerge, TCWrite|TCQueue, 130, 92, 4096, 11),
			issue(200, 92, 8192),
			complete(1200, 92, 8192),
		)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Sector).To(BeEquivalentTo(92))
		Expect(events[0].Len).To(BeEquivalentTo(8192))
		Expect(events[0].Pid).To(BeEquivalentTo(10))
		Expect(corr.Stats().Pending).To(BeZero())

		feed(complete(1300, 100, 4096))
		Expect(orphans).To(Equal(1))
	})

	It("should drop back-merged bios", func() {
		feed(
			queue(100, 100, 4096, 10),
			queue(120, 108, 4096, 11),
			trace(TABackMerge, TCWrite|TCQueue, 121, 108, 4096, 11),
			issue(200, 100, 8192),
		)
		Expect(corr.Stats().Pending).To(Equal(1))
		feed(complete(1200, 100, 8192), complete(1200, 108, 4096))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Len).To(BeEquivalentTo(8192))
		Expect(orphans).To(Equal(1))
	})

	It("should include queued time only when asked to", func() {
		recs := []*Record{insert(1000, 8, 512, 7), issue(1500, 8, 512), complete(3500, 8, 512)}
		feed(recs...)
		Expect(events[0].Delta).To(BeEquivalentTo(2000))
		Expect(events[0].HasQDelta()).To(BeFalse())

		newCorrelator(true, 0)
		feed(recs...)
		Expect(events[0].Delta).To(BeEquivalentTo(2500))
		Expect(events[0].QDelta).To(BeEquivalentTo(500))

		// no insert (e.g., bypassed the scheduler): sentinel
		feed(queue(4000, 16, 512, 7), issue(4100, 16, 512), complete(4200, 16, 512))
		Expect(events).To(HaveLen(2))
		Expect(events[1].Delta).To(BeEquivalentTo(100))
		Expect(events[1].QDelta).To(BeEquivalentTo(blk.QDeltaNone))
	})

	It("should require a new issue after requeue", func() {
		feed(queue(100, 8, 512, 1), issue(200, 8, 512), trace(TARequeue, TCWrite|TCRequeue, 250, 8, 512, 0))
		feed(complete(300, 8, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(1))

		feed(queue(400, 16, 512, 1), issue(500, 16, 512), trace(TARequeue, TCWrite|TCRequeue, 550, 16, 512, 0))
		feed(issue(600, 16, 512), complete(700, 16, 512))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Delta).To(BeEquivalentTo(100))

		// re-inserted after requeue: same generation, new insert time
		newCorrelator(true, 0)
		feed(insert(100, 24, 512, 1), issue(200, 24, 512), trace(TARequeue, TCWrite|TCRequeue, 250, 24, 512, 0))
		feed(insert(300, 24, 512, 1), issue(350, 24, 512), complete(450, 24, 512))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Delta).To(BeEquivalentTo(150))
		Expect(events[0].QDelta).To(BeEquivalentTo(50))
		Expect(corr.Stats().Pending).To(BeZero())
	})

	It("should name processes from notify records", func() {
		notify := trace(TNProcess, TCNotify, 50, 0, 0, 42)
		notify.PDU = []byte("dd\x00garbage")
		feed(notify, queue(100, 8, 512, 42), issue(200, 8, 512), complete(300, 8, 512))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Command()).To(Equal("dd"))
	})

	It("should attribute requests to the issuer when nothing else is known", func() {
		feed(trace(TAIssue, TCRead|TCIssue, 200, 8, 512, 77), complete(300, 8, 512))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Pid).To(BeEquivalentTo(77))
		Expect(events[0].CmdFlags.RWBS()).To(Equal("R"))
	})

	It("should refuse starts beyond capacity", func() {
		newCorrelator(false, 2)
		feed(queue(1, 8, 512, 1), queue(2, 16, 512, 1), queue(3, 24, 512, 1))
		st := corr.Stats()
		Expect(st.Pending).To(Equal(2))
		Expect(st.Refused).To(BeEquivalentTo(1))

		feed(issue(4, 24, 512), complete(5, 24, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(1))
	})

	It("should report refused starts as lost, once", func() {
		newCorrelator(false, 2)
		ch := delivery.New(16)
		corr.Forward([]Record{*queue(1, 8, 512, 1), *queue(2, 16, 512, 1), *queue(3, 24, 512, 1)}, ch)
		corr.Forward([]Record{*queue(4, 32, 512, 1), *issue(5, 8, 512), *complete(6, 8, 512)}, ch)
		corr.Forward(nil, ch)

		batch, err := ch.Wait(time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(batch).To(HaveLen(3))
		Expect(batch[0].IsLost()).To(BeTrue())
		Expect(batch[0].Src).To(Equal(SrcCorrelator))
		Expect(batch[0].Lost).To(BeEquivalentTo(1))
		Expect(batch[1].IsLost()).To(BeFalse())
		Expect(batch[1].Event.Sector).To(BeEquivalentTo(8))
		Expect(batch[2].Src).To(Equal(SrcCorrelator))
		Expect(batch[2].Lost).To(BeEquivalentTo(1))
	})

	It("should keep overlapping requests at the same sector apart", func() {
		flush := func(action uint32, ts uint64) *Record {
			return trace(action, TCFlush|TCIssue, ts, 0, 0, 0)
		}
		feed(flush(TAIssue, 100), flush(TAIssue, 150), flush(TAComplete, 300), flush(TAComplete, 400))
		Expect(events).To(HaveLen(2))
		Expect(events[0].Delta).To(BeEquivalentTo(200))
		Expect(events[1].Delta).To(BeEquivalentTo(250))
		Expect(events[0].CmdFlags.RWBS()).To(Equal("F"))
		Expect(orphans).To(BeZero())
		Expect(corr.Stats().Pending).To(BeZero())
	})

	It("should match queued generations in order", func() {
		feed(queue(100, 8, 512, 1), queue(110, 8, 512, 2), issue(200, 8, 512), issue(210, 8, 512))
		Expect(corr.Stats().Pending).To(Equal(2))
		feed(complete(400, 8, 512), complete(500, 8, 512))
		Expect(events).To(HaveLen(2))
		Expect(events[0].Pid).To(BeEquivalentTo(1))
		Expect(events[0].Delta).To(BeEquivalentTo(200))
		Expect(events[1].Pid).To(BeEquivalentTo(2))
		Expect(events[1].Delta).To(BeEquivalentTo(290))
	})

	It("should discard completions timestamped before their start", func() {
		feed(issue(1000, 8, 512), complete(999, 8, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(1))
		Expect(corr.Stats().Pending).To(BeZero())

		newCorrelator(true, 0)
		feed(insert(1000, 16, 512, 7), issue(900, 16, 512), complete(2000, 16, 512))
		Expect(events).To(BeEmpty())
		Expect(orphans).To(Equal(1))

		// not measuring queued time: the insert does not matter
		newCorrelator(false, 0)
		feed(insert(1000, 16, 512, 7), issue(900, 16, 512), complete(2000, 16, 512))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Delta).To(BeEquivalentTo(1100))
	})
})

var _ = DescribeTable("OpFlags",
	func(category, bytes uint32, rwbs string) {
		Expect(OpFlags(category, bytes).RWBS()).To(Equal(rwbs))
	},
	Entry("write", uint32(TCWrite), uint32(4096), "W"),
	Entry("sync write", uint32(TCWrite|TCSync), uint32(4096), "WS"),
	Entry("read", uint32(TCRead), uint32(512), "R"),
	Entry("readahead", uint32(TCRead|TCAhead), uint32(512), "RA"),
	Entry("empty flush", uint32(TCRead|TCFlush), uint32(0), "F"),
	Entry("preflush FUA write", uint32(TCWrite|TCFlush|TCFUA), uint32(4096), "FWF"),
	Entry("metadata", uint32(TCWrite|TCMeta|TCSync), uint32(4096), "WSM"),
	Entry("discard", uint32(TCWrite|TCDiscard), uint32(1<<20), "D"),
)
