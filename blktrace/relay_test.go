// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// feed is a relay channel that has data only when pushed to
type feed struct{ bytes.Buffer }

func (f *feed) Read(b []byte) (int, error) {
	if f.Len() == 0 {
		return 0, io.EOF
	}
	return f.Buffer.Read(b)
}

func encode(seq uint32, ts uint64, action uint32, pdu []byte) []byte {
	tr := Trace{Sequence: seq, Time: ts, Sector: 8, Bytes: 512, Action: action, Pid: 1, Device: uint32(sda)}
	return tr.Encode(nil, pdu)
}

var _ = Describe("Relay", func() {
	var (
		cpu0, cpu1 *feed
		rl         *relay
	)
	BeforeEach(func() {
		cpu0, cpu1 = &feed{}, &feed{}
		rl = newRelay([]io.Reader{cpu0, cpu1})
	})

	It("should parse a record", func() {
		b := encode(7, 1000, Act(TAIssue, TCWrite|TCIssue), nil)
		Expect(b).To(HaveLen(TraceSize))

		tr, n, err := ParseTrace(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(TraceSize))
		Expect(tr.Sequence).To(BeEquivalentTo(7))
		Expect(tr.Time).To(BeEquivalentTo(1000))
		Expect(tr.Act()).To(BeEquivalentTo(TAIssue))
		Expect(tr.Category()).To(BeEquivalentTo(TCWrite | TCIssue))
		Expect(tr.Dev()).To(Equal(sda))

		_, n, err = ParseTrace(b[:TraceSize-1])
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())

		b[0] ^= 0xff
		_, _, err = ParseTrace(b)
		Expect(err).To(HaveOccurred())
	})

	It("should keep partial records until complete", func() {
		notify := encode(1, 50, Act(TNProcess, TCNotify), []byte("fio\x00"))
		issue := encode(2, 100, Act(TAIssue, TCWrite|TCIssue), nil)
		stream := append(notify, issue...)

		cpu0.Write(stream[:30])
		recs, err := rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(BeEmpty())

		cpu0.Write(stream[30 : len(notify)+10])
		recs, err = rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].IsNotify()).To(BeTrue())
		Expect(string(recs[0].PDU)).To(Equal("fio\x00"))

		cpu0.Write(stream[len(notify)+10:])
		recs, err = rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(recs[0].Sequence).To(BeEquivalentTo(2))
		Expect(recs[0].PDU).To(BeNil())
		Expect(rl.cpus[0].rem).To(BeEmpty())
	})

	It("should order records across CPUs by time and sequence", func() {
		cpu0.Write(encode(1, 300, Act(TAComplete, TCWrite|TCComplete), nil))
		cpu0.Write(encode(2, 300, Act(TAComplete, TCWrite|TCComplete), nil))
		cpu1.Write(encode(1, 100, Act(TAQueue, TCWrite|TCQueue), nil))
		cpu1.Write(encode(2, 200, Act(TAIssue, TCWrite|TCIssue), nil))

		recs, err := rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(4))
		times := make([]uint64, 0, 4)
		for _, rec := range recs {
			times = append(times, rec.Time)
		}
		Expect(times).To(Equal([]uint64{100, 200, 300, 300}))
		Expect(recs[2].Sequence).To(BeEquivalentTo(1))
		Expect(recs[3].Sequence).To(BeEquivalentTo(2))
	})

	It("should discard a corrupted channel and carry on", func() {
		bad := encode(1, 100, Act(TAQueue, TCWrite|TCQueue), nil)
		bad[0] ^= 0xff
		cpu0.Write(bad)
		cpu1.Write(encode(1, 200, Act(TAQueue, TCWrite|TCQueue), nil))

		recs, err := rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
		Expect(rl.cpus[0].rem).To(BeEmpty())

		cpu0.Write(encode(2, 300, Act(TAQueue, TCWrite|TCQueue), nil))
		recs, err = rl.sweep()
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
	})
})
