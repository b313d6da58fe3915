// Package ios is a collection of interfaces to the local storage subsystem;
// the package includes the device/partition table used to name traced devices.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package ios_test

import (
	"strings"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/ios"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const procPartitions = `major minor  #blocks  name

   8        0  488386584 sda
   8        1     524288 sda1
   8        2  487861248 sda2
 259        0  976762584 nvme0n1
 259        1     998400 nvme0n1p1
 bogus line
`

const lsblkOutput = `{
   "blockdevices": [
      {"name":"sda", "maj:min":"8:0",
         "children": [
            {"name":"sda1", "maj:min":"8:1"},
            {"name":"sda2", "maj:min":"8:2",
               "children": [
                  {"name":"vg-root", "maj:min":"253:0"}
               ]
            }
         ]
      },
      {"name":"sdb", "maj:min":"8:16",
         "children": [
            {"name":"vg-root", "maj:min":"253:0"}
         ]
      }
   ]
}`

var _ = Describe("Partitions", func() {
	Describe("/proc/partitions", func() {
		var p *ios.Partitions

		BeforeEach(func() {
			var err error
			p, err = ios.ParsePartitions(strings.NewReader(procPartitions))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should skip the header and malformed lines", func() {
			Expect(p.Len()).To(Equal(5))
			Expect(p.List()).To(HaveLen(5))
		})

		It("should resolve known devices", func() {
			Expect(p.Resolve(blk.MkDev(8, 0))).To(Equal("sda"))
			Expect(p.Resolve(blk.MkDev(8, 2))).To(Equal("sda2"))
			Expect(p.Resolve(blk.MkDev(259, 1))).To(Equal("nvme0n1p1"))
		})

		It("should resolve unknown devices to the placeholder", func() {
			Expect(p.Resolve(blk.MkDev(8, 16))).To(Equal(ios.UnknownDisk))
			Expect(p.Resolve(0)).To(Equal("Unknown"))
		})

		It("should look up devices by name", func() {
			dev, err := p.ByName("nvme0n1")
			Expect(err).NotTo(HaveOccurred())
			Expect(dev).To(Equal(blk.MkDev(259, 0)))

			dev, err = p.ByName("/dev/sda1")
			Expect(err).NotTo(HaveOccurred())
			Expect(dev).To(Equal(blk.MkDev(8, 1)))
		})

		It("should fail to look up a missing name", func() {
			_, err := p.ByName("sdz")
			Expect(err).To(HaveOccurred())
			Expect(cos.IsErrNotFound(err)).To(BeTrue())
		})

		It("should release the table on close", func() {
			p.Close()
			Expect(p.Len()).To(BeZero())
			Expect(p.Resolve(blk.MkDev(8, 0))).To(Equal(ios.UnknownDisk))
			p.Close()
		})
	})

	Describe("lsblk", func() {
		It("should flatten children and keep the first holder", func() {
			p, err := ios.ParseLsblk([]byte(lsblkOutput))
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Len()).To(Equal(5))
			Expect(p.Resolve(blk.MkDev(8, 16))).To(Equal("sdb"))
			Expect(p.Resolve(blk.MkDev(253, 0))).To(Equal("vg-root"))

			dev, err := p.ByName("sda2")
			Expect(err).NotTo(HaveOccurred())
			Expect(dev).To(Equal(blk.MkDev(8, 2)))
		})

		It("should fail on malformed output", func() {
			_, err := ios.ParseLsblk([]byte(`{"blockdevices": [`))
			Expect(err).To(HaveOccurred())
		})
	})
})
