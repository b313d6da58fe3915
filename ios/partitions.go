// Package ios is a collection of interfaces to the local storage subsystem;
// the package includes the device/partition table used to name traced devices.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package ios

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/nlog"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	procPartitions = "/proc/partitions"

	// placeholder for devices that are not in the table
	UnknownDisk = "Unknown"
)

type (
	Partition struct {
		Name string
		Dev  blk.DevT
	}
	// Partitions is loaded once and read-only thereafter
	Partitions struct {
		byDev  map[blk.DevT]string
		byName map[string]blk.DevT
	}

	LsBlk struct {
		BlockDevices []BlockDevice `json:"blockdevices"`
	}
	BlockDevice struct {
		Name         string        `json:"name"`
		MajMin       string        `json:"maj:min"`
		BlockDevices []BlockDevice `json:"children"`
	}
)

// LoadPartitions reads /proc/partitions and falls back to lsblk(8)
// when the former is not available (e.g., restricted procfs in containers).
func LoadPartitions() (*Partitions, error) {
	p, err := loadProc(procPartitions)
	if err == nil && p.Len() > 0 {
		nlog.Infof("loaded %d partitions from %s", p.Len(), procPartitions)
		return p, nil
	}
	if err == nil {
		err = errors.Errorf("%s: empty", procPartitions)
	}
	nlog.Warningf("%v - falling back to lsblk", err)

	out, errN := exec.Command("lsblk", "-J", "-o", "NAME,MAJ:MIN").Output()
	if errN != nil {
		return nil, errors.Wrap(errN, "failed to load partitions info (lsblk)")
	}
	if p, err = ParseLsblk(out); err != nil {
		return nil, err
	}
	nlog.Infof("loaded %d partitions from lsblk", p.Len())
	return p, nil
}

func loadProc(fqn string) (*Partitions, error) {
	f, err := os.Open(fqn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePartitions(f)
}

// ParsePartitions parses /proc/partitions:
//
//	major minor  #blocks  name
//
//	   8        0  488386584 sda
func ParsePartitions(r io.Reader) (*Partitions, error) {
	var (
		p       = newPartitions()
		scanner = bufio.NewScanner(r)
	)
	for lino := 0; scanner.Scan(); lino++ {
		if lino < 2 {
			continue // header and the blank line that follows
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		major, err1 := strconv.ParseUint(fields[0], 10, 32)
		minor, err2 := strconv.ParseUint(fields[1], 10, 32)
		if err1 != nil || err2 != nil {
			nlog.Warningf("%s: skipping line %d: %q", procPartitions, lino+1, scanner.Text())
			continue
		}
		p.add(fields[3], blk.MkDev(uint32(major), uint32(minor)))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", procPartitions)
	}
	return p, nil
}

// ParseLsblk decodes `lsblk -J -o NAME,MAJ:MIN`; partitions (children) are flattened.
func ParseLsblk(b []byte) (*Partitions, error) {
	var lsblk LsBlk
	if err := jsoniter.Unmarshal(b, &lsblk); err != nil {
		return nil, errors.Wrapf(err, "unable to unmarshal lsblk output [%s]", string(b))
	}
	p := newPartitions()
	p.addLsblk(lsblk.BlockDevices)
	return p, nil
}

func newPartitions() *Partitions {
	return &Partitions{byDev: make(map[blk.DevT]string, 16), byName: make(map[string]blk.DevT, 16)}
}

func (p *Partitions) addLsblk(devList []BlockDevice) {
	for _, bd := range devList {
		smajor, sminor, ok := strings.Cut(bd.MajMin, ":")
		if ok {
			major, err1 := strconv.ParseUint(strings.TrimSpace(smajor), 10, 32)
			minor, err2 := strconv.ParseUint(strings.TrimSpace(sminor), 10, 32)
			if err1 == nil && err2 == nil {
				p.add(bd.Name, blk.MkDev(uint32(major), uint32(minor)))
			}
		}
		if len(bd.BlockDevices) != 0 {
			p.addLsblk(bd.BlockDevices)
		}
	}
}

// first entry wins (lsblk repeats shared holders, e.g. md and dm members)
func (p *Partitions) add(name string, dev blk.DevT) {
	if _, ok := p.byDev[dev]; !ok {
		p.byDev[dev] = name
	}
	if _, ok := p.byName[name]; !ok {
		p.byName[name] = dev
	}
}

func (p *Partitions) Len() int { return len(p.byDev) }

// Resolve never fails: devices missing from the table resolve to UnknownDisk
func (p *Partitions) Resolve(dev blk.DevT) string {
	if name, ok := p.byDev[dev]; ok {
		return name
	}
	return UnknownDisk
}

func (p *Partitions) ByName(name string) (blk.DevT, error) {
	name = strings.TrimPrefix(name, "/dev/")
	if dev, ok := p.byName[name]; ok {
		return dev, nil
	}
	return 0, cos.NewErrNotFound(nil, "partition \""+name+"\"")
}

func (p *Partitions) List() (list []Partition) {
	list = make([]Partition, 0, len(p.byDev))
	for dev, name := range p.byDev {
		list = append(list, Partition{Name: name, Dev: dev})
	}
	return
}

func (p *Partitions) Close() {
	p.byDev, p.byName = nil, nil
}
