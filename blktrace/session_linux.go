// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"github.com/NVIDIA/biosnoop/blk"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/cmn/nlog"
	"github.com/NVIDIA/biosnoop/delivery"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	DefaultDebugfs = "/sys/kernel/debug"
	SrcRelay       = "blktrace relay"

	bufSize       = 64 * 1024
	bufNr         = 4
	SweepInterval = 10 * time.Millisecond
)

// struct blk_user_trace_setup
type userTraceSetup struct {
	Name     [blk.DiskNameLen]byte
	ActMask  uint16
	BufSize  uint32
	BufNr    uint32
	StartLBA uint64
	EndLBA   uint64
	Pid      uint32
}

// _IOWR(0x12, 115, struct blk_user_trace_setup) and _IO(0x12, 116..118)
var (
	ioctlSetup    = ioc(3, 0x12, 115, unsafe.Sizeof(userTraceSetup{}))
	ioctlStart    = ioc(0, 0x12, 116, 0)
	ioctlStop     = ioc(0, 0x12, 117, 0)
	ioctlTeardown = ioc(0, 0x12, 118, 0)
)

// asm-generic encoding
func ioc(dir, typ, nr, size uintptr) uintptr { return dir<<30 | size<<16 | typ<<8 | nr }

type (
	Options struct {
		Device     string // e.g. /dev/sda
		Debugfs    string // default DefaultDebugfs
		OnOrphan   func()
		MaxPending int
		Queued     bool
	}
	// Session owns the traced device and its relay channels
	Session struct {
		dev     *os.File
		corr    *Correlator
		stop    *cos.StopCh
		done    chan struct{}
		dropped string
		files   []*os.File
		started bool
	}
)

// Open sets up and starts tracing (all actions) and opens per-CPU relay files.
func Open(opts *Options) (s *Session, err error) {
	s = &Session{stop: cos.NewStopCh()}
	defer func() {
		if err != nil {
			if errC := s.Close(); errC != nil {
				nlog.Warningln("cleanup:", errC)
			}
			s = nil
		}
	}()

	if s.dev, err = os.OpenFile(opts.Device, os.O_RDONLY|unix.O_NONBLOCK, 0); err != nil {
		return s, errors.Wrap(err, "blktrace")
	}
	setup := userTraceSetup{BufSize: bufSize, BufNr: bufNr} // ActMask 0: all
	if err = ioctl(s.dev, ioctlSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
		return s, errors.Wrapf(err, "failed to BLKTRACESETUP %s", opts.Device)
	}
	s.started = true // from here on, teardown is required
	if err = ioctl(s.dev, ioctlStart, 0); err != nil {
		return s, errors.Wrapf(err, "failed to BLKTRACESTART %s", opts.Device)
	}

	// the kernel returns the debugfs directory name
	name := strings.TrimRight(string(setup.Name[:]), "\x00")
	dir := filepath.Join(cos.Either(opts.Debugfs, DefaultDebugfs), "block", name)
	for cpu := 0; ; cpu++ {
		fh, errO := os.Open(filepath.Join(dir, "trace"+strconv.Itoa(cpu)))
		if errO != nil {
			if cos.IsNotExist(errO) && cpu > 0 {
				break
			}
			return s, errors.Wrap(errO, "failed to open relay channel")
		}
		s.files = append(s.files, fh)
	}
	s.dropped = filepath.Join(dir, "dropped")
	s.corr = NewCorrelator(opts.Queued, opts.MaxPending, opts.OnOrphan)
	nlog.Infof("tracing %s: %d relay channels at %s", opts.Device, len(s.files), dir)
	return s, nil
}

func ioctl(fh *os.File, req, arg uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fh.Fd(), req, arg); errno != 0 {
		return errno
	}
	return nil
}

// Run sweeps the relay channels every SweepInterval until Close,
// and sends completions to ch.
func (s *Session) Run(ch *delivery.Channel) {
	readers := make([]io.Reader, len(s.files))
	for i, fh := range s.files {
		readers[i] = fh
	}
	s.done = make(chan struct{})
	go s.run(newRelay(readers), ch)
}

func (s *Session) run(rl *relay, ch *delivery.Channel) {
	var (
		ticker  = time.NewTicker(SweepInterval)
		dropped uint64
	)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()
	for {
		select {
		case <-s.stop.Listen():
			return
		case <-ticker.C:
		}
		recs, err := rl.sweep()
		if err != nil {
			ch.Fail(errors.Wrap(err, "relay read"))
			return
		}
		s.corr.Forward(recs, ch)
		if n, err := readDropped(s.dropped); err == nil && n > dropped {
			ch.Lost(SrcRelay, n-dropped)
			dropped = n
		}
	}
}

func readDropped(fqn string) (n uint64, err error) {
	err = cos.ReadLines(fqn, func(line string) error {
		n, err = strconv.ParseUint(strings.TrimSpace(line), 10, 64)
		if err != nil {
			return err
		}
		return io.EOF
	})
	return
}

// Close stops the sweeper, closes relay channels, and stops and tears down
// the trace (in that order).
func (s *Session) Close() error {
	errs := cos.NewErrs()
	s.stop.Close()
	if s.done != nil {
		<-s.done
		s.done = nil
	}
	for _, fh := range s.files {
		if err := fh.Close(); err != nil {
			errs.Add(err)
		}
	}
	s.files = nil
	if s.started {
		// stop may fail when the trace was never started
		if err := ioctl(s.dev, ioctlStop, 0); err != nil {
			nlog.Infoln("BLKTRACESTOP:", err)
		}
		if err := ioctl(s.dev, ioctlTeardown, 0); err != nil {
			errs.Add(errors.Wrap(err, "BLKTRACETEARDOWN"))
		}
		s.started = false
	}
	if s.dev != nil {
		if err := s.dev.Close(); err != nil {
			errs.Add(err)
		}
		s.dev = nil
	}
	if s.corr != nil {
		if st := s.corr.Stats(); st.Orphans > 0 || st.Refused > 0 {
			nlog.Infof("correlator: %d orphan completion(s), %d refused start(s), %d in-flight", st.Orphans, st.Refused, st.Pending)
		}
	}
	_, err := errs.JoinErr()
	return err
}
