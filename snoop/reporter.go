// Package snoop correlates and reports block I/O request completions:
// the polling loop, the per-record reporter, and the run configuration.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package snoop

import (
	"fmt"
	"io"

	"github.com/NVIDIA/biosnoop/blk"
)

const commWidth = 14

// Reporter renders one line per record; each line is a single Write.
type Reporter struct {
	w      io.Writer
	buf    []byte
	queued bool
}

func NewReporter(w io.Writer, queued bool) *Reporter {
	return &Reporter{w: w, queued: queued, buf: make([]byte, 0, 128)}
}

func (r *Reporter) Header() error {
	r.buf = fmt.Appendf(r.buf[:0], "%-11s %-14s %-6s %-7s %-4s %-10s %-7s ",
		"TIME(s)", "COMM", "PID", "DISK", "T", "SECTOR", "BYTES")
	if r.queued {
		r.buf = fmt.Appendf(r.buf, "%7s ", "QUE(ms)")
	}
	r.buf = fmt.Appendf(r.buf, "%7s\n", "LAT(ms)")
	return r.flush()
}

func (r *Reporter) Render(ev *blk.Event, rel float64, disk string) error {
	r.buf = fmt.Appendf(r.buf[:0], "%-11.6f ", rel)
	r.buf = appendField(r.buf, ev.Command(), commWidth)
	r.buf = fmt.Appendf(r.buf, " %-6d %-7s %-4s %-10d %-7d ",
		ev.Pid, disk, ev.CmdFlags.RWBS(), ev.Sector, ev.Len)
	if r.queued {
		qms := float64(blk.QDeltaNone)
		if ev.HasQDelta() {
			qms = float64(ev.QDelta) / 1e6
		}
		r.buf = fmt.Appendf(r.buf, "%7.3f ", qms)
	}
	r.buf = fmt.Appendf(r.buf, "%7.3f\n", float64(ev.Delta)/1e6)
	return r.flush()
}

func (r *Reporter) flush() error {
	_, err := r.w.Write(r.buf)
	return err
}

// left-justify s in width bytes, truncating if longer (printf(3) counts bytes, not runes)
func appendField(b []byte, s string, width int) []byte {
	if len(s) > width {
		s = s[:width]
	}
	b = append(b, s...)
	for i := len(s); i < width; i++ {
		b = append(b, ' ')
	}
	return b
}
