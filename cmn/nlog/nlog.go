// Package nlog - biosnoop diagnostics logger: timestamping, formatting, and writing
// to standard error (never to the data stream on standard output)
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const nlogLineSize = 4 * 1024

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	out     io.Writer = os.Stderr
	mw      sync.Mutex
	verbose atomic.Bool

	pool = sync.Pool{
		New: func() any {
			return &line{buf: make([]byte, 0, nlogLineSize)}
		},
	}
)

func log(sev severity, format string, args ...any) {
	if sev == sevInfo && !verbose.Load() {
		return
	}
	l := pool.Get().(*line)
	l.buf = l.buf[:0]
	l.header(sev)
	if format == "" {
		fmt.Fprintln(l, args...)
	} else {
		fmt.Fprintf(l, format, args...)
	}
	l.terminate()

	mw.Lock()
	out.Write(l.buf)
	mw.Unlock()
	pool.Put(l)
}

// "W 15:04:05.000000 loop:42 "
func (l *line) header(sev severity) {
	const char = "IWE"
	_, fn, ln, ok := runtime.Caller(3) // header <- log <- api <- caller
	l.appendByte(char[sev])
	l.appendByte(' ')
	l.appendStamp(time.Now())
	l.appendByte(' ')
	if !ok {
		return
	}
	l.appendString(strings.TrimSuffix(filepath.Base(fn), ".go"))
	l.appendByte(':')
	l.appendUint(ln, 0)
	l.appendByte(' ')
}
