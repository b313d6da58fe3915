// Package nlog - biosnoop diagnostics logger: timestamping, formatting, and writing
// to standard error (never to the data stream on standard output)
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"io"
	"time"
)

// line is a fixed-capacity log line: whatever does not fit is silently dropped,
// and the last byte is reserved for the newline
type line struct {
	buf []byte
}

// interface guard
var _ io.Writer = (*line)(nil)

func (l *line) room() int { return cap(l.buf) - 1 - len(l.buf) }

func (l *line) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p[:min(len(p), l.room())]...)
	return len(p), nil
}

func (l *line) appendString(s string) { l.buf = append(l.buf, s[:min(len(s), l.room())]...) }

func (l *line) appendByte(c byte) {
	if l.room() > 0 {
		l.buf = append(l.buf, c)
	}
}

// zero-padded to at least width digits
func (l *line) appendUint(n, width int) {
	var (
		d [20]byte
		i = len(d)
	)
	for ; n > 0 || len(d)-i < max(width, 1); n /= 10 {
		i--
		d[i] = '0' + byte(n%10)
	}
	l.Write(d[i:])
}

// hh:mm:ss.uuuuuu
func (l *line) appendStamp(now time.Time) {
	hour, minute, second := now.Clock()
	l.appendUint(hour, 2)
	l.appendByte(':')
	l.appendUint(minute, 2)
	l.appendByte(':')
	l.appendUint(second, 2)
	l.appendByte('.')
	l.appendUint(now.Nanosecond()/1000, 6)
}

func (l *line) terminate() {
	if n := len(l.buf); n == 0 || l.buf[n-1] != '\n' {
		l.buf = append(l.buf, '\n')
	}
}
