// Package nlog - biosnoop diagnostics logger: timestamping, formatting, and writing
// to standard error (never to the data stream on standard output)
/*
 * Copyright (c) 2023-2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"io"
	"os"
)

func Infoln(args ...any)                  { log(sevInfo, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, format, args...) }
func Warningln(args ...any)               { log(sevWarn, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, format, args...) }
func Errorln(args ...any)                 { log(sevErr, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, format, args...) }

// info-level messages are dropped unless verbose
func SetVerbose(v bool) { verbose.Store(v) }
func Verbose() bool     { return verbose.Load() }

// SetOutput redirects all severities; nil restores os.Stderr
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mw.Lock()
	out = w
	mw.Unlock()
}
