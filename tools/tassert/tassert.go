// Package tassert provides common asserts for tests
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"
)

const modulePath = "github.com/NVIDIA/biosnoop/"

func CheckFatal(tb testing.TB, err error) {
	if err != nil {
		tb.Helper()
		printStack()
		tb.Fatalf("[%s] %v", time.Now().Format("15:04:05.000000"), err)
	}
}

func Fatal(tb testing.TB, cond bool, msg string) {
	if !cond {
		tb.Helper()
		printStack()
		tb.Fatal(msg)
	}
}

func Fatalf(tb testing.TB, cond bool, format string, args ...any) {
	if !cond {
		tb.Helper()
		printStack()
		tb.Fatalf(format, args...)
	}
}

func Errorf(tb testing.TB, cond bool, format string, args ...any) {
	if !cond {
		tb.Helper()
		printStack()
		tb.Errorf(format, args...)
	}
}

// in-module frames only, outermost last
func printStack() {
	var (
		sb     strings.Builder
		pcs    [16]uintptr
		frames = runtime.CallersFrames(pcs[:runtime.Callers(3, pcs[:])])
	)
	for {
		frame, more := frames.Next()
		if fn := frame.Function; strings.HasPrefix(fn, modulePath) && !strings.HasPrefix(fn, modulePath+"tools/tassert") {
			fmt.Fprintf(&sb, "\t%s:%d\n", fn[len(modulePath):], frame.Line)
		}
		if !more {
			break
		}
	}
	if sb.Len() > 0 {
		fmt.Fprint(os.Stderr, "    tassert.printStack:\n"+sb.String())
	}
}
