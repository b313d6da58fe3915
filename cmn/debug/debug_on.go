//go:build debug

// Package debug provides debug utilities
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
)

func Assert(cond bool, a ...any) {
	if !cond {
		if len(a) > 0 {
			_panic("DEBUG PANIC: " + fmt.Sprint(a...))
		}
		_panic("DEBUG PANIC")
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		_panic("DEBUG PANIC: " + fmt.Sprintf(f, a...))
	}
}

func _panic(msg string) {
	os.Stderr.WriteString(msg + "\n")
	panic(msg)
}
