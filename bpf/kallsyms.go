// Package bpf loads, configures, and attaches the block I/O instrumentation
// and pumps its perf ring records into the delivery channel.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package bpf

import (
	"io"
	"strings"

	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/pkg/errors"
)

const procKallsyms = "/proc/kallsyms"

// kernel symbol presence, e.g. "ffffffff8a4c1e50 T blk_account_io_merge_bio"
// or, for modules, "... t some_func	[mod]"
func hasSymbol(fqn, sym string) (bool, error) {
	var found bool
	err := cos.ReadLines(fqn, func(line string) error {
		if matchSymbol(line, sym) {
			found = true
			return io.EOF
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to load %s", fqn)
	}
	return found, nil
}

func matchSymbol(line, sym string) bool {
	fields := strings.Fields(line)
	return len(fields) >= 3 && fields[2] == sym
}
