//go:build !linux

// Package blktrace is the ioctl/relay-based alternative to the BPF instrumentation:
// it decodes the kernel's blk_io_trace stream and correlates request starts
// with completions in user space.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package blktrace

import (
	"errors"

	"github.com/NVIDIA/biosnoop/delivery"
)

type (
	Options struct {
		Device     string
		Debugfs    string
		OnOrphan   func()
		MaxPending int
		Queued     bool
	}
	Session struct{}
)

var errUnsupported = errors.New("blktrace: not supported on this platform")

func Open(*Options) (*Session, error) { return nil, errUnsupported }

func (*Session) Run(*delivery.Channel) {}
func (*Session) Close() error         { return nil }
