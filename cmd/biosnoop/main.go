// Package main is the biosnoop command: trace block device I/O with latency,
// one line per completed request.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NVIDIA/biosnoop/cmn/cos"
)

var build string

// the first SIGINT or SIGTERM stops the polling loop (at its next cycle)
func dispatchInterruptHandler(stop *cos.StopCh) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		signal.Stop(sigCh)
		stop.Close()
	}()
}

func main() {
	stop := cos.NewStopCh()
	dispatchInterruptHandler(stop)

	a := newApp(build, stop, run)
	if err := a.run(os.Args); err != nil {
		exitf("%v", err)
	}
}

func exitf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}
