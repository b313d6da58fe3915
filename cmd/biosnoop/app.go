// Package main is the biosnoop command: trace block device I/O with latency,
// one line per completed request.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/biosnoop/bpf"
	"github.com/NVIDIA/biosnoop/cmn/cos"
	"github.com/NVIDIA/biosnoop/snoop"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

const (
	appName  = "biosnoop"
	appUsage = "Trace block I/O"
	appDescr = `Trace block device I/O and print details including issuing PID and latency.

EXAMPLES:
   biosnoop              # trace all block I/O
   biosnoop -Q           # include OS queued time in I/O time
   biosnoop 10           # trace for 10 seconds only
   biosnoop 10 -Q -d sdc # options may follow the duration
   biosnoop -d sdc       # trace sdc only
   biosnoop -c CG        # trace process under cgroupsPath CG
   biosnoop --backend blktrace -d sdc
                         # no BPF object required (sdc only, no cgroup filter)`

	envBPFObject = "BIOSNOOP_BPF_OBJECT"
)

var (
	queuedFlag = cli.BoolFlag{
		Name:  "queued, Q",
		Usage: "include OS queued time in I/O time",
	}
	diskFlag = cli.StringFlag{
		Name:  "disk, d",
		Usage: "trace this disk only",
	}
	cgroupFlag = cli.StringFlag{
		Name:  "cgroup, c",
		Usage: "trace process in cgroup path (e.g., /sys/fs/cgroup/unified/CG)",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose, v",
		Usage: "verbose debug output",
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "kernel instrumentation: " + snoop.BackendBPF + " or " + snoop.BackendBlktrace,
		Value: snoop.BackendBPF,
	}
	bpfObjectFlag = cli.StringFlag{
		Name:   "bpf-object",
		Usage:  "compiled BPF object (" + snoop.BackendBPF + " backend)",
		Value:  bpf.DefaultObject,
		EnvVar: envBPFObject,
	}
	promFlag = cli.StringFlag{
		Name:  "prometheus",
		Usage: "serve tracer-health metrics at `ADDR` (e.g., :9101)",
	}
)

type (
	runFunc func(cfg *snoop.Config, stop *cos.StopCh) error

	bapp struct {
		app   *cli.App
		stop  *cos.StopCh
		runFn runFunc
	}

	errUsage struct {
		msg string
	}
)

func (e *errUsage) Error() string { return e.msg }

var fred = color.New(color.FgHiRed).SprintFunc()

func newApp(version string, stop *cos.StopCh, run runFunc) *bapp {
	a := &bapp{app: cli.NewApp(), stop: stop, runFn: run}
	app := a.app
	app.Name = appName
	app.Usage = appUsage
	app.Version = cos.Either(version, "dev")
	app.HideVersion = true
	app.UseShortOptionHandling = true
	app.ArgsUsage = "[duration]"
	app.Description = appDescr
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr
	app.Flags = []cli.Flag{
		queuedFlag,
		diskFlag,
		cgroupFlag,
		verboseFlag,
		backendFlag,
		bpfObjectFlag,
		promFlag,
	}
	app.OnUsageError = func(_ *cli.Context, err error, _ bool) error {
		return &errUsage{err.Error()}
	}
	app.Action = a.action
	return a
}

func (a *bapp) setOutput(stdout, stderr io.Writer) {
	a.app.Writer, a.app.ErrWriter = stdout, stderr
}

func (a *bapp) run(args []string) error {
	err := a.app.Run(reorderArgs(args, a.app.Flags))
	if err == nil {
		return nil
	}
	var eu *errUsage
	if errors.As(err, &eu) {
		return fmt.Errorf("%s%s\nTry '%s --help' for more information.", fred("Error: "), eu.msg, appName)
	}
	return redErr(err)
}

func redErr(err error) error {
	msg := strings.TrimRight(err.Error(), "\n")
	return errors.New(fred("Error: ") + msg)
}

func (a *bapp) action(c *cli.Context) error {
	cfg, err := parseConfig(c)
	if err != nil {
		return err
	}
	return a.runFn(cfg, a.stop)
}

func parseConfig(c *cli.Context) (*snoop.Config, error) {
	cfg := &snoop.Config{
		Disk:       parseStrFlag(c, diskFlag),
		CgroupPath: parseStrFlag(c, cgroupFlag),
		Backend:    parseStrFlag(c, backendFlag),
		BPFObject:  parseStrFlag(c, bpfObjectFlag),
		PromAddr:   parseStrFlag(c, promFlag),
		Queued:     flagIsSet(c, queuedFlag),
		Verbose:    flagIsSet(c, verboseFlag),
	}
	switch c.NArg() {
	case 0:
	case 1:
		secs, err := strconv.ParseInt(c.Args().First(), 10, 64)
		if err != nil || secs <= 0 {
			return nil, &errUsage{fmt.Sprintf("invalid duration (in seconds): %q", c.Args().First())}
		}
		cfg.Duration = time.Duration(secs) * time.Second
	default:
		return nil, &errUsage{fmt.Sprintf("unrecognized positional argument: %q", c.Args().Get(1))}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errUsage{err.Error()}
	}
	return cfg, nil
}
