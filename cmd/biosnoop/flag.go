// Package main is the biosnoop command: trace block device I/O with latency,
// one line per completed request.
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"strconv"
	"strings"

	"github.com/urfave/cli"
)

// take the first of multiple names
func fl1n(flagName string) string {
	if i := strings.IndexByte(flagName, ','); i >= 0 {
		return strings.TrimSpace(flagName[:i])
	}
	return flagName
}

func parseStrFlag(c *cli.Context, flag cli.Flag) string { return c.String(fl1n(flag.GetName())) }
func flagIsSet(c *cli.Context, flag cli.BoolFlag) bool  { return c.Bool(fl1n(flag.GetName())) }

// reorderArgs moves positional arguments behind all options, so that options may
// follow the duration (e.g. `biosnoop 10 -Q`); urfave/cli stops parsing options
// at the first positional.
func reorderArgs(args []string, flags []cli.Flag) []string {
	if len(args) < 2 {
		return args
	}
	valued := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		if _, ok := f.(cli.BoolFlag); ok {
			continue
		}
		for name := range strings.SplitSeq(f.GetName(), ",") {
			valued[strings.TrimSpace(name)] = struct{}{}
		}
	}
	var (
		out = make([]string, 1, len(args)+1)
		pos []string
	)
	out[0] = args[0]
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			pos = append(pos, args[i+1:]...)
			i = len(args)
		case len(arg) < 2 || arg[0] != '-' || isInt(arg):
			pos = append(pos, arg)
		default:
			out = append(out, arg)
			if takesValue(arg, valued) && i+1 < len(args) {
				i++
				out = append(out, args[i])
			}
		}
	}
	if len(pos) > 0 {
		out = append(out, "--")
		out = append(out, pos...)
	}
	return out
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func takesValue(arg string, valued map[string]struct{}) bool {
	name := strings.TrimLeft(arg, "-")
	if name == "" || strings.IndexByte(name, '=') >= 0 {
		return false
	}
	if _, ok := valued[name]; ok {
		return true
	}
	// combined short options (-Qd sda): the last one gets the value
	if arg[1] != '-' && len(name) > 1 {
		_, ok := valued[name[len(name)-1:]]
		return ok
	}
	return false
}
