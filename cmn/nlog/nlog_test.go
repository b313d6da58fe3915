// Package nlog - biosnoop diagnostics logger
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package nlog_test

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/NVIDIA/biosnoop/cmn/nlog"
	"github.com/NVIDIA/biosnoop/tools/tassert"
)

var hdr = regexp.MustCompile(`^[IWE] \d{2}:\d{2}:\d{2}\.\d{6} nlog_test:\d+ `)

func TestVerboseGating(t *testing.T) {
	var buf bytes.Buffer
	nlog.SetOutput(&buf)
	defer nlog.SetOutput(nil)

	nlog.SetVerbose(false)
	nlog.Infof("attached %s", "block_rq_issue")
	tassert.Fatalf(t, buf.Len() == 0, "info must be dropped when not verbose, got %q", buf.String())

	nlog.Warningf("lost %d", 3)
	nlog.Errorln("boom")
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	tassert.Fatalf(t, len(lines) == 2, "expected 2 lines, got %q", buf.String())
	tassert.Errorf(t, hdr.MatchString(lines[0]) && lines[0][0] == 'W', "bad warning line %q", lines[0])
	tassert.Errorf(t, strings.HasSuffix(lines[0], "lost 3"), "bad warning text %q", lines[0])
	tassert.Errorf(t, hdr.MatchString(lines[1]) && lines[1][0] == 'E', "bad error line %q", lines[1])

	buf.Reset()
	nlog.SetVerbose(true)
	defer nlog.SetVerbose(false)
	nlog.Infof("attached %s", "block_rq_issue")
	tassert.Errorf(t, hdr.MatchString(buf.String()), "bad info line %q", buf.String())
	tassert.Errorf(t, nlog.Verbose(), "expected verbose")
}

func TestLongLineTruncated(t *testing.T) {
	var buf bytes.Buffer
	nlog.SetOutput(&buf)
	defer nlog.SetOutput(nil)

	nlog.Errorln(strings.Repeat("x", 8*1024))
	s := buf.String()
	tassert.Errorf(t, len(s) <= 4*1024, "line not truncated: %d", len(s))
	tassert.Errorf(t, strings.HasSuffix(s, "\n"), "line not terminated")
}
