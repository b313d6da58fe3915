// Package stats registers, tracks, logs, and exports tracer-health counters.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/NVIDIA/biosnoop/cmn/nlog"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsPath     = "/metrics"
	shutdownTimeout = 2 * time.Second
)

// Server exposes a Tracker's registry over HTTP.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// Serve listens on addr (synchronously, so that a bad address fails setup)
// and serves in the background until Close.
func (t *Tracker) Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "metrics: listen on %q", addr)
	}
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(t.reg, promhttp.HandlerOpts{ErrorLog: errLogger{}}))
	s := &Server{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nlog.Errorln("metrics server exited:", err)
		}
	}()
	nlog.Infof("serving metrics at http://%s%s", s.addr, MetricsPath)
	return s, nil
}

func (s *Server) Addr() string { return s.addr.String() }

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

// promhttp.Logger
type errLogger struct{}

func (errLogger) Println(v ...any) { nlog.Errorln(v...) }
