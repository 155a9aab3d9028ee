// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRegistry returns a registry holding the process and Go runtime
// collectors together with the given ones.
func newRegistry(extra ...prometheus.Collector) (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	all := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, extra...)
	for _, collector := range all {
		if err := r.Register(collector); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r, nil
}

// metricsServer serves a registry on /metrics until killed.
type metricsServer struct {
	catacomb catacomb.Catacomb
	listener net.Listener
	server   *http.Server
}

func newMetricsServer(addr string, registry *prometheus.Registry) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %q", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s := &metricsServer{
		listener: listener,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.loop,
	}); err != nil {
		_ = listener.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Kill is part of worker.Worker.
func (s *metricsServer) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of worker.Worker.
func (s *metricsServer) Wait() error {
	return s.catacomb.Wait()
}

func (s *metricsServer) loop() error {
	served := make(chan error, 1)
	go func() {
		served <- s.server.Serve(s.listener)
	}()
	select {
	case <-s.catacomb.Dying():
		_ = s.server.Close()
		<-served
		return s.catacomb.ErrDying()
	case err := <-served:
		return errors.Annotate(err, "serving metrics")
	}
}
