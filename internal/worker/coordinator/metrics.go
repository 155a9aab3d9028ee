// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/etcd-coordinator/core/cluster"
)

const metricsNamespace = "etcd_coordinator"

var (
	tlsStates      = []cluster.TLSState{cluster.NoTLS, cluster.ToTLS, cluster.TLS, cluster.ToNoTLS}
	rotationStates = []cluster.RotationState{cluster.NoRotation, cluster.NewCADetected, cluster.NewCAAdded, cluster.CertUpdated}
)

// Collector is a prometheus.Collector that collects metrics about the
// coordinator worker.
type Collector struct {
	events     *prometheus.CounterVec
	membership *prometheus.CounterVec
	restarts   prometheus.Counter
	deferred   prometheus.Gauge
	tlsState   *prometheus.GaugeVec
	rotation   *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_total",
				Help:      "The number of events handled, by kind and result.",
			}, []string{"kind", "result"},
		),
		membership: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "membership_operations_total",
				Help:      "The number of membership operations, by operation and result.",
			}, []string{"operation", "result"},
		),
		restarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workload_restarts_total",
				Help:      "The number of workload restarts.",
			},
		),
		deferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "deferred_events",
				Help:      "The number of events waiting to be delivered again.",
			},
		),
		tlsState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tls_state",
				Help:      "Set to 1 for the current TLS state of each link.",
			}, []string{"link", "state"},
		),
		rotation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "ca_rotation_state",
				Help:      "Set to 1 for the current CA rotation state of each link.",
			}, []string{"link", "state"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.membership.Describe(ch)
	c.restarts.Describe(ch)
	c.deferred.Describe(ch)
	c.tlsState.Describe(ch)
	c.rotation.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.membership.Collect(ch)
	c.restarts.Collect(ch)
	c.deferred.Collect(ch)
	c.tlsState.Collect(ch)
	c.rotation.Collect(ch)
}

func (c *Collector) observeEvent(kind, result string) {
	c.events.WithLabelValues(kind, result).Inc()
}

func (c *Collector) observeMembership(op string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.membership.WithLabelValues(op, result).Inc()
}

func (c *Collector) observeRestart() {
	c.restarts.Inc()
}

func (c *Collector) setDeferred(n int) {
	c.deferred.Set(float64(n))
}

func (c *Collector) observeLocal(r cluster.UnitRecord) {
	for _, link := range cluster.Links {
		for _, s := range tlsStates {
			c.tlsState.WithLabelValues(string(link), string(s)).Set(flag(r.TLSState(link) == s))
		}
		for _, s := range rotationStates {
			c.rotation.WithLabelValues(string(link), string(s)).Set(flag(r.Rotation(link) == s))
		}
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
