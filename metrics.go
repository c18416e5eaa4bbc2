package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the pool's Prometheus surface. Connections is incremented for
// each accepted or dialed connection and BurstSeconds observes each burst
// sent; the Users and ServersLinked gauges are registered but nothing
// updates them, so they stay at zero.
type Metrics struct {
	Registry      *prometheus.Registry
	Connections   prometheus.Counter
	Users         prometheus.Gauge
	ServersLinked prometheus.Gauge
	BurstSeconds  prometheus.Histogram
}

// NewMetrics builds a fresh registry and metric set. Each Catbox gets its
// own registry rather than the global default one, so constructing more
// than one pool (as tests do) never panics on duplicate registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catboxd_connections_total",
			Help: "Total number of connections accepted.",
		}),
		Users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catboxd_users",
			Help: "Current number of registered users known to the pool.",
		}),
		ServersLinked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catboxd_servers_linked",
			Help: "Current number of linked servers, including this one.",
		}),
		BurstSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catboxd_burst_seconds",
			Help:    "Time taken to send a full burst to a newly linked server.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.Registry.MustRegister(m.Connections, m.Users, m.ServersLinked, m.BurstSeconds)

	return m
}
