// Copyright (C) 2015  Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package monitorsrv provides an embedded HTTP server to expose the
// aggregation engine's metrics for monitoring: Prometheus counters and
// histograms for strategy choice, miss rate and merge duration, plus
// the usual expvar/pprof/loglevel debug endpoints.
package monitorsrv

import (
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Go documentation recommended usage
	"strings"

	"github.com/aristanetworks/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristanetworks/aggregion/internal/dispatch"
)

// Server represents a monitoring server.
type Server interface {
	Run()
}

// Metrics holds the Prometheus collectors the aggregation engine reports
// into. Metrics is safe for concurrent use by every worker thread.
type Metrics struct {
	MissRate        prometheus.Gauge
	StrategyChosen  *prometheus.CounterVec
	MergeDuration   prometheus.Histogram
	RunDuration     prometheus.Histogram
	PartitionsTotal prometheus.Counter
}

// NewMetrics registers and returns a fresh set of collectors under reg.
// Pass prometheus.NewRegistry() for tests, or prometheus.DefaultRegisterer
// for a process-wide server.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MissRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aggregion",
			Name:      "miss_rate",
			Help:      "Fraction of sampled tuples that missed the private cache on the last run.",
		}),
		StrategyChosen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aggregion",
			Name:      "strategy_chosen_total",
			Help:      "Number of partitions that chose each execution strategy.",
		}, []string{"strategy"}),
		MergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aggregion",
			Name:      "merge_duration_seconds",
			Help:      "Wall-clock seconds spent draining private tables into the global table.",
			Buckets:   prometheus.DefBuckets,
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aggregion",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock seconds spent in one aggregation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		PartitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aggregion",
			Name:      "partitions_processed_total",
			Help:      "Number of partitions drained across all Run calls.",
		}),
	}
	reg.MustRegister(m.MissRate, m.StrategyChosen, m.MergeDuration, m.RunDuration, m.PartitionsTotal)
	return m
}

// server contains information for the monitoring server.
type server struct {
	// addr is the host[:port] the HTTP server listens on.
	addr string
	reg  *prometheus.Registry
}

// NewMonitorServer creates a new monitoring Server backed by its own
// Prometheus registry; the second return value holds the collectors to
// pass to the aggregation engine.
func NewMonitorServer(addr string) (Server, *Metrics) {
	reg := prometheus.NewRegistry()
	s := &server{addr: addr, reg: reg}
	return s, NewMetrics(reg)
}

func debugHandler(w http.ResponseWriter, r *http.Request) {
	indexTmpl := `<html>
	<head>
	<title>/debug</title>
	</head>
	<body>
	<p>/debug</p>
	<div><a href="/debug/vars">vars</a></div>
	<div><a href="/debug/pprof">pprof</a></div>
	<div><a href="/debug/loglevel">loglevel</a></div>
	<div><a href="/metrics">metrics</a></div>
	</body>
	</html>
	`
	fmt.Fprint(w, indexTmpl)
}

// varsHandler renders every registered expvar alongside the engine's
// own runtime-adjustable knobs that aren't expvars (strategy-log rate),
// so an operator reading /debug/vars sees one place for both.
func varsHandler(w http.ResponseWriter, r *http.Request) {
	sb := strings.Builder{}
	sb.WriteString("{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			sb.WriteString(",\n")
		}
		first = false
		sb.WriteString(fmt.Sprintf("\t%q: %s", kv.Key, kv.Value))
	})
	if !first {
		sb.WriteString(",\n")
	}
	sb.WriteString(fmt.Sprintf("\t%q: %g", "dispatch_log_rate", dispatch.StrategyLogRate()))
	sb.WriteString("\n}")
	fmt.Fprint(w, sb.String())
}

// Run sets up the HTTP server and any handlers. Run blocks until the
// server stops listening, logging the reason through glog.
func (s *server) Run() {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug", debugHandler)
	mux.HandleFunc("/debug/vars", varsHandler)
	mux.Handle("/debug/loglevel", newLogsetSrv())
	mux.Handle("/debug/pprof/", http.DefaultServeMux) // registered by the net/http/pprof import
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(s.addr, mux); err != nil {
		glog.Errorf("monitorsrv: could not start monitor server: %s", err)
	}
}
