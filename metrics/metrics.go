// Package metrics exposes Prometheus collectors for planning and
// generation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gosynth"

// Metrics holds the collectors registered by New.
type Metrics struct {
	runs             *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	nodesGenerated   *prometheus.CounterVec
	recordsPersisted *prometheus.CounterVec
	planNodes        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planning_calls_total",
			Help:      "Planning and generation runs by kind and outcome.",
		}, []string{"kind", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planning_duration_seconds",
			Help:      "Wall time of planning and generation runs.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		nodesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_generated_total",
			Help:      "Graph nodes generated by outcome.",
		}, []string{"status"}),
		recordsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Records written by operation (insert or patch).",
		}, []string{"op"}),
		planNodes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_nodes",
			Help:      "Number of nodes in produced plans.",
			Buckets:   prometheus.LinearBuckets(1, 3, 10),
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.runDuration, m.nodesGenerated, m.recordsPersisted, m.planNodes)
	}
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRun records one run of kind (dag, scenario, setup, generate).
func (m *Metrics) ObserveRun(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(kind, status(err)).Inc()
	m.runDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObservePlanSize records the node count of a produced plan.
func (m *Metrics) ObservePlanSize(kind string, nodes int) {
	if m == nil {
		return
	}
	m.planNodes.WithLabelValues(kind).Observe(float64(nodes))
}

// NodeGenerated counts one generated node.
func (m *Metrics) NodeGenerated(err error) {
	if m == nil {
		return
	}
	m.nodesGenerated.WithLabelValues(status(err)).Inc()
}

// RecordsPersisted counts records written in one persist call.
func (m *Metrics) RecordsPersisted(inserted, patched int) {
	if m == nil {
		return
	}
	m.recordsPersisted.WithLabelValues("insert").Add(float64(inserted))
	m.recordsPersisted.WithLabelValues("patch").Add(float64(patched))
}
