// Package metrics exposes Prometheus metrics for planning and execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector wraps Prometheus metrics for the planner and executor. It owns
// its registry so several collectors can coexist in one process.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	StageCalls         *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	Regenerations      *prometheus.CounterVec
	NodeExecutions     *prometheus.CounterVec
	NodeDuration       *prometheus.HistogramVec
	WorkflowExecutions *prometheus.CounterVec
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector() *Collector {
	return NewCollectorWithNamespace("pflow")
}

// NewCollectorWithNamespace creates a Collector whose metric names use ns.
func NewCollectorWithNamespace(ns string) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.StageCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "stage_calls_total",
		Help:      "Total number of planner stage calls",
	}, []string{"stage", "status"})

	c.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "stage_duration_seconds",
		Help:      "Duration of planner stage calls in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	c.Regenerations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "regenerations_total",
		Help:      "Total number of workflow regeneration attempts by outcome",
	}, []string{"outcome"})

	c.NodeExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "node_executions_total",
		Help:      "Total number of node executions",
	}, []string{"capability", "status"})

	c.NodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "node_duration_seconds",
		Help:      "Duration of node executions in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability"})

	c.WorkflowExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "executions_total",
		Help:      "Total number of workflow executions",
	}, []string{"status"})

	reg.MustRegister(c.StageCalls, c.StageDuration, c.Regenerations,
		c.NodeExecutions, c.NodeDuration, c.WorkflowExecutions)
	return c
}

// Registry returns the collector's Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler that serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordStage records one stage call.
func (c *Collector) RecordStage(stage, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageCalls.WithLabelValues(stage, status).Inc()
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRegeneration records the outcome of one generate/validate attempt.
func (c *Collector) RecordRegeneration(outcome string) {
	if c == nil {
		return
	}
	c.Regenerations.WithLabelValues(outcome).Inc()
}

// RecordNode records one node invocation.
func (c *Collector) RecordNode(capability, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.NodeExecutions.WithLabelValues(capability, status).Inc()
	c.NodeDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordExecution records the final status of a workflow run.
func (c *Collector) RecordExecution(status string) {
	if c == nil {
		return
	}
	c.WorkflowExecutions.WithLabelValues(status).Inc()
}
