// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics counts what the operator did across hook invocations.
//
// Every hook is a new process, so the metrics are written to a textfile read
// by node-exporter's textfile collector, and restored from it at the start
// of the next hook.
package metrics

import (
	"os"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricsNamespace = "profiler_operator"

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

// Collector is a prometheus.Collector that collects metrics about the
// lifecycle phases of the operator.
type Collector struct {
	clock clock.Clock

	phaseTotal    *prometheus.CounterVec
	reloadsTotal  prometheus.Counter
	lockDenied    prometheus.Counter
	configApplied prometheus.Gauge
}

// NewCollector returns a new Collector. Timestamps are read from clk.
func NewCollector(clk clock.Clock) *Collector {
	return &Collector{
		clock: clk,
		phaseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "phase_total",
				Help:      "The number of lifecycle phases run, by phase and result.",
			}, []string{"phase", "result"},
		),
		reloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reloads_total",
				Help:      "The number of times the profiler was reloaded with a new configuration.",
			},
		),
		lockDenied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lock_denied_total",
				Help:      "The number of phases skipped because another unit profiles the machine.",
			},
		),
		configApplied: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_applied_timestamp_seconds",
				Help:      "The time the current profiler configuration was applied.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.phaseTotal.Describe(ch)
	c.reloadsTotal.Describe(ch)
	c.lockDenied.Describe(ch)
	c.configApplied.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.phaseTotal.Collect(ch)
	c.reloadsTotal.Collect(ch)
	c.lockDenied.Collect(ch)
	c.configApplied.Collect(ch)
}

// PhaseCompleted records the outcome of a phase.
func (c *Collector) PhaseCompleted(phase string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	c.phaseTotal.WithLabelValues(phase, result).Inc()
}

// LockDenied records a phase that did nothing because the machine lock is
// held by another unit.
func (c *Collector) LockDenied(phase string) {
	c.phaseTotal.WithLabelValues(phase, ResultDenied).Inc()
	c.lockDenied.Inc()
}

// ConfigApplied records a reload of the profiler with a new configuration.
func (c *Collector) ConfigApplied() {
	c.reloadsTotal.Inc()
	c.configApplied.Set(float64(c.clock.Now().Unix()))
}

// WriteTextfile writes the metrics to path in the text exposition format.
func (c *Collector) WriteTextfile(path string) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(prometheus.WriteToTextfile(path, registry), "writing metrics to %q", path)
}

// Restore adds the values of a textfile written by a previous hook. A
// missing file is not an error.
func (c *Collector) Restore(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = f.Close() }()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return errors.Annotatef(err, "parsing metrics from %q", path)
	}
	for _, metric := range families[metricsNamespace+"_phase_total"].GetMetric() {
		labels := labelValues(metric)
		c.phaseTotal.WithLabelValues(labels["phase"], labels["result"]).Add(metric.GetCounter().GetValue())
	}
	for _, metric := range families[metricsNamespace+"_reloads_total"].GetMetric() {
		c.reloadsTotal.Add(metric.GetCounter().GetValue())
	}
	for _, metric := range families[metricsNamespace+"_lock_denied_total"].GetMetric() {
		c.lockDenied.Add(metric.GetCounter().GetValue())
	}
	for _, metric := range families[metricsNamespace+"_config_applied_timestamp_seconds"].GetMetric() {
		c.configApplied.Set(metric.GetGauge().GetValue())
	}
	return nil
}

func labelValues(metric *dto.Metric) map[string]string {
	result := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		result[pair.GetName()] = pair.GetValue()
	}
	return result
}
