// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

const (
	// COSAgentEndpoint is the charm relation endpoint of the telemetry
	// agent scraping the profiler.
	COSAgentEndpoint = "cos-agent"

	// COSAgentConfigKey holds the JSON encoded COSAgentData in the unit
	// databag.
	COSAgentConfigKey = "config"
)

// StaticConfig lists the targets of a scrape job.
type StaticConfig struct {
	Targets []string `json:"targets"`
}

// ScrapeJob is a Prometheus scrape job.
type ScrapeJob struct {
	JobName       string         `json:"job_name"`
	MetricsPath   string         `json:"metrics_path"`
	StaticConfigs []StaticConfig `json:"static_configs"`
}

// COSAgentData is what a unit publishes on the cos-agent relation.
type COSAgentData struct {
	MetricsAlertRules map[string]any `json:"metrics_alert_rules"`
	LogAlertRules     map[string]any `json:"log_alert_rules"`
	Dashboards        []string       `json:"dashboards"`
	MetricsScrapeJobs []ScrapeJob    `json:"metrics_scrape_jobs"`
	LogSlots          []string       `json:"log_slots"`
	Subordinate       bool           `json:"subordinate"`
}

// SelfScrapeJob returns the job scraping the collector's own metrics on
// port of the local machine.
func SelfScrapeJob(name string, port int) ScrapeJob {
	return ScrapeJob{
		JobName:     name,
		MetricsPath: "/metrics",
		StaticConfigs: []StaticConfig{{
			Targets: []string{fmt.Sprintf("localhost:%d", port)},
		}},
	}
}

// Databag returns the unit databag settings holding d.
func (d COSAgentData) Databag() (map[string]string, error) {
	if d.MetricsAlertRules == nil {
		d.MetricsAlertRules = map[string]any{}
	}
	if d.LogAlertRules == nil {
		d.LogAlertRules = map[string]any{}
	}
	if d.Dashboards == nil {
		d.Dashboards = []string{}
	}
	if d.MetricsScrapeJobs == nil {
		d.MetricsScrapeJobs = []ScrapeJob{}
	}
	if d.LogSlots == nil {
		d.LogSlots = []string{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return map[string]string{COSAgentConfigKey: string(data)}, nil
}

// Publisher writes the local unit databag of the relations of a charm
// endpoint.
type Publisher interface {
	RelationIDs(endpoint string) ([]string, error)
	Publish(relationID string, settings map[string]string) error
}

// NopPublisher is used when the charm does not declare the endpoint: it
// never has relations.
type NopPublisher struct{}

// RelationIDs is part of the Publisher interface.
func (NopPublisher) RelationIDs(string) ([]string, error) {
	return nil, nil
}

// Publish is part of the Publisher interface.
func (NopPublisher) Publish(relationID string, _ map[string]string) error {
	return errors.NotFoundf("relation %s", relationID)
}

// HookToolPublisher writes relation data with the relation-ids and
// relation-set hook tools. It only works within a hook context.
type HookToolPublisher struct {
	HookToolReader
}

// NewHookToolPublisher returns a publisher running the hook tools with
// run, or with utils.RunCommand if run is nil.
func NewHookToolPublisher(run RunCommandFunc) *HookToolPublisher {
	if run == nil {
		run = utils.RunCommand
	}
	return &HookToolPublisher{HookToolReader{run: run}}
}

// Publish is part of the Publisher interface. Settings are written to the
// unit databag, in key order.
func (p *HookToolPublisher) Publish(relationID string, settings map[string]string) error {
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := []string{"-r", relationID}
	for _, key := range keys {
		args = append(args, key+"="+settings[key])
	}
	if out, err := p.run("relation-set", args...); err != nil {
		return errors.Annotatef(err, "relation-set -r %s: %s", relationID, strings.TrimSpace(out))
	}
	return nil
}
