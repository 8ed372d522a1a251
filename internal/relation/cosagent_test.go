// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/otel-ebpf-profiler-operator/core/topology"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/relation"
)

func (s *readerSuite) TestRelationIDs(c *gc.C) {
	s.outputs["relation-ids cos-agent --format=json"] = `["cos-agent:12","cos-agent:3"]`

	ids, err := relation.NewHookToolPublisher(s.run).RelationIDs("cos-agent")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ids, jc.DeepEquals, []string{"cos-agent:3", "cos-agent:12"})
}

func (s *readerSuite) TestPublish(c *gc.C) {
	err := relation.NewHookToolPublisher(s.run).Publish("cos-agent:3", map[string]string{
		"config": `{"log_slots":[]}`,
		"apiVer": "1",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.calls, jc.DeepEquals, []string{
		`relation-set -r cos-agent:3 apiVer=1 config={"log_slots":[]}`,
	})
}

func (s *readerSuite) TestPublishError(c *gc.C) {
	call := "relation-set -r cos-agent:3 config={}"
	s.outputs[call] = "ERROR permission denied\n"
	s.errs[call] = errors.New("exit status 1")

	err := relation.NewHookToolPublisher(s.run).Publish("cos-agent:3", map[string]string{"config": "{}"})
	c.Check(err, gc.ErrorMatches, "relation-set -r cos-agent:3: ERROR permission denied: exit status 1")
}

func (s *readerSuite) TestNopPublisher(c *gc.C) {
	ids, err := relation.NopPublisher{}.RelationIDs("cos-agent")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ids, gc.HasLen, 0)
	c.Check(relation.NopPublisher{}.Publish("cos-agent:1", nil), jc.ErrorIs, errors.NotFound)
}

type cosAgentSuite struct {
	testing.IsolationSuite

	topology topology.Topology
}

var _ = gc.Suite(&cosAgentSuite{})

func (s *cosAgentSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.topology = topology.Topology{
		Model:       "lma",
		ModelUUID:   "deadbeef-0bad-400d-8000-4b1d0d06f00d",
		Application: "profiler",
		Unit:        "profiler/0",
		CharmName:   "otel-ebpf-profiler",
	}
}

func (s *cosAgentSuite) TestDatabag(c *gc.C) {
	databag, err := relation.COSAgentData{
		MetricsScrapeJobs: []relation.ScrapeJob{relation.SelfScrapeJob("otel_ebpf_profiler", 8888)},
		LogSlots:          []string{"otel-ebpf-profiler:logs"},
	}.Databag()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(databag, gc.HasLen, 1)

	var data map[string]any
	c.Assert(json.Unmarshal([]byte(databag["config"]), &data), jc.ErrorIsNil)
	c.Check(data, jc.DeepEquals, map[string]any{
		"metrics_alert_rules": map[string]any{},
		"log_alert_rules":     map[string]any{},
		"dashboards":          []any{},
		"metrics_scrape_jobs": []any{
			map[string]any{
				"job_name":     "otel_ebpf_profiler",
				"metrics_path": "/metrics",
				"static_configs": []any{
					map[string]any{"targets": []any{"localhost:8888"}},
				},
			},
		},
		"log_slots":   []any{"otel-ebpf-profiler:logs"},
		"subordinate": false,
	})
}

func (s *cosAgentSuite) writeRule(c *gc.C, dir, name, content string) {
	c.Assert(os.MkdirAll(dir, 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644), jc.ErrorIsNil)
}

func (s *cosAgentSuite) TestLoadAlertRules(c *gc.C) {
	charmDir := c.MkDir()
	metricsDir := filepath.Join(charmDir, relation.MetricsAlertRulesDir)
	s.writeRule(c, metricsDir, "up.rule", `
alert: ProfilerDown
expr: up < 1
labels:
  severity: critical
`)
	s.writeRule(c, metricsDir, "groups.rules", `
groups:
  - name: exporter
    rules:
      - alert: ExportFailures
        expr: rate(otelcol_exporter_send_failed_log_records[5m]) > 0
`)
	s.writeRule(c, metricsDir, "README.md", "not a rule")

	rules, err := relation.LoadAlertRules(charmDir, s.topology)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rules.Logs, jc.DeepEquals, map[string]any{})

	labels := func(extra map[string]any) map[string]any {
		result := map[string]any{
			"juju_model":       "lma",
			"juju_model_uuid":  "deadbeef-0bad-400d-8000-4b1d0d06f00d",
			"juju_application": "profiler",
			"juju_charm":       "otel-ebpf-profiler",
		}
		for key, value := range extra {
			result[key] = value
		}
		return result
	}
	c.Check(rules.Metrics, jc.DeepEquals, map[string]any{"groups": []any{
		map[string]any{
			"name": "lma_deadbeef_profiler_exporter",
			"rules": []any{map[string]any{
				"alert":  "ExportFailures",
				"expr":   "rate(otelcol_exporter_send_failed_log_records[5m]) > 0",
				"labels": labels(nil),
			}},
		},
		map[string]any{
			"name": "lma_deadbeef_profiler_up_alerts",
			"rules": []any{map[string]any{
				"alert":  "ProfilerDown",
				"expr":   "up < 1",
				"labels": labels(map[string]any{"severity": "critical"}),
			}},
		},
	}})
}

func (s *cosAgentSuite) TestReadAlertRulesInvalid(c *gc.C) {
	dir := c.MkDir()
	s.writeRule(c, dir, "bad.rule", "name: nothing\n")

	_, err := relation.ReadAlertRules(dir, s.topology)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	c.Check(err, gc.ErrorMatches, `rule file "bad.rule": rules without groups or alert not valid`)
}
