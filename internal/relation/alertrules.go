// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package relation

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/canonical/otel-ebpf-profiler-operator/core/topology"
)

// Alert rule directories, relative to the charm directory.
const (
	MetricsAlertRulesDir = "src/prometheus_alert_rules"
	LogAlertRulesDir     = "src/loki_alert_rules"
)

var alertRuleExtensions = set.NewStrings(".rule", ".rules", ".yaml", ".yml")

// AlertRules holds the alert rules published on the cos-agent relation.
type AlertRules struct {
	Metrics map[string]any
	Logs    map[string]any
}

// LoadAlertRules reads the metrics and log alert rules of the charm in
// charmDir.
func LoadAlertRules(charmDir string, topo topology.Topology) (AlertRules, error) {
	metrics, err := ReadAlertRules(filepath.Join(charmDir, MetricsAlertRulesDir), topo)
	if err != nil {
		return AlertRules{}, errors.Annotate(err, "metrics alert rules")
	}
	logs, err := ReadAlertRules(filepath.Join(charmDir, LogAlertRulesDir), topo)
	if err != nil {
		return AlertRules{}, errors.Annotate(err, "log alert rules")
	}
	return AlertRules{Metrics: metrics, Logs: logs}, nil
}

// ReadAlertRules reads the rule files of dir into a single rules document.
// A file holds either a list of groups or a single rule, which gets a group
// of its own. Group names are prefixed with the topology of the unit and
// every rule is labelled with it. A missing dir gives no rules.
func ReadAlertRules(dir string, topo topology.Topology) (map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	prefix := groupPrefix(topo)
	labels := ruleLabels(topo)
	var groups []any
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || !alertRuleExtensions.Contains(ext) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Trace(err)
		}
		var content map[string]any
		if err := yaml.Unmarshal(data, &content); err != nil {
			return nil, errors.Annotatef(err, "rule file %q", entry.Name())
		}
		stem := strings.TrimSuffix(entry.Name(), ext)
		fileGroups, err := ruleGroups(stem, content)
		if err != nil {
			return nil, errors.Annotatef(err, "rule file %q", entry.Name())
		}
		for _, group := range fileGroups {
			group["name"] = prefix + group["name"].(string)
			for _, rule := range group["rules"].([]any) {
				if err := addLabels(rule, labels); err != nil {
					return nil, errors.Annotatef(err, "rule file %q", entry.Name())
				}
			}
			groups = append(groups, group)
		}
	}
	if len(groups) == 0 {
		return map[string]any{}, nil
	}
	return map[string]any{"groups": groups}, nil
}

func ruleGroups(stem string, content map[string]any) ([]map[string]any, error) {
	if len(content) == 0 {
		return nil, nil
	}
	if _, ok := content["alert"]; ok {
		return []map[string]any{{
			"name":  stem + "_alerts",
			"rules": []any{content},
		}}, nil
	}
	raw, ok := content["groups"].([]any)
	if !ok {
		return nil, errors.NotValidf("rules without groups or alert")
	}
	groups := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		group, ok := item.(map[string]any)
		if !ok {
			return nil, errors.NotValidf("group %d", i)
		}
		name, _ := group["name"].(string)
		if name == "" {
			return nil, errors.NotValidf("group %d without name", i)
		}
		if _, ok := group["rules"].([]any); !ok {
			return nil, errors.NotValidf("group %q without rules", name)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func addLabels(rule any, labels map[string]string) error {
	fields, ok := rule.(map[string]any)
	if !ok {
		return errors.NotValidf("rule of type %T", rule)
	}
	existing, ok := fields["labels"].(map[string]any)
	if !ok {
		existing = make(map[string]any)
		fields["labels"] = existing
	}
	for key, value := range labels {
		existing[key] = value
	}
	return nil
}

func groupPrefix(topo topology.Topology) string {
	uuid := topo.ModelUUID
	if len(uuid) > 8 {
		uuid = uuid[:8]
	}
	return strings.Join([]string{topo.Model, uuid, topo.Application}, "_") + "_"
}

func ruleLabels(topo topology.Topology) map[string]string {
	return map[string]string{
		"juju_model":       topo.Model,
		"juju_model_uuid":  topo.ModelUUID,
		"juju_application": topo.Application,
		"juju_charm":       topo.CharmName,
	}
}
