// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package builder

import (
	"sort"
	"strings"

	"github.com/juju/errors"
)

const (
	// DebugExporterName is the exporter added to pipelines that have a
	// receiver but nothing to send data to.
	DebugExporterName = "debug"

	// TopologyProcessorName is the resource processor that stamps the juju
	// topology on every profile.
	TopologyProcessorName = "resource/profiling-topology-injector"
)

// receiverTLSProtocols are the receiver protocol sections that accept a
// server TLS block. Zipkin has no protocols section, so it is never touched.
var receiverTLSProtocols = []string{"grpc", "http", "thrift_http"}

func (b *Builder) postProcess() error {
	b.injectTopologyProcessor()
	b.addMissingDebugExporters()
	if b.options.ReceiverTLS {
		if err := b.addTLSToAllReceivers(); err != nil {
			return errors.Trace(err)
		}
	}
	if err := b.addExporterInsecureSkipVerify(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// injectTopologyProcessor registers the topology processor and makes it the
// first processor of every pipeline in use.
func (b *Builder) injectTopologyProcessor() {
	if len(b.topology) == 0 {
		return
	}
	keys := make([]string, 0, len(b.topology))
	for key := range b.topology {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attributes := make([]any, 0, len(keys))
	for _, key := range keys {
		attributes = append(attributes, map[string]any{
			"key":    key,
			"value":  b.topology[key],
			"action": "insert",
		})
	}
	b.components[Processor][TopologyProcessorName] = map[string]any{
		"attributes": attributes,
	}
	for _, name := range b.pipelineNames() {
		p := b.pipelines[name]
		if p.empty() {
			continue
		}
		p.prepend(Processor, TopologyProcessorName)
	}
}

// addMissingDebugExporters adds the debug exporter to every pipeline that
// has receivers but no exporters; the collector rejects those.
func (b *Builder) addMissingDebugExporters() {
	required := false
	for _, name := range b.pipelineNames() {
		p := b.pipelines[name]
		if len(p.members[Receiver]) > 0 && len(p.members[Exporter]) == 0 {
			logger.Debugf("pipeline %q has no exporter, adding %q", name, DebugExporterName)
			p.add(Exporter, DebugExporterName)
			required = true
		}
	}
	if required {
		b.components[Exporter][DebugExporterName] = map[string]any{"verbosity": "basic"}
	}
}

// addTLSToAllReceivers sets the server certificate and key on every receiver
// protocol section. Values already present are kept.
func (b *Builder) addTLSToAllReceivers() error {
	for name, config := range b.components[Receiver] {
		protocols, ok := config["protocols"].(map[string]any)
		if !ok {
			continue
		}
		for _, protocol := range receiverTLSProtocols {
			section, ok := protocols[protocol].(map[string]any)
			if !ok {
				continue
			}
			tls, err := ensureMap(section, "tls")
			if err != nil {
				return errors.Annotatef(err, "receiver %q protocol %q", name, protocol)
			}
			setDefault(tls, "key_file", b.options.ServerKeyPath)
			setDefault(tls, "cert_file", b.options.ServerCertPath)
		}
	}
	return nil
}

// addExporterInsecureSkipVerify sets tls.insecure_skip_verify on every
// exporter except the debug ones, unless the exporter defines it already.
func (b *Builder) addExporterInsecureSkipVerify() error {
	for name, config := range b.components[Exporter] {
		if variantRoot(name) == DebugExporterName {
			continue
		}
		tls, err := ensureMap(config, "tls")
		if err != nil {
			return errors.Annotatef(err, "exporter %q", name)
		}
		setDefault(tls, "insecure_skip_verify", b.options.ExporterSkipVerify)
	}
	return nil
}

func (b *Builder) pipelineNames() []string {
	names := make([]string, 0, len(b.pipelines))
	for name := range b.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// variantRoot returns the component type part of an instance name, which
// is everything before the first "/".
func variantRoot(name string) string {
	root, _, _ := strings.Cut(name, "/")
	return root
}

// ensureMap returns the map stored at key, creating it if missing.
func ensureMap(m map[string]any, key string) (map[string]any, error) {
	value, ok := m[key]
	if !ok || value == nil {
		child := make(map[string]any)
		m[key] = child
		return child, nil
	}
	child, ok := value.(map[string]any)
	if !ok {
		return nil, errors.NotValidf("%q section of type %T", key, value)
	}
	return child, nil
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
