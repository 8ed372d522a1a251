// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package builder assembles an OpenTelemetry Collector configuration out of
// individual components and renders it as canonical YAML.
//
// Components are registered by kind and instance name, and enabled by adding
// them to named pipelines in the service section. Build repairs pipelines the
// collector would reject and applies the uniform TLS policies before the
// document is serialized.
package builder

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
)

var logger = loggo.GetLogger("profiler.collector.builder")

// Kind is one of the component categories of the collector configuration.
// The value is the top-level key of the category in the document.
type Kind string

const (
	// Receiver components get data into the collector.
	Receiver Kind = "receivers"
	// Processor components transform data between receivers and exporters.
	Processor Kind = "processors"
	// Exporter components send data out of the collector.
	Exporter Kind = "exporters"
	// Connector components join two pipelines together.
	Connector Kind = "connectors"
)

// Kinds holds every component kind, in document order.
var Kinds = []Kind{Receiver, Processor, Exporter, Connector}

// Validate returns ErrInvalidComponentKind if k is not a known kind.
func (k Kind) Validate() error {
	switch k {
	case Receiver, Processor, Exporter, Connector:
		return nil
	}
	return errors.Annotatef(ErrInvalidComponentKind, "kind %q", string(k))
}

// TelemetryCategory is a category of the collector's own telemetry.
type TelemetryCategory string

const (
	TelemetryLogs    TelemetryCategory = "logs"
	TelemetryMetrics TelemetryCategory = "metrics"
	TelemetryTraces  TelemetryCategory = "traces"
)

// ProfilesPipeline is the only pipeline the profiler runs.
const ProfilesPipeline = "profiles"

// DefaultReceiverName is the eBPF profiling receiver every configuration
// carries, so that there is always a receiver feeding the profiles pipeline.
const DefaultReceiverName = "profiling"

// DefaultSamplesPerSecond is the sampling frequency of the default receiver.
const DefaultSamplesPerSecond = 19

// Options holds the policies applied to the whole document at build time.
type Options struct {
	// ExporterSkipVerify is the value of tls.insecure_skip_verify set on
	// every exporter that doesn't define it.
	ExporterSkipVerify bool

	// ReceiverTLS enables injecting the server certificate and key into
	// every receiver protocol section.
	ReceiverTLS bool

	// ServerCertPath and ServerKeyPath are used when ReceiverTLS is set.
	ServerCertPath string
	ServerKeyPath  string
}

// Builder accumulates components and renders the collector configuration.
// A Builder is meant to be used for a single build cycle.
type Builder struct {
	options Options

	components map[Kind]map[string]map[string]any
	extensions map[string]map[string]any
	// activeExtensions keeps the order in which extensions were added.
	activeExtensions []string
	pipelines        map[string]*pipeline
	telemetry        map[TelemetryCategory]map[string]any

	topology map[string]string
}

type pipeline struct {
	members map[Kind][]string
	seen    map[Kind]set.Strings
}

func newPipeline() *pipeline {
	return &pipeline{
		members: make(map[Kind][]string),
		seen:    make(map[Kind]set.Strings),
	}
}

// add appends name to the kind list, unless it is already there.
func (p *pipeline) add(kind Kind, name string) bool {
	seen, ok := p.seen[kind]
	if !ok {
		seen = set.NewStrings()
		p.seen[kind] = seen
	}
	if seen.Contains(name) {
		return false
	}
	seen.Add(name)
	p.members[kind] = append(p.members[kind], name)
	return true
}

// prepend puts name at the front of the kind list, removing any other
// occurrence of it.
func (p *pipeline) prepend(kind Kind, name string) {
	current := p.members[kind]
	result := make([]string, 0, len(current)+1)
	result = append(result, name)
	for _, member := range current {
		if member != name {
			result = append(result, member)
		}
	}
	p.members[kind] = result
	if _, ok := p.seen[kind]; !ok {
		p.seen[kind] = set.NewStrings()
	}
	p.seen[kind].Add(name)
}

func (p *pipeline) empty() bool {
	for _, members := range p.members {
		if len(members) > 0 {
			return false
		}
	}
	return true
}

// New returns a Builder holding the default profiling receiver.
func New(options Options) *Builder {
	b := &Builder{
		options:    options,
		components: make(map[Kind]map[string]map[string]any),
		extensions: make(map[string]map[string]any),
		pipelines:  make(map[string]*pipeline),
		telemetry:  make(map[TelemetryCategory]map[string]any),
	}
	for _, kind := range Kinds {
		b.components[kind] = make(map[string]map[string]any)
	}
	b.addDefaultConfig()
	return b
}

func (b *Builder) addDefaultConfig() {
	// The collector refuses to start without a pipeline, so there is always
	// one with a receiver. The missing exporter is handled at build time.
	_ = b.AddComponent(Receiver, DefaultReceiverName, map[string]any{
		"SamplesPerSecond": DefaultSamplesPerSecond,
	}, ProfilesPipeline)
}

// AddComponent registers config as the kind component called name,
// replacing any previous registration. The component is added to each of
// the given pipelines, at most once per pipeline.
func (b *Builder) AddComponent(kind Kind, name string, config map[string]any, pipelines ...string) error {
	if err := kind.Validate(); err != nil {
		return errors.Trace(err)
	}
	if name == "" {
		return errors.NotValidf("empty %s name", kind)
	}
	b.components[kind][name] = copyConfig(config)
	for _, pipelineName := range pipelines {
		b.addToPipeline(pipelineName, kind, name)
	}
	return nil
}

func (b *Builder) addToPipeline(pipelineName string, kind Kind, name string) {
	p, ok := b.pipelines[pipelineName]
	if !ok {
		p = newPipeline()
		b.pipelines[pipelineName] = p
	}
	if p.add(kind, name) {
		logger.Tracef("added %s %q to pipeline %q", kind, name, pipelineName)
	}
}

// AddExtension registers an extension and activates it in the service
// section. Activation happens once, whatever the number of calls.
func (b *Builder) AddExtension(name string, config map[string]any) error {
	if name == "" {
		return errors.NotValidf("empty extension name")
	}
	if _, ok := b.extensions[name]; !ok {
		b.activeExtensions = append(b.activeExtensions, name)
	}
	b.extensions[name] = copyConfig(config)
	return nil
}

// AddTelemetry sets the internal telemetry configuration of a category.
// The last call for a category wins.
func (b *Builder) AddTelemetry(category TelemetryCategory, config map[string]any) error {
	switch category {
	case TelemetryLogs, TelemetryMetrics, TelemetryTraces:
	default:
		return errors.NotValidf("telemetry category %q", string(category))
	}
	b.telemetry[category] = copyConfig(config)
	return nil
}

// InjectTopology records the resource attributes inserted into every
// pipeline by the topology processor at build time.
func (b *Builder) InjectTopology(labels map[string]string) {
	if b.topology == nil {
		b.topology = make(map[string]string, len(labels))
	}
	for key, value := range labels {
		b.topology[key] = value
	}
}

// Component returns a copy of the configuration of a registered component.
func (b *Builder) Component(kind Kind, name string) (map[string]any, bool) {
	components, ok := b.components[kind]
	if !ok {
		return nil, false
	}
	config, ok := components[name]
	if !ok {
		return nil, false
	}
	return copyConfig(config), true
}

// Pipeline returns the members of a pipeline by kind. The result is nil if
// the pipeline doesn't exist.
func (b *Builder) Pipeline(name string) map[Kind][]string {
	p, ok := b.pipelines[name]
	if !ok {
		return nil
	}
	result := make(map[Kind][]string, len(p.members))
	for kind, members := range p.members {
		result[kind] = append([]string(nil), members...)
	}
	return result
}

// Build applies the post-processing passes and returns the configuration as
// YAML. Calling Build more than once returns the same bytes.
func (b *Builder) Build() ([]byte, error) {
	if err := b.postProcess(); err != nil {
		return nil, errors.Trace(err)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(b.document()); err != nil {
		return nil, errors.Annotate(err, "serializing collector config")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// document returns the configuration as a tree of maps. yaml.v3 sorts
// mapping keys, which makes the serialized form canonical.
func (b *Builder) document() map[string]any {
	doc := make(map[string]any, len(Kinds)+2)
	for _, kind := range Kinds {
		components := make(map[string]any, len(b.components[kind]))
		for name, config := range b.components[kind] {
			components[name] = config
		}
		doc[string(kind)] = components
	}

	extensions := make(map[string]any, len(b.extensions))
	for name, config := range b.extensions {
		extensions[name] = config
	}
	doc["extensions"] = extensions

	pipelines := make(map[string]any, len(b.pipelines))
	for name, p := range b.pipelines {
		record := make(map[string]any, len(p.members))
		for kind, members := range p.members {
			record[string(kind)] = append([]string{}, members...)
		}
		pipelines[name] = record
	}
	telemetry := make(map[string]any, len(b.telemetry))
	for category, config := range b.telemetry {
		telemetry[string(category)] = config
	}
	doc["service"] = map[string]any{
		"extensions": append([]string{}, b.activeExtensions...),
		"pipelines":  pipelines,
		"telemetry":  telemetry,
	}
	return doc
}

// Fingerprint returns the hex encoded SHA-256 digest of a serialized
// configuration.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func copyConfig(config map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}
	return deepcopy.Copy(config).(map[string]any)
}
