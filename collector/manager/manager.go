// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package manager exposes the profiler's collector configuration as a set of
// features (profile forwarding, topology labels, health check, self
// monitoring) on top of the component builder.
//
// A Manager is created for a single reconciliation pass: the caller adds the
// features it needs, calls Build and throws the Manager away.
package manager

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/juju/errors"

	"github.com/canonical/otel-ebpf-profiler-operator/collector/builder"
	"github.com/canonical/otel-ebpf-profiler-operator/collector/probe"
)

//go:generate go run go.uber.org/mock/mockgen -package manager_test -destination prober_mock_test.go github.com/canonical/otel-ebpf-profiler-operator/collector/probe Prober

const (
	// DefaultHealthCheckPort is the port of the health_check extension
	// when none is given.
	DefaultHealthCheckPort = 13133

	// DefaultSelfMonitoringPort is the port the collector exposes its own
	// metrics on.
	DefaultSelfMonitoringPort = 8888

	// DefaultLogFile is where the collector writes its own logs.
	DefaultLogFile = "/var/log/otel-ebpf-profiler.log"

	exporterPrefix = "otlp/profiling"
)

// Logger represents the logging methods used by the manager.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// Endpoint is a profiling backend the collector forwards profiles to.
type Endpoint struct {
	// Address is the host:port of the backend OTLP gRPC receiver.
	Address string

	// Insecure, when set, says whether the backend talks plain text.
	// When nil the backend is probed.
	Insecure *bool
}

// Config holds the dependencies and policies of a Manager.
type Config struct {
	// InsecureSkipVerify is the default of tls.insecure_skip_verify for
	// exporters.
	InsecureSkipVerify bool

	// CACertPath is the CA bundle used to verify backends. It is only
	// referenced by exporters when the file exists.
	CACertPath string

	ReceiverTLS    bool
	ServerCertPath string
	ServerKeyPath  string

	Prober probe.Prober
	Logger Logger
}

// Validate returns an error if the config cannot be used to create a
// Manager.
func (c Config) Validate() error {
	if c.Prober == nil {
		return errors.NotValidf("nil Prober")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Document is a rendered collector configuration.
type Document struct {
	Content []byte
	Hash    string
}

// Manager adds features to a collector configuration.
type Manager struct {
	config  Config
	builder *builder.Builder
}

// New returns a Manager holding a fresh builder.
func New(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{
		config: config,
		builder: builder.New(builder.Options{
			ExporterSkipVerify: config.InsecureSkipVerify,
			ReceiverTLS:        config.ReceiverTLS,
			ServerCertPath:     config.ServerCertPath,
			ServerKeyPath:      config.ServerKeyPath,
		}),
	}, nil
}

// AddProfileForwarding adds one OTLP exporter per endpoint to the profiles
// pipeline. Exporters are named after the endpoint position, so the same
// endpoints always give the same configuration.
func (m *Manager) AddProfileForwarding(ctx context.Context, endpoints []Endpoint) error {
	caFile := ""
	if m.config.CACertPath != "" && fileExists(m.config.CACertPath) {
		caFile = m.config.CACertPath
	}
	for i, endpoint := range endpoints {
		if err := validateAddress(endpoint.Address); err != nil {
			return errors.Annotatef(err, "endpoint %d", i)
		}
		insecure := m.insecure(ctx, endpoint)
		tls := map[string]any{
			"insecure":             insecure,
			"insecure_skip_verify": m.config.InsecureSkipVerify,
		}
		if caFile != "" {
			tls["ca_file"] = caFile
		}
		name := fmt.Sprintf("%s/%d", exporterPrefix, i)
		err := m.builder.AddComponent(builder.Exporter, name, map[string]any{
			"endpoint": endpoint.Address,
			"tls":      tls,
		}, builder.ProfilesPipeline)
		if err != nil {
			return errors.Trace(err)
		}
		m.config.Logger.Debugf("forwarding profiles to %q with exporter %q (insecure: %v)", endpoint.Address, name, insecure)
	}
	return nil
}

func (m *Manager) insecure(ctx context.Context, endpoint Endpoint) bool {
	if endpoint.Insecure != nil {
		return *endpoint.Insecure
	}
	return !m.config.Prober.IsTLS(ctx, endpoint.Address)
}

func validateAddress(address string) error {
	if address == "" {
		return errors.NotValidf("empty address")
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil || host == "" || port == "" {
		return errors.NotValidf("address %q", address)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return errors.NotValidf("port of address %q", address)
	}
	return nil
}

// AddTopologyLabels stamps labels on every profile the collector handles.
func (m *Manager) AddTopologyLabels(labels map[string]string) {
	m.builder.InjectTopology(labels)
}

// AddHealthCheck enables the health_check extension on port, or on
// DefaultHealthCheckPort if port is zero.
func (m *Manager) AddHealthCheck(port int) error {
	if port == 0 {
		port = DefaultHealthCheckPort
	}
	if port < 0 || port > 65535 {
		return errors.NotValidf("health check port %d", port)
	}
	return errors.Trace(m.builder.AddExtension("health_check", map[string]any{
		"endpoint": fmt.Sprintf("0.0.0.0:%d", port),
	}))
}

// AddSelfMonitoring exposes the collector's internal metrics with a
// Prometheus pull reader on port, or on DefaultSelfMonitoringPort if port is
// zero.
func (m *Manager) AddSelfMonitoring(port int) error {
	if port == 0 {
		port = DefaultSelfMonitoringPort
	}
	if port < 0 || port > 65535 {
		return errors.NotValidf("self monitoring port %d", port)
	}
	return errors.Trace(m.builder.AddTelemetry(builder.TelemetryMetrics, map[string]any{
		"level": "normal",
		"readers": []any{
			map[string]any{
				"pull": map[string]any{
					"exporter": map[string]any{
						"prometheus": map[string]any{
							"host": "0.0.0.0",
							"port": port,
						},
					},
				},
			},
		},
	}))
}

// AddLogFile makes the collector write its own logs to path, or to
// DefaultLogFile if path is empty.
func (m *Manager) AddLogFile(path string) error {
	if path == "" {
		path = DefaultLogFile
	}
	return errors.Trace(m.builder.AddTelemetry(builder.TelemetryLogs, map[string]any{
		"level":        "info",
		"output_paths": []any{path},
	}))
}

// Build renders the configuration and its fingerprint.
func (m *Manager) Build() (Document, error) {
	content, err := m.builder.Build()
	if err != nil {
		return Document{}, errors.Annotate(err, "building collector config")
	}
	doc := Document{
		Content: content,
		Hash:    builder.Fingerprint(content),
	}
	m.config.Logger.Debugf("collector config fingerprint %s", doc.Hash)
	return doc, nil
}

var fileExists = func(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
