// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package settings reads the operator settings file.
//
// The file is YAML; every attribute is optional and falls back to the
// defaults below, so an empty file is a valid configuration.
package settings

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/canonical/otel-ebpf-profiler-operator/collector/manager"
	"github.com/canonical/otel-ebpf-profiler-operator/collector/probe"
	"github.com/canonical/otel-ebpf-profiler-operator/service/snap"
)

const (
	// DefaultSnapName is the name of the profiler snap.
	DefaultSnapName = "otel-ebpf-profiler"

	// DefaultServiceName is the service of the snap running the profiler.
	DefaultServiceName = "otel-ebpf-profiler"

	DefaultConfigPath = "/etc/otel_ebpf_profiler/config.yaml"
	DefaultHashPath   = "/etc/otel_ebpf_profiler/config.hash"
	DefaultLockPath   = "/etc/otel_ebpf_profiler/machine.lock"

	// DefaultCACertPath is where the certificate_transfer relation puts the
	// CA bundle of the profiling backends.
	DefaultCACertPath = "/usr/local/share/ca-certificates/juju_receive-ca-cert/ca.crt"

	// DefaultLogSlot is the snap slot exposing the profiler logs to the
	// telemetry agent.
	DefaultLogSlot = "otel-ebpf-profiler:logs"
)

// Settings holds the operator settings.
type Settings struct {
	SnapName    string
	ServiceName string
	Classic     bool
	Revisions   snap.RevisionMap

	ConfigPath string
	HashPath   string
	LockPath   string
	CACertPath string

	InsecureSkipVerify bool
	ProbeTimeout       time.Duration

	ReceiverTLS    bool
	ServerCertPath string
	ServerKeyPath  string

	// HealthCheckPort enables the collector health check when not zero.
	HealthCheckPort int

	// LogFile and LogSlots are used when a telemetry agent is related
	// over cos-agent.
	LogFile  string
	LogSlots []string

	// MetricsTextfile enables the operator metrics when not empty.
	MetricsTextfile string

	// Profiling holds static profiling relation databags. When set, they
	// replace the ones read from the relation.
	Profiling []map[string]string
}

var revisionSchema = schema.FieldMap(
	schema.Fields{
		"arch":        schema.String(),
		"confinement": schema.OneOf(schema.Const(string(snap.Strict)), schema.Const(string(snap.Classic))),
		"revision":    schema.ForceInt(),
	},
	schema.Defaults{
		"confinement": string(snap.Strict),
	},
)

var fields = schema.Fields{
	"snap-name":            schema.String(),
	"service-name":         schema.String(),
	"classic":              schema.Bool(),
	"revisions":            schema.List(revisionSchema),
	"config-path":          schema.String(),
	"hash-path":            schema.String(),
	"lock-path":            schema.String(),
	"ca-cert-path":         schema.String(),
	"insecure-skip-verify": schema.Bool(),
	"probe-timeout":        schema.String(),
	"receiver-tls":         schema.Bool(),
	"server-cert-path":     schema.String(),
	"server-key-path":      schema.String(),
	"health-check-port":    schema.ForceInt(),
	"log-file":             schema.String(),
	"log-slots":            schema.List(schema.String()),
	"metrics-textfile":     schema.String(),
	"profiling":            schema.List(schema.StringMap(schema.String())),
}

var defaults = schema.Defaults{
	"snap-name":            DefaultSnapName,
	"service-name":         DefaultServiceName,
	"classic":              false,
	"revisions":            []interface{}{},
	"config-path":          DefaultConfigPath,
	"hash-path":            DefaultHashPath,
	"lock-path":            DefaultLockPath,
	"ca-cert-path":         DefaultCACertPath,
	"insecure-skip-verify": false,
	"probe-timeout":        probe.DefaultTimeout.String(),
	"receiver-tls":         false,
	"server-cert-path":     "",
	"server-key-path":      "",
	"health-check-port":    0,
	"log-file":             manager.DefaultLogFile,
	"log-slots":            []interface{}{DefaultLogSlot},
	"metrics-textfile":     "",
	"profiling":            []interface{}{},
}

var settingsSchema = schema.FieldMap(fields, defaults)

// Load reads the settings file at path. A missing file gives the default
// settings.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Parse(nil)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	s, err := Parse(data)
	return s, errors.Annotatef(err, "settings file %q", path)
}

// Parse coerces YAML settings.
func Parse(data []byte) (*Settings, error) {
	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Trace(err)
	}
	v, err := settingsSchema.Coerce(raw, nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid settings")
	}
	m := v.(map[string]interface{})

	s := &Settings{
		SnapName:           m["snap-name"].(string),
		ServiceName:        m["service-name"].(string),
		Classic:            m["classic"].(bool),
		ConfigPath:         m["config-path"].(string),
		HashPath:           m["hash-path"].(string),
		LockPath:           m["lock-path"].(string),
		CACertPath:         m["ca-cert-path"].(string),
		InsecureSkipVerify: m["insecure-skip-verify"].(bool),
		ReceiverTLS:        m["receiver-tls"].(bool),
		ServerCertPath:     m["server-cert-path"].(string),
		ServerKeyPath:      m["server-key-path"].(string),
		HealthCheckPort:    m["health-check-port"].(int),
		LogFile:            m["log-file"].(string),
		MetricsTextfile:    m["metrics-textfile"].(string),
	}

	timeout, err := time.ParseDuration(m["probe-timeout"].(string))
	if err != nil || timeout <= 0 {
		return nil, errors.NotValidf("probe-timeout %q", m["probe-timeout"])
	}
	s.ProbeTimeout = timeout

	if s.Revisions, err = parseRevisions(m["revisions"].([]interface{})); err != nil {
		return nil, errors.Trace(err)
	}
	for _, slot := range m["log-slots"].([]interface{}) {
		s.LogSlots = append(s.LogSlots, slot.(string))
	}
	for _, databag := range m["profiling"].([]interface{}) {
		fields := make(map[string]string)
		for key, value := range databag.(map[string]interface{}) {
			fields[key] = value.(string)
		}
		s.Profiling = append(s.Profiling, fields)
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func parseRevisions(entries []interface{}) (snap.RevisionMap, error) {
	revisions := make(snap.RevisionMap, len(entries))
	for _, entry := range entries {
		fields := entry.(map[string]interface{})
		arch := fields["arch"].(string)
		if !snap.IsSupportedArch(arch) {
			return nil, errors.NotValidf("revision arch %q", arch)
		}
		key := snap.RevisionKey{
			Confinement: snap.Confinement(fields["confinement"].(string)),
			Arch:        arch,
		}
		if _, ok := revisions[key]; ok {
			return nil, errors.NotValidf("duplicate revision for %s confinement on %s", key.Confinement, arch)
		}
		revision := fields["revision"].(int)
		if revision <= 0 {
			return nil, errors.NotValidf("revision %d", revision)
		}
		revisions[key] = revision
	}
	return revisions, nil
}

// Validate checks the settings are consistent.
func (s *Settings) Validate() error {
	if s.ReceiverTLS && (s.ServerCertPath == "" || s.ServerKeyPath == "") {
		return errors.NotValidf("receiver-tls without server-cert-path and server-key-path")
	}
	if s.HealthCheckPort < 0 || s.HealthCheckPort > 65535 {
		return errors.NotValidf("health-check-port %d", s.HealthCheckPort)
	}
	for _, path := range []string{s.ConfigPath, s.HashPath, s.LockPath} {
		if path == "" {
			return errors.NotValidf("empty state file path")
		}
	}
	return nil
}
