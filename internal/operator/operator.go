// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package operator runs the lifecycle phases of the profiler on a machine.
//
// Each hook runs exactly one phase. Every phase starts by taking the machine
// lock: a unit that does not hold it only reports itself blocked and leaves
// the machine alone.
package operator

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/canonical/otel-ebpf-profiler-operator/collector/manager"
	"github.com/canonical/otel-ebpf-profiler-operator/collector/probe"
	"github.com/canonical/otel-ebpf-profiler-operator/core/status"
	"github.com/canonical/otel-ebpf-profiler-operator/core/topology"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/gate"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/relation"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/settings"
	"github.com/canonical/otel-ebpf-profiler-operator/service/systemd"
)

//go:generate go run go.uber.org/mock/mockgen -package operator -destination operator_mock_test.go github.com/canonical/otel-ebpf-profiler-operator/internal/operator SnapService,UnitChecker,Metrics
//go:generate go run go.uber.org/mock/mockgen -package operator -destination status_mock_test.go github.com/canonical/otel-ebpf-profiler-operator/core/status StatusSetter

const (
	PhaseSetup     = "setup"
	PhaseTeardown  = "teardown"
	PhaseReconcile = "reconcile"
)

const (
	// LockDeniedMessage is the blocked status of a unit on a machine
	// already profiled by another unit.
	LockDeniedMessage = "machine already profiled by another unit"

	// NoBackendSuffix is appended to the active status when no profiling
	// backend is related.
	NoBackendSuffix = ", no profiling ingester/backend connected"

	ReloadingMessage = "Reloading snap config"

	// SelfScrapeJobName is the scrape job of the collector's own metrics
	// published on the cos-agent relation.
	SelfScrapeJobName = "otel_ebpf_profiler"
)

// Logger represents the logging methods used by the operator.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// SnapService is the profiler snap.
type SnapService interface {
	Install(revision int, classic bool) error
	Hold() error
	Start(enable bool) error
	Remove() error
	Reload(service string) error
}

// UnitChecker reports problems with a systemd unit.
type UnitChecker interface {
	CheckStatus(ctx context.Context, unit string) (string, error)
}

// Lock is the machine lock.
type Lock interface {
	Acquire() (bool, error)
	Release() error
}

// Gate persists collector configurations and reloads the profiler when
// they change.
type Gate interface {
	Apply(content []byte, fingerprint string, reloader gate.Reloader) (bool, error)
	Cleanup() error
}

// Metrics records the outcome of the phases.
type Metrics interface {
	PhaseCompleted(phase string, err error)
	LockDenied(phase string)
	ConfigApplied()
}

// Config holds the dependencies of an Operator.
type Config struct {
	Settings *settings.Settings
	Topology topology.Topology

	Lock Lock
	Gate Gate

	// NewSnap returns the snap called name. It is called by every phase
	// needing the snap.
	NewSnap func(name string) (SnapService, error)

	// HostArch returns the snap architecture of the machine.
	HostArch func() (string, error)

	UnitChecker  UnitChecker
	Prober       probe.Prober
	StatusSetter status.StatusSetter
	Relations    relation.Reader
	Metrics      Metrics
	Logger       Logger

	// Publisher writes the self monitoring data on the cos-agent
	// relation. Self monitoring is enabled while the relation exists.
	Publisher   relation.Publisher
	AlertRules  relation.AlertRules
	Subordinate bool
}

// Validate returns an error if the config cannot be used to create an
// Operator.
func (c Config) Validate() error {
	if c.Settings == nil {
		return errors.NotValidf("nil Settings")
	}
	if err := c.Topology.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Lock == nil {
		return errors.NotValidf("nil Lock")
	}
	if c.Gate == nil {
		return errors.NotValidf("nil Gate")
	}
	if c.NewSnap == nil {
		return errors.NotValidf("nil NewSnap")
	}
	if c.HostArch == nil {
		return errors.NotValidf("nil HostArch")
	}
	if c.UnitChecker == nil {
		return errors.NotValidf("nil UnitChecker")
	}
	if c.Prober == nil {
		return errors.NotValidf("nil Prober")
	}
	if c.StatusSetter == nil {
		return errors.NotValidf("nil StatusSetter")
	}
	if c.Relations == nil {
		return errors.NotValidf("nil Relations")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Publisher == nil {
		return errors.NotValidf("nil Publisher")
	}
	return nil
}

// Operator runs the lifecycle phases.
type Operator struct {
	config Config
}

// New returns an Operator.
func New(config Config) (*Operator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Operator{config: config}, nil
}

// Setup installs the profiler snap at its pinned revision, starts it and
// reconciles its configuration.
func (o *Operator) Setup(ctx context.Context) error {
	return o.run(ctx, PhaseSetup, func(ctx context.Context) error {
		if err := o.install(); err != nil {
			return errors.Trace(err)
		}
		if err := o.reconcile(ctx); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(o.CollectStatus(ctx))
	})
}

// Teardown removes the profiler snap and its configuration, then frees the
// machine.
func (o *Operator) Teardown(ctx context.Context) error {
	return o.run(ctx, PhaseTeardown, func(ctx context.Context) error {
		s := o.config.Settings
		if err := o.setStatus(status.Maintenance, fmt.Sprintf("Uninstalling %s snap", s.SnapName)); err != nil {
			return errors.Trace(err)
		}
		snap, err := o.config.NewSnap(s.SnapName)
		if err != nil {
			return errors.Trace(err)
		}
		if err := snap.Remove(); err != nil {
			return errors.Annotatef(err, "removing %s snap", s.SnapName)
		}
		if err := o.config.Gate.Cleanup(); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(o.config.Lock.Release())
	})
}

// Reconcile builds the collector configuration from the current relations
// and reloads the profiler if it changed.
func (o *Operator) Reconcile(ctx context.Context) error {
	return o.run(ctx, PhaseReconcile, func(ctx context.Context) error {
		if err := o.reconcile(ctx); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(o.CollectStatus(ctx))
	})
}

// CollectStatus sets the unit status from the state of the profiler
// service and of the profiling relation.
func (o *Operator) CollectStatus(ctx context.Context) error {
	s := o.config.Settings
	unit := systemd.SnapUnitName(s.SnapName, s.ServiceName)
	problem, err := o.config.UnitChecker.CheckStatus(ctx, unit)
	if err != nil {
		return errors.Trace(err)
	}
	if problem != "" {
		return errors.Trace(o.setStatus(status.Blocked, problem))
	}

	endpoints, err := o.endpoints()
	if err != nil {
		return errors.Trace(err)
	}
	message := fmt.Sprintf("profiling machine %s", o.config.Topology.MachineID)
	if len(endpoints) == 0 {
		message += NoBackendSuffix
	}
	return errors.Trace(o.setStatus(status.Active, message))
}

// run runs phase if this unit holds the machine lock.
func (o *Operator) run(ctx context.Context, phase string, f func(context.Context) error) error {
	acquired, err := o.config.Lock.Acquire()
	if err != nil {
		err = errors.Annotate(err, "acquiring machine lock")
		o.config.Metrics.PhaseCompleted(phase, err)
		return err
	}
	if !acquired {
		o.config.Logger.Infof("skipping %s: %s", phase, LockDeniedMessage)
		o.config.Metrics.LockDenied(phase)
		return errors.Trace(o.setStatus(status.Blocked, LockDeniedMessage))
	}

	o.config.Logger.Debugf("running %s phase", phase)
	err = f(ctx)
	o.config.Metrics.PhaseCompleted(phase, err)
	return errors.Annotatef(err, "%s", phase)
}

func (o *Operator) install() error {
	s := o.config.Settings
	arch, err := o.config.HostArch()
	if err != nil {
		return errors.Annotate(err, "detecting host architecture")
	}
	revision, err := s.Revisions.Revision(s.Classic, arch)
	if err != nil {
		return errors.Trace(err)
	}
	snap, err := o.config.NewSnap(s.SnapName)
	if err != nil {
		return errors.Trace(err)
	}

	if err := o.setStatus(status.Maintenance, fmt.Sprintf("Installing %s snap", s.SnapName)); err != nil {
		return errors.Trace(err)
	}
	if err := snap.Install(revision, s.Classic); err != nil {
		return errors.Trace(err)
	}
	if err := snap.Hold(); err != nil {
		return errors.Trace(err)
	}
	o.config.Logger.Infof("installed %s snap revision %d for %s", s.SnapName, revision, arch)

	if err := o.setStatus(status.Maintenance, fmt.Sprintf("Starting %s snap", s.SnapName)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(snap.Start(true))
}

func (o *Operator) reconcile(ctx context.Context) error {
	s := o.config.Settings
	endpoints, err := o.endpoints()
	if err != nil {
		return errors.Trace(err)
	}
	agents, err := o.config.Publisher.RelationIDs(relation.COSAgentEndpoint)
	if err != nil {
		return errors.Annotate(err, "reading cos-agent relation")
	}

	mgr, err := manager.New(manager.Config{
		InsecureSkipVerify: s.InsecureSkipVerify,
		CACertPath:         s.CACertPath,
		ReceiverTLS:        s.ReceiverTLS,
		ServerCertPath:     s.ServerCertPath,
		ServerKeyPath:      s.ServerKeyPath,
		Prober:             o.config.Prober,
		Logger:             o.config.Logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := mgr.AddProfileForwarding(ctx, endpoints); err != nil {
		return errors.Trace(err)
	}
	mgr.AddTopologyLabels(o.config.Topology.Labels())
	if s.HealthCheckPort != 0 {
		if err := mgr.AddHealthCheck(s.HealthCheckPort); err != nil {
			return errors.Trace(err)
		}
	}
	if len(agents) > 0 {
		if err := mgr.AddSelfMonitoring(manager.DefaultSelfMonitoringPort); err != nil {
			return errors.Trace(err)
		}
		if err := mgr.AddLogFile(s.LogFile); err != nil {
			return errors.Trace(err)
		}
	}
	doc, err := mgr.Build()
	if err != nil {
		return errors.Trace(err)
	}

	snap, err := o.config.NewSnap(s.SnapName)
	if err != nil {
		return errors.Trace(err)
	}
	changed, err := o.config.Gate.Apply(doc.Content, doc.Hash, &reloader{
		operator: o,
		snap:     snap,
	})
	if errors.Is(err, gate.ErrApplyFailed) {
		o.config.Logger.Errorf("config %s written but not applied: %v", doc.Hash, err)
		return errors.Trace(err)
	} else if err != nil {
		return errors.Trace(err)
	}
	if changed {
		o.config.Metrics.ConfigApplied()
		o.config.Logger.Infof("applied collector config %s", doc.Hash)
	}
	return errors.Trace(o.publishSelfMonitoring(agents))
}

// publishSelfMonitoring tells the telemetry agents where to scrape the
// collector's metrics and logs.
func (o *Operator) publishSelfMonitoring(relationIDs []string) error {
	if len(relationIDs) == 0 {
		return nil
	}
	data := relation.COSAgentData{
		MetricsAlertRules: o.config.AlertRules.Metrics,
		LogAlertRules:     o.config.AlertRules.Logs,
		MetricsScrapeJobs: []relation.ScrapeJob{
			relation.SelfScrapeJob(SelfScrapeJobName, manager.DefaultSelfMonitoringPort),
		},
		LogSlots:    o.config.Settings.LogSlots,
		Subordinate: o.config.Subordinate,
	}
	databag, err := data.Databag()
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range relationIDs {
		if err := o.config.Publisher.Publish(id, databag); err != nil {
			return errors.Trace(err)
		}
		o.config.Logger.Debugf("published self monitoring on %s", id)
	}
	return nil
}

func (o *Operator) endpoints() ([]manager.Endpoint, error) {
	databags, err := o.config.Relations.Databags(relation.ProfilingEndpoint)
	if err != nil {
		return nil, errors.Annotate(err, "reading profiling relation")
	}
	endpoints, err := relation.ProfilingEndpoints(databags)
	return endpoints, errors.Trace(err)
}

func (o *Operator) setStatus(s status.Status, message string) error {
	return errors.Trace(o.config.StatusSetter.SetStatus(status.StatusInfo{
		Status:  s,
		Message: message,
	}))
}

// reloader reloads the profiler service of the snap.
type reloader struct {
	operator *Operator
	snap     SnapService
}

// Reload is part of the gate.Reloader interface.
func (r *reloader) Reload() error {
	if err := r.operator.setStatus(status.Maintenance, ReloadingMessage); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.snap.Reload(r.operator.config.Settings.ServiceName))
}
