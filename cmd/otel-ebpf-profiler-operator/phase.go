// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/canonical/otel-ebpf-profiler-operator/charm"
	"github.com/canonical/otel-ebpf-profiler-operator/collector/probe"
	"github.com/canonical/otel-ebpf-profiler-operator/core/status"
	"github.com/canonical/otel-ebpf-profiler-operator/core/topology"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/gate"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/machinelock"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/metrics"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/operator"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/relation"
	"github.com/canonical/otel-ebpf-profiler-operator/internal/settings"
	"github.com/canonical/otel-ebpf-profiler-operator/service/snap"
	"github.com/canonical/otel-ebpf-profiler-operator/service/systemd"
)

const (
	// DefaultSettingsPath is read when --settings is not given.
	DefaultSettingsPath = "/etc/otel_ebpf_profiler/operator.yaml"

	envCharmDir     = "JUJU_CHARM_DIR"
	envDispatchPath = "JUJU_DISPATCH_PATH"
	envHookName     = "JUJU_HOOK_NAME"
)

type phase struct {
	name    string
	purpose string
}

var (
	phaseSetup = phase{
		name:    operator.PhaseSetup,
		purpose: "install and start the profiler snap",
	}
	phaseTeardown = phase{
		name:    operator.PhaseTeardown,
		purpose: "remove the profiler snap and its configuration",
	}
	phaseReconcile = phase{
		name:    operator.PhaseReconcile,
		purpose: "regenerate the collector configuration and reload the profiler",
	}
)

// Phases runs the lifecycle phases of the operator.
type Phases interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error
	Reconcile(ctx context.Context) error
}

// operatorParams holds what a phase run knows about the unit.
type operatorParams struct {
	settings   *settings.Settings
	meta       *charm.Meta
	topology   topology.Topology
	alertRules relation.AlertRules
	metrics    operator.Metrics
}

// relationAccess returns how the relations of the charm are read and
// written. The hook tools are only used for endpoints the charm declares;
// static profiling databags from the settings take precedence.
func relationAccess(s *settings.Settings, meta *charm.Meta) (relation.Reader, relation.Publisher) {
	var reader relation.Reader = relation.StaticReader(s.Profiling)
	if _, ok := meta.Requires[relation.ProfilingEndpoint]; ok && len(s.Profiling) == 0 {
		reader = relation.NewHookToolReader(nil)
	}
	var publisher relation.Publisher = relation.NopPublisher{}
	if _, ok := meta.Provides[relation.COSAgentEndpoint]; ok {
		publisher = relation.NewHookToolPublisher(nil)
	}
	return reader, publisher
}

// newOperator is patched in tests.
var newOperator = func(p operatorParams) (Phases, error) {
	s, topo := p.settings, p.topology
	relations, publisher := relationAccess(s, p.meta)
	op, err := operator.New(operator.Config{
		Settings: s,
		Topology: topo,
		Lock:     machinelock.New(s.LockPath, topo.Fingerprint()),
		Gate:     gate.New(s.ConfigPath, s.HashPath),
		NewSnap: func(name string) (operator.SnapService, error) {
			service, err := snap.NewService(name, nil)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return service, nil
		},
		HostArch:     snap.HostArch,
		UnitChecker:  systemd.NewUnitChecker(nil),
		Prober:       probe.NewTLSProber(s.ProbeTimeout),
		StatusSetter: status.NewHookToolSetter(nil),
		Relations:    relations,
		Metrics:      p.metrics,
		Logger:       loggo.GetLogger("profiler.operator"),
		Publisher:    publisher,
		AlertRules:   p.alertRules,
		Subordinate:  p.meta.Subordinate,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return op, nil
}

// commonFlags holds the flags shared by every command.
type commonFlags struct {
	settingsPath  string
	loggingConfig string
}

func (f *commonFlags) setFlags(fs *gnuflag.FlagSet) {
	fs.StringVar(&f.settingsPath, "settings", DefaultSettingsPath, "path of the operator settings file")
	fs.StringVar(&f.loggingConfig, "logging-config", "", "specify log levels for modules")
}

func (f *commonFlags) configureLogging() error {
	if f.loggingConfig == "" {
		return nil
	}
	return errors.Annotate(loggo.ConfigureLoggers(f.loggingConfig), "logging config")
}

// phaseCommand runs one lifecycle phase.
type phaseCommand struct {
	cmd.CommandBase
	commonFlags
	phase phase
}

func newPhaseCommand(p phase) cmd.Command {
	return &phaseCommand{phase: p}
}

// Info implements Command.
func (c *phaseCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    c.phase.name,
		Purpose: c.phase.purpose,
	}
}

// SetFlags implements Command.
func (c *phaseCommand) SetFlags(f *gnuflag.FlagSet) {
	c.setFlags(f)
}

// Init implements Command.
func (c *phaseCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements Command.
func (c *phaseCommand) Run(ctx *cmd.Context) error {
	if err := c.configureLogging(); err != nil {
		return errors.Trace(err)
	}
	return runPhase(c.settingsPath, c.phase.name)
}

// dispatchCommand runs the phase matching the current hook.
type dispatchCommand struct {
	cmd.CommandBase
	commonFlags
}

// Info implements Command.
func (c *dispatchCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "dispatch",
		Purpose: "run the lifecycle phase of the current hook",
		Doc: `
The hook is read from JUJU_DISPATCH_PATH, or from JUJU_HOOK_NAME.
install and upgrade-charm run setup, stop and remove run teardown, any other
hook runs reconcile.
`,
	}
}

// SetFlags implements Command.
func (c *dispatchCommand) SetFlags(f *gnuflag.FlagSet) {
	c.setFlags(f)
}

// Init implements Command.
func (c *dispatchCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements Command.
func (c *dispatchCommand) Run(ctx *cmd.Context) error {
	if err := c.configureLogging(); err != nil {
		return errors.Trace(err)
	}
	hook := hookName()
	if hook == "" {
		return errors.NotFoundf("%s and %s", envDispatchPath, envHookName)
	}
	target := phaseForHook(hook)
	logger.Debugf("dispatching hook %q to %s", hook, target)
	return runPhase(c.settingsPath, target)
}

func hookName() string {
	if path := getenv(envDispatchPath); path != "" {
		return filepath.Base(path)
	}
	return getenv(envHookName)
}

// phaseForHook returns the lifecycle phase run by a hook.
func phaseForHook(hook string) string {
	switch hook {
	case "install", "upgrade-charm":
		return operator.PhaseSetup
	case "stop", "remove":
		return operator.PhaseTeardown
	default:
		return operator.PhaseReconcile
	}
}

func runPhase(settingsPath, name string) error {
	s, err := settings.Load(settingsPath)
	if err != nil {
		return errors.Trace(err)
	}
	charmDir := getenv(envCharmDir)
	if charmDir == "" {
		return errors.NotFoundf("%s", envCharmDir)
	}
	meta, err := charm.ReadMetaFile(charmDir)
	if err != nil {
		return errors.Annotate(err, "reading charm metadata")
	}
	topo, err := topology.FromEnv(getenv, meta.Name)
	if err != nil {
		return errors.Annotate(err, "reading juju topology")
	}
	rules, err := relation.LoadAlertRules(charmDir, topo)
	if err != nil {
		return errors.Trace(err)
	}

	collector := metrics.NewCollector(clock.WallClock)
	if s.MetricsTextfile != "" {
		if err := collector.Restore(s.MetricsTextfile); err != nil {
			logger.Warningf("discarding previous metrics: %v", err)
		}
		defer func() {
			if writeErr := collector.WriteTextfile(s.MetricsTextfile); writeErr != nil {
				logger.Errorf("%v", writeErr)
			}
		}()
	}

	op, err := newOperator(operatorParams{
		settings:   s,
		meta:       meta,
		topology:   topo,
		alertRules: rules,
		metrics:    collector,
	})
	if err != nil {
		return errors.Trace(err)
	}
	ctx := context.Background()
	switch name {
	case operator.PhaseSetup:
		return op.Setup(ctx)
	case operator.PhaseTeardown:
		return op.Teardown(ctx)
	case operator.PhaseReconcile:
		return op.Reconcile(ctx)
	}
	return errors.NotValidf("phase %q", name)
}
