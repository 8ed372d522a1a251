// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package snap drives the profiler snap through the snap command line.
package snap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

const (
	// Command is a path to the snap binary, or to one that can be detected by os.Exec
	Command = "snap"
)

var (
	logger = loggo.GetLogger("profiler.service.snap")

	// snapNameRe is derived from https://github.com/snapcore/snapcraft/blob/a2ef08109d86259a0748446f41bce5205d00a922/schema/snapcraft.yaml#L81-106
	// but does not test for "--"
	snapNameRe = regexp.MustCompile("^[a-z0-9][a-z0-9-]{0,39}[^-]$")
)

// Runner runs a command and returns its combined output.
type Runner func(command string, args ...string) (string, error)

// Service is a snap managed by snapd, along with its background services.
type Service struct {
	name       string
	executable string
	run        Runner
}

// NewService returns the Service for the snap called name. Commands are
// executed with run, or with utils.RunCommand if run is nil.
func NewService(name string, run Runner) (*Service, error) {
	if !snapNameRe.MatchString(name) {
		return nil, errors.WithType(errors.NotValidf("snap name %q", name), ErrSnapSpec)
	}
	if run == nil {
		run = utils.RunCommand
	}
	return &Service{
		name:       name,
		executable: Command,
		run:        run,
	}, nil
}

// Name returns the snap name.
func (s *Service) Name() string {
	return s.name
}

// Install installs the snap at revision. The snap is refreshed to revision
// if it is already installed.
func (s *Service) Install(revision int, classic bool) error {
	installed, err := s.Installed()
	if err != nil {
		return errors.WithType(err, ErrSnapInstall)
	}
	verb := "install"
	if installed {
		verb = "refresh"
	}
	args := []string{verb, s.name, "--revision=" + strconv.Itoa(revision)}
	if classic {
		args = append(args, "--classic")
	}
	logger.Infof("%s snap %s at revision %d", verb, s.name, revision)
	if _, err := s.runCommand(args...); err != nil {
		return errors.WithType(err, ErrSnapInstall)
	}
	return nil
}

// Hold stops snapd from refreshing the snap away from the pinned revision.
func (s *Service) Hold() error {
	if _, err := s.runCommand("refresh", "--hold", s.name); err != nil {
		return errors.WithType(err, ErrSnapInstall)
	}
	return nil
}

// Start starts the background services of the snap. With enable, the
// services are also started at boot.
// If the services are already running, Start does not restart them.
func (s *Service) Start(enable bool) error {
	running, err := s.Running()
	if err != nil {
		return errors.WithType(err, ErrSnapService)
	}
	if running {
		return nil
	}
	args := []string{"start"}
	if enable {
		args = append(args, "--enable")
	}
	args = append(args, s.name)
	if err := s.execThenExpect(args, "Started."); err != nil {
		return errors.WithType(err, ErrSnapService)
	}
	return nil
}

// Stop stops a running snap. Returns nil when the underlying
// call to `snap stop <snap>` exits with error code 0.
func (s *Service) Stop() error {
	running, err := s.Running()
	if err != nil {
		return errors.WithType(err, ErrSnapService)
	}
	if !running {
		return nil
	}
	if err := s.execThenExpect([]string{"stop", s.name}, "Stopped."); err != nil {
		return errors.WithType(err, ErrSnapService)
	}
	return nil
}

// Remove uninstalls the snap. Removing a snap that is not installed is
// not an error.
func (s *Service) Remove() error {
	installed, err := s.Installed()
	if err != nil {
		return errors.WithType(err, ErrSnapInstall)
	}
	if !installed {
		logger.Debugf("snap %s is not installed", s.name)
		return nil
	}
	if err := s.Stop(); err != nil {
		return errors.Trace(err)
	}
	if err := s.execThenExpect([]string{"remove", s.name}, s.name+" removed"); err != nil {
		return errors.WithType(err, ErrSnapInstall)
	}
	return nil
}

// Reload asks the service of the snap to reload its configuration, or
// restarts it if it cannot reload.
func (s *Service) Reload(service string) error {
	args := []string{"restart", "--reload", fmt.Sprintf("%s.%s", s.name, service)}
	if err := s.execThenExpect(args, "Restarted."); err != nil {
		return errors.WithType(err, ErrSnapService)
	}
	return nil
}

// Installed returns true if the snap is installed.
func (s *Service) Installed() (bool, error) {
	installed, _, _, err := s.status()
	if err != nil {
		return false, errors.Trace(err)
	}
	return installed, nil
}

// Running returns (true, nil) when snap indicates that a service of the
// snap is currently active.
func (s *Service) Running() (bool, error) {
	_, _, running, err := s.status()
	if err != nil {
		return false, errors.Trace(err)
	}
	return running, nil
}

// status returns an interpreted output from the `snap services` command.
// For example, this output from `snap services otel-ebpf-profiler`
//
//	Service                                Startup  Current  Notes
//	otel-ebpf-profiler.otel-ebpf-profiler  enabled  inactive -
//
// returns this output from status
//
//	(true, true, false, nil)
//
// A snap that is not installed makes snap fail with a "not found" error,
// which is reported as (false, false, false, nil).
func (s *Service) status() (isInstalled, enabledAtStartup, isCurrentlyActive bool, err error) {
	out, err := s.run(s.executable, "services", s.name)
	if err != nil {
		if strings.Contains(out, "not found") || strings.Contains(out, "not installed") {
			return false, false, false, nil
		}
		return false, false, false, errors.Annotatef(err, "snap services %s: %s", s.name, out)
	}
	installed := false
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, s.name+".") {
			continue
		}
		installed = true
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		enabledAtStartup = enabledAtStartup || fields[1] == "enabled"
		isCurrentlyActive = isCurrentlyActive || fields[2] == "active"
	}
	if !installed {
		// A snap without services prints "There are no services provided
		// by installed snaps." when it is installed.
		installed = strings.Contains(out, "no services")
	}
	return installed, enabledAtStartup, isCurrentlyActive, nil
}

// execThenExpect calls `snap <commandArgs>...` and then checks
// stdout against expectation and snap's exit code. When there's a
// mismatch or non-0 exit code, execThenExpect returns an error.
func (s *Service) execThenExpect(commandArgs []string, expectation string) error {
	out, err := s.runCommand(commandArgs...)
	if err != nil {
		return errors.Trace(err)
	}
	if !strings.Contains(out, expectation) {
		return errors.Errorf(`snap %s: expected "%s", got "%s"`, strings.Join(commandArgs, " "), expectation, out)
	}
	return nil
}

func (s *Service) runCommand(args ...string) (string, error) {
	logger.Debugf("running %s %s", s.executable, strings.Join(args, " "))
	out, err := s.run(s.executable, args...)
	if err != nil {
		return out, errors.Annotatef(err, "snap %s: %s", strings.Join(args, " "), strings.TrimSpace(out))
	}
	return out, nil
}
