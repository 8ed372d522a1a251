// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snap_test

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/otel-ebpf-profiler-operator/service/snap"
)

const (
	servicesInactive = `Service                                Startup   Current   Notes
otel-ebpf-profiler.otel-ebpf-profiler  disabled  inactive  -
`
	servicesActive = `Service                                Startup  Current  Notes
otel-ebpf-profiler.otel-ebpf-profiler  enabled  active   -
`
	servicesNotFound = `error: snap "otel-ebpf-profiler" not found`
)

// fakeRunner answers snap commands from a table keyed by the arguments.
type fakeRunner struct {
	calls   []string
	outputs map[string]string
	errors  map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
	}
}

func (r *fakeRunner) run(command string, args ...string) (string, error) {
	call := command + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	return r.outputs[call], r.errors[call]
}

func (r *fakeRunner) notInstalled() {
	r.outputs["snap services otel-ebpf-profiler"] = servicesNotFound
	r.errors["snap services otel-ebpf-profiler"] = errors.New("exit status 1")
}

type snapSuite struct {
	testing.IsolationSuite

	runner *fakeRunner
}

var _ = gc.Suite(&snapSuite{})

func (s *snapSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.runner = newFakeRunner()
}

func (s *snapSuite) newService(c *gc.C) *snap.Service {
	svc, err := snap.NewService("otel-ebpf-profiler", s.runner.run)
	c.Assert(err, jc.ErrorIsNil)
	return svc
}

func (s *snapSuite) TestNewServiceInvalidName(c *gc.C) {
	_, err := snap.NewService("Not_A_Snap", s.runner.run)
	c.Check(err, jc.ErrorIs, snap.ErrSnapSpec)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *snapSuite) TestInstall(c *gc.C) {
	s.runner.notInstalled()
	svc := s.newService(c)

	err := svc.Install(42, false)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap services otel-ebpf-profiler",
		"snap install otel-ebpf-profiler --revision=42",
	})
}

func (s *snapSuite) TestInstallClassicRefreshes(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesActive
	svc := s.newService(c)

	err := svc.Install(43, true)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap services otel-ebpf-profiler",
		"snap refresh otel-ebpf-profiler --revision=43 --classic",
	})
}

func (s *snapSuite) TestInstallFailure(c *gc.C) {
	s.runner.notInstalled()
	s.runner.outputs["snap install otel-ebpf-profiler --revision=42"] = "error: cannot install"
	s.runner.errors["snap install otel-ebpf-profiler --revision=42"] = errors.New("exit status 1")
	svc := s.newService(c)

	err := svc.Install(42, false)
	c.Check(err, jc.ErrorIs, snap.ErrSnapInstall)
	c.Check(err, gc.ErrorMatches, "snap install otel-ebpf-profiler --revision=42: error: cannot install: exit status 1")
}

func (s *snapSuite) TestHold(c *gc.C) {
	svc := s.newService(c)

	c.Assert(svc.Hold(), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{"snap refresh --hold otel-ebpf-profiler"})
}

func (s *snapSuite) TestStartEnable(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesInactive
	s.runner.outputs["snap start --enable otel-ebpf-profiler"] = "Started.\n"
	svc := s.newService(c)

	c.Assert(svc.Start(true), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap services otel-ebpf-profiler",
		"snap start --enable otel-ebpf-profiler",
	})
}

func (s *snapSuite) TestStartAlreadyRunning(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesActive
	svc := s.newService(c)

	c.Assert(svc.Start(true), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{"snap services otel-ebpf-profiler"})
}

func (s *snapSuite) TestStartUnexpectedOutput(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesInactive
	s.runner.outputs["snap start otel-ebpf-profiler"] = "something else"
	svc := s.newService(c)

	err := svc.Start(false)
	c.Check(err, jc.ErrorIs, snap.ErrSnapService)
	c.Check(err, gc.ErrorMatches, `snap start otel-ebpf-profiler: expected "Started.", got "something else"`)
}

func (s *snapSuite) TestStop(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesActive
	s.runner.outputs["snap stop otel-ebpf-profiler"] = "Stopped.\n"
	svc := s.newService(c)

	c.Assert(svc.Stop(), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap services otel-ebpf-profiler",
		"snap stop otel-ebpf-profiler",
	})
}

func (s *snapSuite) TestRemove(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesInactive
	s.runner.outputs["snap remove otel-ebpf-profiler"] = "otel-ebpf-profiler removed\n"
	svc := s.newService(c)

	c.Assert(svc.Remove(), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap services otel-ebpf-profiler",
		"snap services otel-ebpf-profiler",
		"snap remove otel-ebpf-profiler",
	})
}

func (s *snapSuite) TestRemoveNotInstalled(c *gc.C) {
	s.runner.notInstalled()
	svc := s.newService(c)

	c.Assert(svc.Remove(), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{"snap services otel-ebpf-profiler"})
}

func (s *snapSuite) TestRemoveFailure(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesInactive
	s.runner.errors["snap remove otel-ebpf-profiler"] = errors.New("exit status 1")
	svc := s.newService(c)

	c.Check(svc.Remove(), jc.ErrorIs, snap.ErrSnapInstall)
}

func (s *snapSuite) TestReload(c *gc.C) {
	s.runner.outputs["snap restart --reload otel-ebpf-profiler.otel-ebpf-profiler"] = "Restarted.\n"
	svc := s.newService(c)

	c.Assert(svc.Reload("otel-ebpf-profiler"), jc.ErrorIsNil)
	c.Check(s.runner.calls, jc.DeepEquals, []string{
		"snap restart --reload otel-ebpf-profiler.otel-ebpf-profiler",
	})
}

func (s *snapSuite) TestReloadFailure(c *gc.C) {
	s.runner.errors["snap restart --reload otel-ebpf-profiler.otel-ebpf-profiler"] = errors.New("exit status 1")
	svc := s.newService(c)

	c.Check(svc.Reload("otel-ebpf-profiler"), jc.ErrorIs, snap.ErrSnapService)
}

func (s *snapSuite) TestInstalled(c *gc.C) {
	svc := s.newService(c)

	s.runner.outputs["snap services otel-ebpf-profiler"] = servicesInactive
	installed, err := svc.Installed()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(installed, jc.IsTrue)

	s.runner.notInstalled()
	installed, err = svc.Installed()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(installed, jc.IsFalse)
}

func (s *snapSuite) TestInstalledError(c *gc.C) {
	s.runner.outputs["snap services otel-ebpf-profiler"] = "error: cannot communicate with server"
	s.runner.errors["snap services otel-ebpf-profiler"] = errors.New("exit status 1")
	svc := s.newService(c)

	_, err := svc.Installed()
	c.Check(err, gc.ErrorMatches, "snap services otel-ebpf-profiler: error: cannot communicate with server: exit status 1")
}
