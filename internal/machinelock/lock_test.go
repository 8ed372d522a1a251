// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package machinelock_test

import (
	"os"
	"path/filepath"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/otel-ebpf-profiler-operator/internal/machinelock"
)

type lockSuite struct {
	testing.IsolationSuite

	path string
}

var _ = gc.Suite(&lockSuite{})

func (s *lockSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.path = filepath.Join(c.MkDir(), "otel_ebpf_profiler", "machine.lock")
}

func (s *lockSuite) TestAcquireFree(c *gc.C) {
	lock := machinelock.New(s.path, "m-uuid-profiler-0")

	granted, err := lock.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)

	data, err := os.ReadFile(s.path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), gc.Equals, "m-uuid-profiler-0")
}

func (s *lockSuite) TestExclusivity(c *gc.C) {
	a := machinelock.New(s.path, "m-uuid-a-0")
	b := machinelock.New(s.path, "m-uuid-b-0")

	granted, err := a.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)

	granted, err = b.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsFalse)

	granted, err = a.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)

	owner, held, err := b.Owner()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(held, jc.IsTrue)
	c.Check(owner, gc.Equals, "m-uuid-a-0")
}

func (s *lockSuite) TestAcquireDoesNotRewriteOwnMarker(c *gc.C) {
	lock := machinelock.New(s.path, "m-uuid-a-0")
	_, err := lock.Acquire()
	c.Assert(err, jc.ErrorIsNil)

	// Re-acquiring must not need to write to the lock directory.
	c.Assert(os.Chmod(filepath.Dir(s.path), 0555), jc.ErrorIsNil)
	defer os.Chmod(filepath.Dir(s.path), 0755)

	granted, err := lock.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)
}

func (s *lockSuite) TestOwnerNoMarker(c *gc.C) {
	owner, held, err := machinelock.New(s.path, "x").Owner()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(held, jc.IsFalse)
	c.Check(owner, gc.Equals, "")
}

func (s *lockSuite) TestOwnerTrimsWhitespace(c *gc.C) {
	c.Assert(os.MkdirAll(filepath.Dir(s.path), 0755), jc.ErrorIsNil)
	c.Assert(os.WriteFile(s.path, []byte("m-uuid-a-0\n"), 0644), jc.ErrorIsNil)

	granted, err := machinelock.New(s.path, "m-uuid-a-0").Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)
}

func (s *lockSuite) TestRelease(c *gc.C) {
	a := machinelock.New(s.path, "m-uuid-a-0")
	b := machinelock.New(s.path, "m-uuid-b-0")
	_, err := a.Acquire()
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(b.Release(), jc.ErrorIsNil)
	c.Check(s.path, jc.IsNonEmptyFile)

	c.Assert(a.Release(), jc.ErrorIsNil)
	c.Check(s.path, jc.DoesNotExist)

	granted, err := b.Acquire()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(granted, jc.IsTrue)
}

func (s *lockSuite) TestReleaseWithoutMarker(c *gc.C) {
	c.Assert(machinelock.New(s.path, "m-uuid-a-0").Release(), jc.ErrorIsNil)
}
