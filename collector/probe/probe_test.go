// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package probe_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/canonical/otel-ebpf-profiler-operator/collector/probe"
)

type probeSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&probeSuite{})

func (s *probeSuite) TestTLSServer(c *gc.C) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	p := probe.NewTLSProber(5 * time.Second)
	c.Check(p.IsTLS(context.Background(), srv.Listener.Addr().String()), jc.IsTrue)
}

func (s *probeSuite) TestPlainServer(c *gc.C) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := probe.NewTLSProber(5 * time.Second)
	c.Check(p.IsTLS(context.Background(), srv.Listener.Addr().String()), jc.IsFalse)
}

func (s *probeSuite) TestUnreachable(c *gc.C) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, jc.ErrorIsNil)
	address := l.Addr().String()
	c.Assert(l.Close(), jc.ErrorIsNil)

	p := probe.NewTLSProber(5 * time.Second)
	c.Check(p.IsTLS(context.Background(), address), jc.IsFalse)
}

func (s *probeSuite) TestDefaultTimeout(c *gc.C) {
	c.Check(probe.Timeout(probe.NewTLSProber(0)), gc.Equals, probe.DefaultTimeout)
	c.Check(probe.Timeout(probe.NewTLSProber(time.Second)), gc.Equals, time.Second)
}

func (s *probeSuite) TestHandshakeIsBounded(c *gc.C) {
	dialer := &blockingDialer{}
	p := probe.NewTLSProberWithDialer(10*time.Millisecond, dialer)

	c.Check(p.IsTLS(context.Background(), "10.0.0.5:4317"), jc.IsFalse)
	c.Check(dialer.address, gc.Equals, "10.0.0.5:4317")
	c.Check(dialer.hadDeadline, jc.IsTrue)
}

// blockingDialer never connects; it returns once the context is done.
type blockingDialer struct {
	address     string
	hadDeadline bool
}

func (d *blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.address = address
	_, d.hadDeadline = ctx.Deadline()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return nil, errors.New("context never expired")
	}
}
