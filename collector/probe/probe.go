// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package probe tells whether a profiling backend endpoint speaks TLS.
//
// The probe is best effort. It performs a single TLS handshake without
// verifying the peer certificate; any failure, including a timeout, is
// reported as "no TLS" and is never retried.
package probe

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("profiler.collector.probe")

// DefaultTimeout bounds a probe when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// Prober reports whether an endpoint accepts TLS connections.
type Prober interface {
	// IsTLS returns true if a TLS handshake with address succeeds.
	IsTLS(ctx context.Context, address string) bool
}

// Dialer opens a network connection. It is satisfied by *tls.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSProber probes endpoints with a TLS handshake.
type TLSProber struct {
	timeout time.Duration
	dialer  Dialer
}

// NewTLSProber returns a prober whose handshakes are bounded by timeout.
func NewTLSProber(timeout time.Duration) *TLSProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TLSProber{
		timeout: timeout,
		dialer: &tls.Dialer{
			// Only the capability matters here, the collector verifies
			// the backend certificate itself.
			Config: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// IsTLS is part of the Prober interface.
func (p *TLSProber) IsTLS(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// tls.Dialer only returns once the handshake is complete.
	conn, err := p.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		logger.Debugf("TLS probe of %q failed: %v", address, err)
		return false
	}
	_ = conn.Close()
	logger.Debugf("%q supports TLS", address)
	return true
}
