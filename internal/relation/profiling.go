// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation decodes the profiling relation into the backends the
// collector forwards profiles to.
package relation

import (
	"encoding/json"
	"net"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/canonical/otel-ebpf-profiler-operator/collector/manager"
)

var logger = loggo.GetLogger("profiler.relation")

const (
	// ProfilingEndpoint is the charm relation endpoint of the profiling
	// backends.
	ProfilingEndpoint = "profiling"

	// URLKey holds the JSON encoded OTLP gRPC address of a backend.
	URLKey = "otlp_grpc_endpoint_url"

	// InsecureKey holds a JSON encoded boolean, true when the backend
	// does not use TLS.
	InsecureKey = "insecure"

	// DefaultOTLPGRPCPort is used for addresses without a port.
	DefaultOTLPGRPCPort = "4317"
)

// ProfilingEndpoints decodes the application databags of the profiling
// relation. The order of the databags is kept. Databags without an address
// are skipped, as the backend hasn't published it yet.
func ProfilingEndpoints(databags []map[string]string) ([]manager.Endpoint, error) {
	var endpoints []manager.Endpoint
	for i, databag := range databags {
		rawURL, ok := databag[URLKey]
		if !ok || rawURL == "" {
			logger.Debugf("profiling databag %d has no %s", i, URLKey)
			continue
		}
		var url string
		if err := json.Unmarshal([]byte(rawURL), &url); err != nil {
			return nil, errors.NotValidf("profiling databag %d %s %q", i, URLKey, rawURL)
		}
		endpoint := manager.Endpoint{Address: normaliseAddress(url)}

		if rawInsecure, ok := databag[InsecureKey]; ok && rawInsecure != "" {
			var insecure bool
			if err := json.Unmarshal([]byte(rawInsecure), &insecure); err != nil {
				return nil, errors.NotValidf("profiling databag %d %s %q", i, InsecureKey, rawInsecure)
			}
			endpoint.Insecure = &insecure
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// normaliseAddress reduces a URL to its host:port authority, adding the
// default OTLP gRPC port when the address has none.
func normaliseAddress(url string) string {
	address := url
	if _, rest, ok := strings.Cut(address, "://"); ok {
		address = rest
	}
	address, _, _ = strings.Cut(address, "/")
	if address == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return net.JoinHostPort(strings.Trim(address, "[]"), DefaultOTLPGRPCPort)
	}
	return address
}
