// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package systemd reports the state of the systemd unit running the
// profiler snap.
package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("profiler.service.systemd")

// DBusAPI describes the systemd D-Bus methods used by the checker.
type DBusAPI interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	Close()
}

// Type alias for a DBusAPI factory method.
type DBusAPIFactory = func(ctx context.Context) (DBusAPI, error)

// NewDBusAPI connects to the system instance of systemd.
var NewDBusAPI = func(ctx context.Context) (DBusAPI, error) {
	return dbus.NewWithContext(ctx)
}

// SnapUnitName returns the systemd unit snapd creates for a service of a
// snap.
func SnapUnitName(snap, service string) string {
	return fmt.Sprintf("snap.%s.%s.service", snap, service)
}

// UnitChecker checks systemd units are running.
type UnitChecker struct {
	newDBus   DBusAPIFactory
	isRunning func() bool
}

// NewUnitChecker returns a checker connecting to systemd with newDBus, or
// with NewDBusAPI if newDBus is nil. In the latter case the checker first
// makes sure systemd is the init system of the machine.
func NewUnitChecker(newDBus DBusAPIFactory) *UnitChecker {
	isRunning := func() bool { return true }
	if newDBus == nil {
		newDBus = NewDBusAPI
		isRunning = IsRunning
	}
	return &UnitChecker{
		newDBus:   newDBus,
		isRunning: isRunning,
	}
}

// CheckStatus returns an empty string if unit is loaded and active,
// otherwise a message describing what is wrong with it.
func (c *UnitChecker) CheckStatus(ctx context.Context, unit string) (string, error) {
	if !c.isRunning() {
		return fmt.Sprintf("cannot check %s: systemd is not running", unit), nil
	}
	conn, err := c.newDBus(ctx)
	if err != nil {
		return "", errors.Annotate(err, "connecting to systemd")
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unit})
	if err != nil {
		return "", errors.Annotatef(err, "failed to query unit %q from dbus", unit)
	}
	for _, status := range units {
		if status.Name != unit {
			continue
		}
		logger.Debugf("unit %q load state %q active state %q", unit, status.LoadState, status.ActiveState)
		if status.LoadState != "loaded" {
			return fmt.Sprintf("%s is not loaded (%s)", unit, status.LoadState), nil
		}
		if status.ActiveState != "active" {
			return fmt.Sprintf("%s is %s", unit, status.ActiveState), nil
		}
		return "", nil
	}
	return fmt.Sprintf("%s not found", unit), nil
}
