// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package machinelock makes sure a single profiler unit manages the
// profiler snap of a machine.
//
// The lock is a marker file holding the fingerprint of the owning unit.
// Juju never runs two hooks on the same machine at the same time, so a plain
// read followed by a write is enough; there is no lease, no fencing and no
// file locking. A unit that dies without tearing down keeps the machine
// until the marker is removed by hand.
package machinelock

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("profiler.machinelock")

// Lock is the machine lock as seen by one unit.
type Lock struct {
	path        string
	fingerprint string
}

// New returns the lock stored at path for the unit identified by
// fingerprint.
func New(path, fingerprint string) *Lock {
	return &Lock{
		path:        path,
		fingerprint: fingerprint,
	}
}

// Fingerprint returns the identity of the unit using the lock.
func (l *Lock) Fingerprint() string {
	return l.fingerprint
}

// Owner returns the fingerprint stored in the marker, and false if there is
// no marker.
func (l *Lock) Owner() (string, bool, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Annotate(err, "reading machine lock")
	}
	return strings.TrimSpace(string(data)), true, nil
}

// Acquire takes the lock if it is free and reports whether this unit holds
// it. Being denied the lock is not an error.
func (l *Lock) Acquire() (bool, error) {
	owner, held, err := l.Owner()
	if err != nil {
		return false, errors.Trace(err)
	}
	if held {
		if owner != l.fingerprint {
			logger.Debugf("machine lock %q held by %q", l.path, owner)
		}
		return owner == l.fingerprint, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(l.path, []byte(l.fingerprint), 0644); err != nil {
		return false, errors.Annotate(err, "writing machine lock")
	}
	logger.Infof("machine lock acquired by %q", l.fingerprint)
	return true, nil
}

// Release removes the marker if this unit owns it. A marker owned by
// another unit is left alone.
func (l *Lock) Release() error {
	owner, held, err := l.Owner()
	if err != nil {
		return errors.Trace(err)
	}
	if !held || owner != l.fingerprint {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "removing machine lock")
	}
	logger.Infof("machine lock released by %q", l.fingerprint)
	return nil
}
