// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package gate decides whether a freshly built collector configuration has
// to be written and the profiler reloaded.
//
// The decision compares the fingerprint of the new configuration with the
// one persisted next to the configuration file. Nothing is written and
// nothing is reloaded when they are equal.
package gate

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("profiler.gate")

const (
	// ErrApplyFailed is the type of the error returned by Apply when the
	// new configuration was written but the reload failed.
	ErrApplyFailed = errors.ConstError("apply failed")
)

// writeFile is patched in tests to count writes.
var writeFile = utils.AtomicWriteFile

// Reloader makes the profiler pick up its configuration file.
type Reloader interface {
	Reload() error
}

// Gate persists collector configurations along with their fingerprint.
type Gate struct {
	configPath string
	hashPath   string
}

// New returns a Gate writing the configuration to configPath and its
// fingerprint to hashPath.
func New(configPath, hashPath string) *Gate {
	return &Gate{
		configPath: configPath,
		hashPath:   hashPath,
	}
}

// Fingerprint returns the stored fingerprint, or "" if there is none.
func (g *Gate) Fingerprint() (string, error) {
	data, err := os.ReadFile(g.hashPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Annotate(err, "reading config fingerprint")
	}
	return strings.TrimSpace(string(data)), nil
}

// Update persists content and fingerprint unless fingerprint matches the
// stored one. It reports whether anything changed.
func (g *Gate) Update(content []byte, fingerprint string) (bool, error) {
	current, err := g.Fingerprint()
	if err != nil {
		return false, errors.Trace(err)
	}
	if current == fingerprint {
		logger.Debugf("config fingerprint %s unchanged", fingerprint)
		return false, nil
	}

	if err := g.writeConfig(content); err != nil {
		return false, errors.Trace(err)
	}
	if err := writeWithDirs(g.hashPath, []byte(fingerprint), 0644); err != nil {
		return false, errors.Annotate(err, "writing config fingerprint")
	}
	logger.Infof("config fingerprint changed from %q to %q", current, fingerprint)
	return true, nil
}

func (g *Gate) writeConfig(content []byte) error {
	existing, err := os.ReadFile(g.configPath)
	if err == nil && bytes.Equal(existing, content) {
		// The fingerprint is missing or stale, the config is not.
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "reading collector config")
	}
	return errors.Annotate(writeWithDirs(g.configPath, content, 0644), "writing collector config")
}

// Apply updates the stored configuration and calls the reloader if it
// changed. A failed reload is returned as an ErrApplyFailed error; the new
// configuration stays on disk.
func (g *Gate) Apply(content []byte, fingerprint string, reloader Reloader) (bool, error) {
	changed, err := g.Update(content, fingerprint)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !changed {
		return false, nil
	}
	if err := reloader.Reload(); err != nil {
		return true, errors.WithType(errors.Annotate(err, "reloading profiler"), ErrApplyFailed)
	}
	return true, nil
}

// Cleanup removes the configuration and fingerprint files. Missing files
// are not an error.
func (g *Gate) Cleanup() error {
	for _, path := range []string{g.configPath, g.hashPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Annotatef(err, "removing %q", path)
		}
	}
	return nil
}

func writeWithDirs(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Trace(err)
	}
	return writeFile(path, data, perm)
}
