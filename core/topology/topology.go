// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology describes where a profiler unit lives in a Juju
// deployment. The topology labels every profile the unit collects and
// identifies the unit in the machine lock.
package topology

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
	"github.com/juju/utils/v4"
)

// Hook environment variables the topology is read from.
const (
	EnvModelName = "JUJU_MODEL_NAME"
	EnvModelUUID = "JUJU_MODEL_UUID"
	EnvUnitName  = "JUJU_UNIT_NAME"
	EnvMachineID = "JUJU_MACHINE_ID"
)

// Topology is the Juju identity of a profiler unit.
type Topology struct {
	Model       string
	ModelUUID   string
	Application string
	Unit        string
	CharmName   string
	MachineID   string
}

// FromEnv reads the topology from the hook environment through getenv.
func FromEnv(getenv func(string) string, charmName string) (Topology, error) {
	t := Topology{
		Model:     getenv(EnvModelName),
		ModelUUID: getenv(EnvModelUUID),
		Unit:      getenv(EnvUnitName),
		CharmName: charmName,
		MachineID: getenv(EnvMachineID),
	}
	if t.Unit == "" {
		return Topology{}, errors.NotFoundf("%s", EnvUnitName)
	}
	application, err := names.UnitApplication(t.Unit)
	if err != nil {
		return Topology{}, errors.Trace(err)
	}
	t.Application = application
	if err := t.Validate(); err != nil {
		return Topology{}, errors.Trace(err)
	}
	return t, nil
}

// Validate checks every identifier has the shape Juju gives it.
func (t Topology) Validate() error {
	if !names.IsValidModelName(t.Model) {
		return errors.NotValidf("model name %q", t.Model)
	}
	if !utils.IsValidUUIDString(t.ModelUUID) {
		return errors.NotValidf("model UUID %q", t.ModelUUID)
	}
	if !names.IsValidUnit(t.Unit) {
		return errors.NotValidf("unit name %q", t.Unit)
	}
	if !names.IsValidApplication(t.Application) {
		return errors.NotValidf("application name %q", t.Application)
	}
	if t.MachineID != "" && !names.IsValidMachine(t.MachineID) {
		return errors.NotValidf("machine id %q", t.MachineID)
	}
	return nil
}

// Labels returns the resource attributes identifying the unit.
func (t Topology) Labels() map[string]string {
	return map[string]string{
		"juju_model":       t.Model,
		"juju_model_uuid":  t.ModelUUID,
		"juju_application": t.Application,
		"juju_unit":        t.Unit,
		"juju_charm_name":  t.CharmName,
	}
}

// Fingerprint identifies the unit across the models of a controller.
func (t Topology) Fingerprint() string {
	return fmt.Sprintf("%s-%s-%s", t.Model, t.ModelUUID, strings.ReplaceAll(t.Unit, "/", "-"))
}
