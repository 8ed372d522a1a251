// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package status

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
)

var logger = loggo.GetLogger("profiler.core.status")

// Status is the workload status of the profiler unit.
type Status string

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

const (
	// Maintenance is set when:
	// The unit is not yet providing services, but is actively doing stuff
	// in preparation for providing those services.
	Maintenance Status = "maintenance"

	// Waiting is set when:
	// The unit is unable to progress to an active state because an
	// application to which it is related is not running.
	Waiting Status = "waiting"

	// Blocked is set when:
	// The unit needs manual intervention to get back to the Running state.
	Blocked Status = "blocked"

	// Active is set when:
	// The unit believes it is correctly offering all the services it has
	// been asked to offer.
	Active Status = "active"

	// Error means the entity requires human intervention in order to
	// operate correctly. Only the agent can set it.
	Error Status = "error"

	// Unknown is set when the charm has not called status-set yet.
	Unknown Status = "unknown"
)

// ValidWorkloadStatus returns true if status has a valid value (that is to
// say, a value that it's OK to set) for units.
func ValidWorkloadStatus(status Status) bool {
	switch status {
	case
		Blocked,
		Maintenance,
		Waiting,
		Active:
		return true
	default:
		return false
	}
}

// StatusInfo holds a Status and associated information.
type StatusInfo struct {
	Status  Status
	Message string
}

// StatusSetter represents a type whose status can be set.
type StatusSetter interface {
	SetStatus(StatusInfo) error
}

// RunCommandFunc runs a command and returns its combined output.
type RunCommandFunc func(command string, args ...string) (string, error)

// HookToolSetter sets the unit workload status with the status-set hook
// tool. It only works within a hook context.
type HookToolSetter struct {
	runCommand RunCommandFunc
}

// NewHookToolSetter returns a setter running the hook tool with
// run, or with utils.RunCommand if run is nil.
func NewHookToolSetter(run RunCommandFunc) *HookToolSetter {
	if run == nil {
		run = utils.RunCommand
	}
	return &HookToolSetter{runCommand: run}
}

// SetStatus is part of the StatusSetter interface.
func (s *HookToolSetter) SetStatus(info StatusInfo) error {
	if !ValidWorkloadStatus(info.Status) {
		return errors.NotValidf("workload status %q", info.Status)
	}
	logger.Debugf("setting workload status %s: %q", info.Status, info.Message)
	out, err := s.runCommand("status-set", info.Status.String(), info.Message)
	if err != nil {
		return errors.Annotatef(err, "status-set %s: %s", info.Status, out)
	}
	return nil
}
