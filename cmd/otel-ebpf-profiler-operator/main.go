// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"os"
	"runtime"

	"github.com/juju/cmd/v3"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("profiler.cmd")

const (
	// exit_err is the value that is returned when the user has run the
	// operator in an invalid way.
	exit_err = 2
	// exit_panic is the value that is returned when we exit due to an unhandled panic.
	exit_panic = 3
)

// getenv is patched in tests.
var getenv = os.Getenv

func main() {
	os.Exit(Main(os.Args))
}

// Main is not redundant with main(), because it provides an entry point
// for testing with arbitrary command line arguments.
func Main(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Criticalf("Unhandled panic: \n%v\n%s", r, buf)
			code = exit_panic
		}
	}()

	ctx, err := cmd.DefaultContext()
	if err != nil {
		cmd.WriteError(os.Stderr, err)
		return exit_err
	}
	return cmd.Main(NewOperatorCommand(), ctx, args[1:])
}

// NewOperatorCommand returns the command running the lifecycle phases of the
// profiler operator.
func NewOperatorCommand() *cmd.SuperCommand {
	operatorCmd := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "otel-ebpf-profiler-operator",
		Purpose: "manage the otel-ebpf-profiler snap of a machine",
		Doc: `
The operator is run by the Juju unit agent once per hook. Each run executes
one lifecycle phase: setup installs and starts the profiler snap, teardown
removes it, reconcile regenerates the collector configuration and reloads the
profiler when it changed.

The dispatch command picks the phase from the hook being run.
`,
	})
	operatorCmd.Register(newPhaseCommand(phaseSetup))
	operatorCmd.Register(newPhaseCommand(phaseTeardown))
	operatorCmd.Register(newPhaseCommand(phaseReconcile))
	operatorCmd.Register(&dispatchCommand{})
	return operatorCmd
}
