// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snap

import (
	"regexp"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"
)

// The following constants define the snap architectures the profiler is
// published for.
const (
	AMD64   = "amd64"
	ARM64   = "arm64"
	PPC64EL = "ppc64el"
	S390X   = "s390x"
	RISCV64 = "riscv64"
)

// AllSupportedArches records the architectures recognised by the operator.
var AllSupportedArches = []string{
	AMD64,
	ARM64,
	PPC64EL,
	S390X,
	RISCV64,
}

// archREs maps regular expressions for matching
// `uname -m` to snap architectures.
var archREs = []struct {
	*regexp.Regexp
	arch string
}{
	{regexp.MustCompile("^(amd64|x86_64)$"), AMD64},
	{regexp.MustCompile("^(arm64|aarch64)$"), ARM64},
	{regexp.MustCompile("^(ppc64el|ppc64le)$"), PPC64EL},
	{regexp.MustCompile("^s390x$"), S390X},
	{regexp.MustCompile("^riscv64$"), RISCV64},
}

// HostArch returns the snap architecture of the machine on which it is run.
// Overridden in tests.
var HostArch = hostArch

func hostArch() (string, error) {
	rawArch, err := utils.RunCommand("uname", "-m")
	if err != nil {
		return "", errors.Trace(err)
	}
	return NormaliseArch(rawArch)
}

// NormaliseArch returns the snap architecture corresponding to the
// output of `uname -m`.
func NormaliseArch(rawArch string) (string, error) {
	rawArch = strings.TrimSpace(rawArch)
	for _, re := range archREs {
		if re.MatchString(rawArch) {
			return re.arch, nil
		}
	}
	return "", errors.NotSupportedf("architecture %q", rawArch)
}

// IsSupportedArch returns true if arch is one supported by the operator.
func IsSupportedArch(arch string) bool {
	for _, a := range AllSupportedArches {
		if a == arch {
			return true
		}
	}
	return false
}
