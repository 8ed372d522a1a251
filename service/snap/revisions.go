// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snap

import (
	"github.com/juju/errors"
)

// Confinement is the confinement a snap is installed with.
type Confinement string

const (
	Strict  Confinement = "strict"
	Classic Confinement = "classic"
)

// Validate returns NotValid for an unknown confinement.
func (c Confinement) Validate() error {
	switch c {
	case Strict, Classic:
		return nil
	}
	return errors.NotValidf("confinement %q", string(c))
}

// ConfinementFor returns the confinement matching the classic flag.
func ConfinementFor(classic bool) Confinement {
	if classic {
		return Classic
	}
	return Strict
}

// RevisionKey identifies a published build of a snap.
type RevisionKey struct {
	Confinement Confinement
	Arch        string
}

// RevisionMap pins the snap revision to install for each confinement and
// architecture.
type RevisionMap map[RevisionKey]int

// Revision returns the pinned revision for classic and arch, or an
// ErrSnapSpec error if there is none.
func (m RevisionMap) Revision(classic bool, arch string) (int, error) {
	key := RevisionKey{Confinement: ConfinementFor(classic), Arch: arch}
	revision, ok := m[key]
	if !ok {
		return 0, errors.WithType(
			errors.Errorf("no revision pinned for %s confinement on %s", key.Confinement, arch),
			ErrSnapSpec,
		)
	}
	return revision, nil
}
