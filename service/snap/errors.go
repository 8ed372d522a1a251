// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snap

import "github.com/juju/errors"

const (
	// ErrSnapSpec is returned when no snap revision is pinned for the
	// requested confinement and architecture.
	ErrSnapSpec = errors.ConstError("snap specification error")

	// ErrSnapInstall is returned when the snap cannot be installed,
	// held or removed.
	ErrSnapInstall = errors.ConstError("snap install error")

	// ErrSnapService is returned when a snap service cannot be started,
	// stopped or reloaded.
	ErrSnapService = errors.ConstError("snap service error")
)
