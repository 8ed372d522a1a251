// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package builder

import "github.com/juju/errors"

const (
	// ErrInvalidComponentKind is returned when a component is registered
	// with a kind other than receiver, processor, exporter or connector.
	ErrInvalidComponentKind = errors.ConstError("invalid component kind")
)
