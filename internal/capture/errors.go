// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"github.com/pkg/errors"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
)

var (
	// ErrNotArmed is returned by Tick and the session commands while Idle.
	ErrNotArmed = errors.New("capture controller is not armed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture controller is closed")
	// ErrDimensionMismatch matches the Tick error returned when the detected
	// corner count disagrees with the pattern.
	ErrDimensionMismatch = calerr.ErrDimensionMismatch
)

// IsConfiguration reports whether err is a configuration error from New, Arm
// or any collaborator they validate. The HTTP layer maps it to 400.
func IsConfiguration(err error) bool {
	return calerr.IsConfiguration(err)
}
