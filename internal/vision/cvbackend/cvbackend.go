// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cvbackend binds the vision contracts to OpenCV through gocv. The
// binding is only compiled with -tags=gocv; without it the backend is still
// registered but opening it reports how to rebuild.
package cvbackend

import (
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// Name is the registry name of this backend.
const Name = "opencv"

func init() {
	vision.Register(Name, open)
}
