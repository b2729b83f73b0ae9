// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !gocv

package cvbackend

import (
	"github.com/pkg/errors"

	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// ErrUnavailable is returned when the binary was built without OpenCV.
var ErrUnavailable = errors.New("opencv backend not compiled in; rebuild with -tags=gocv")

// Available reports whether the OpenCV binding is compiled in.
func Available() bool { return false }

func open(vision.Options) (vision.Library, error) {
	return nil, ErrUnavailable
}
