// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calerr holds the error taxonomy shared by the capture pipeline.
package calerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when a sample's shape does not match the
// session's calibration pattern. Correct integrations never hit it.
var ErrDimensionMismatch = errors.New("sample dimension mismatch")

// ConfigurationError reports an invalid construction parameter. It is fatal
// and never retried.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Config builds a *ConfigurationError.
func Config(field string, value interface{}, reason string) error {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

// IsConfiguration reports whether err wraps a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
