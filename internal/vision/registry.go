// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

// Library is an explicit handle on a vision-primitives implementation. The
// application owns its lifecycle: Init before the first tick, Shutdown after
// the last one.
type Library interface {
	Name() string
	Init() error
	Backend() Backend
	Shutdown() error
}

// Options configures a Library at open time.
type Options struct {
	Device    string
	ImageSize image.Point
	// Pattern is only consulted by simulated backends.
	Pattern pattern.Spec
}

// OpenFunc constructs a Library.
type OpenFunc func(opts Options) (Library, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// ErrUnknownBackend is returned by Open for an unregistered name.
var ErrUnknownBackend = errors.New("unknown vision backend")

// Register makes a backend available to Open. Backends call it from init.
func Register(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Open constructs the named backend. The returned Library is not yet initialized.
func Open(name string, opts Options) (Library, error) {
	registryMu.RLock()
	open, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "%q (have %v)", name, Backends())
	}
	return open(opts)
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
