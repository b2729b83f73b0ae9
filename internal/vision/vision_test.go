// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"image"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuessIntrinsics(t *testing.T) {
	k := GuessIntrinsics(image.Pt(1280, 720))
	assert.Equal(t, Intrinsics{Fx: 1280, Fy: 1280, Cx: 640, Cy: 360}, k)

	k = GuessIntrinsics(image.Pt(480, 640))
	assert.Equal(t, 640.0, k.Fx)
	assert.False(t, k.IsZero())
	assert.True(t, Intrinsics{}.IsZero())
}

func TestIntrinsics_Matrix(t *testing.T) {
	m := Intrinsics{Fx: 800, Fy: 810, Cx: 640, Cy: 360, Skew: 0.5}.Matrix()
	assert.Equal(t, 800.0, m.At(0, 0))
	assert.Equal(t, 0.5, m.At(0, 1))
	assert.Equal(t, 360.0, m.At(1, 2))
	assert.Equal(t, 1.0, m.At(2, 2))
	assert.Equal(t, 0.0, m.At(2, 0))
}

func TestGradeRMS(t *testing.T) {
	tests := []struct {
		rms  float64
		want Quality
	}{
		{0.1, QualityExcellent},
		{0.3, QualityGood},
		{0.59, QualityGood},
		{0.8, QualityFair},
		{1.0, QualityPoor},
		{4.2, QualityPoor},
		{math.NaN(), QualityUnknown},
		{-1, QualityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GradeRMS(tt.rms), "rms=%v", tt.rms)
	}
	assert.Equal(t, QualityExcellent, Calibration{RMS: 0.05}.Quality())
}

type stubLibrary struct{ opts Options }

func (s *stubLibrary) Name() string { return "stub" }
func (s *stubLibrary) Init() error { return nil }
func (s *stubLibrary) Backend() Backend { return Backend{} }
func (s *stubLibrary) Shutdown() error { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-test", func(opts Options) (Library, error) {
		return &stubLibrary{opts: opts}, nil
	})

	lib, err := Open("stub-test", Options{Device: "0"})
	require.NoError(t, err)
	assert.Equal(t, "stub", lib.Name())
	assert.Contains(t, Backends(), "stub-test")

	_, err = Open("does-not-exist", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestPointSet(t *testing.T) {
	ps := PointSet{{X: 1, Y: 2}}
	pts := ps.Points()
	pts[0].X = 5
	assert.Equal(t, 1.0, ps[0].X)
	assert.NoError(t, ps.Close())
}
