// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pattern

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
)

func TestObjectPoints_SixBySix(t *testing.T) {
	spec := Spec{Columns: 6, Rows: 6, SquareSize: 1}
	require.NoError(t, spec.Validate())

	var want []Point3
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			want = append(want, Point3{X: float64(j), Y: float64(i)})
		}
	}

	got := spec.ObjectPoints()
	require.Len(t, got, 36)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ObjectPoints() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Point3{}, got[0])
	assert.Equal(t, Point3{X: 1}, got[1])
	assert.Equal(t, Point3{X: 5, Y: 5}, got[35])
}

func TestObjectPoints_ScalesBySquareSize(t *testing.T) {
	spec := Spec{Columns: 3, Rows: 2, SquareSize: 0.025}
	got := spec.ObjectPoints()
	require.Len(t, got, 6)
	assert.InDelta(t, 0.05, got[2].X, 1e-12)
	assert.InDelta(t, 0.025, got[3].Y, 1e-12)
	assert.Zero(t, got[3].X)
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "valid", spec: Spec{Columns: 9, Rows: 6, SquareSize: 1}},
		{name: "minimum", spec: Spec{Columns: 2, Rows: 2, SquareSize: 0.1}},
		{name: "one column", spec: Spec{Columns: 1, Rows: 6, SquareSize: 1}, wantErr: true},
		{name: "one row", spec: Spec{Columns: 6, Rows: 1, SquareSize: 1}, wantErr: true},
		{name: "zero square", spec: Spec{Columns: 6, Rows: 6}, wantErr: true},
		{name: "negative square", spec: Spec{Columns: 6, Rows: 6, SquareSize: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, calerr.IsConfiguration(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSpec_SizeAndCount(t *testing.T) {
	spec := Spec{Columns: 9, Rows: 6, SquareSize: 1}
	assert.Equal(t, image.Pt(9, 6), spec.Size())
	assert.Equal(t, 54, spec.PointCount())
	assert.Equal(t, Point3{X: 4, Y: 2.5}, spec.Center())
}
