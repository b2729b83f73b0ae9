// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/chessboard_calibrator/internal/novelty"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

func gray(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	return img
}

func TestRender_MarksCorners(t *testing.T) {
	accept := novelty.Decision{Accept: true, Guidance: novelty.GuidanceOK, Message: novelty.GuidanceOK.Message()}
	out := Render(gray(400, 300), Annotation{
		Corners:  []pattern.Point2{{X: 300, Y: 250}, {X: 350, Y: 250}},
		Decision: &accept,
	}, 0)

	assert.Equal(t, image.Rect(0, 0, 400, 300), out.Bounds())
	assert.Equal(t, colorAccept, out.RGBAAt(300, 250))
	assert.Equal(t, colorAccept, out.RGBAAt(350, 252))
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, out.RGBAAt(200, 200))
}

func TestRender_RejectColorAndScaling(t *testing.T) {
	reject := novelty.Decision{Guidance: novelty.GuidanceRotate, Message: novelty.GuidanceRotate.Message()}
	out := Render(gray(800, 600), Annotation{
		Corners:  []pattern.Point2{{X: 600, Y: 500}},
		Decision: &reject,
	}, 400)

	assert.Equal(t, image.Rect(0, 0, 400, 300), out.Bounds())
	assert.Equal(t, colorReject, out.RGBAAt(300, 250))
}

func TestRender_TextPanel(t *testing.T) {
	d := novelty.Decision{Guidance: novelty.GuidanceVertical, Message: novelty.GuidanceVertical.Message()}
	out := Render(gray(640, 480), Annotation{
		Decision:   &d,
		Pose:       &orientation.Pose{Pitch: 1, Yaw: 2, Roll: 3},
		Count:      3,
		MinSamples: 15,
		Session:    "0123456789abcdef",
	}, 0)

	// The panel darkens the top-left corner; the far corner is untouched.
	assert.Less(t, out.RGBAAt(1, 1).R, uint8(100))
	assert.Equal(t, uint8(100), out.RGBAAt(639, 479).R)

	assert.Equal(t, []string{
		"move camera/board vertically",
		"P:   1.0 Y:   2.0 R:   3.0",
		"samples 3/15",
		"session 01234567",
	}, textLines(Annotation{
		Decision:   &d,
		Pose:       &orientation.Pose{Pitch: 1, Yaw: 2, Roll: 3},
		Count:      3,
		MinSamples: 15,
		Session:    "0123456789abcdef",
	}))
	assert.Equal(t, []string{"no chessboard in view"}, textLines(Annotation{}))
}
