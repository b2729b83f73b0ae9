// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package overlay draws detected corners and operator guidance onto a frame
// snapshot.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/chessboard_calibrator/internal/novelty"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
)

var (
	colorAccept = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	colorReject = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	colorText   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorPanel  = color.RGBA{R: 0, G: 0, B: 0, A: 180}
)

const lineHeight = 13

// Annotation is what gets drawn on top of the frame.
type Annotation struct {
	// Corners are in the coordinates of the original frame.
	Corners    []pattern.Point2
	Decision   *novelty.Decision
	Pose       *orientation.Pose
	Count      int
	MinSamples int
	Session    string
}

// Render returns a copy of base, downscaled to at most maxWidth pixels wide
// when maxWidth > 0, with the annotation drawn on it.
func Render(base image.Image, a Annotation, maxWidth int) *image.RGBA {
	src := base.Bounds()
	scale := 1.0
	w, h := src.Dx(), src.Dy()
	if maxWidth > 0 && w > maxWidth {
		scale = float64(maxWidth) / float64(w)
		w = maxWidth
		h = int(float64(h)*scale + 0.5)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		xdraw.Copy(dst, image.Point{}, base, src, xdraw.Src, nil)
	} else {
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), base, src, xdraw.Src, nil)
	}

	marker := colorReject
	if a.Decision != nil && a.Decision.Accept {
		marker = colorAccept
	}
	for i, p := range a.Corners {
		x := int((p.X-float64(src.Min.X))*scale + 0.5)
		y := int((p.Y-float64(src.Min.Y))*scale + 0.5)
		size := 3
		if i == 0 {
			size = 6
		}
		cross(dst, x, y, size, marker)
	}

	lines := textLines(a)
	if len(lines) == 0 {
		return dst
	}
	face := basicfont.Face7x13
	width := 0
	for _, l := range lines {
		if adv := font.MeasureString(face, l).Ceil(); adv > width {
			width = adv
		}
	}
	panel := image.Rect(0, 0, width+8, len(lines)*lineHeight+6).Intersect(dst.Bounds())
	xdraw.Draw(dst, panel, &image.Uniform{C: colorPanel}, image.Point{}, xdraw.Over)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{C: colorText},
		Face: face,
	}
	for i, l := range lines {
		drawer.Dot = fixed.P(4, (i+1)*lineHeight)
		drawer.DrawString(l)
	}
	return dst
}

func textLines(a Annotation) []string {
	var lines []string
	if a.Decision != nil {
		lines = append(lines, a.Decision.Message)
	} else if len(a.Corners) == 0 {
		lines = append(lines, "no chessboard in view")
	}
	if a.Pose != nil {
		lines = append(lines, fmt.Sprintf("P:%6.1f Y:%6.1f R:%6.1f", a.Pose.Pitch, a.Pose.Yaw, a.Pose.Roll))
	}
	if a.MinSamples > 0 {
		lines = append(lines, fmt.Sprintf("samples %d/%d", a.Count, a.MinSamples))
	}
	if a.Session != "" {
		lines = append(lines, "session "+shortID(a.Session))
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func cross(img *image.RGBA, x, y, size int, c color.RGBA) {
	b := img.Bounds()
	for d := -size; d <= size; d++ {
		if p := image.Pt(x+d, y); p.In(b) {
			img.SetRGBA(p.X, p.Y, c)
		}
		if p := image.Pt(x, y+d); p.In(b) {
			img.SetRGBA(p.X, p.Y, c)
		}
	}
}
