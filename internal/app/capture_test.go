// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/chessboard_calibrator/internal/config"
	"github.com/relabs-tech/chessboard_calibrator/internal/trigger"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

func TestControllerOptions(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.TriggerPolicy = "every"
	cfg.SubpixWindow = 7
	cfg.TrackingEnabled = true

	logger, _ := test.NewNullLogger()
	opts := ControllerOptions(cfg, logger)
	assert.Equal(t, cfg.CaptureFPS, opts.FPS)
	assert.Equal(t, cfg.NoveltyThresholdDeg, opts.NoveltyThreshold)
	assert.Equal(t, cfg.MinSamples, opts.MinSamples)
	assert.Equal(t, trigger.PolicyEvery, opts.Policy)
	assert.Equal(t, image.Pt(7, 7), opts.SubpixWindow)
	assert.True(t, opts.Tracking)
	assert.Equal(t, logger, opts.Logger)

	assert.Equal(t, Topics{
		Guidance:    "calibrator/guidance",
		Calibration: "calibrator/calibration",
		Pose:        "calibrator/pose",
	}, TopicsFrom(cfg))
}

func TestRunCapture_UnknownBackend(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.VisionBackend = "webcam9000"

	err = RunCapture(t.Context(), cfg)
	assert.True(t, errors.Is(err, vision.ErrUnknownBackend), "err=%v", err)
}

func TestRunCapture_StopsWithContext(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.WebServerPort = 0
	cfg.MQTTBroker = ""
	cfg.DBPath = ""

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.NoError(t, RunCapture(ctx, cfg))
}
