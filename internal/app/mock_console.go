// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/config"
	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision/synthetic"
)

// ConsolePublisher prints events as single lines.
type ConsolePublisher struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsolePublisher prints to out.
func NewConsolePublisher(out io.Writer) *ConsolePublisher {
	return &ConsolePublisher{out: out}
}

func (p *ConsolePublisher) Publish(_ string, _ bool, v interface{}) error {
	var line string
	switch e := v.(type) {
	case GuidanceEvent:
		line = formatGuidance(e)
	case PoseEvent:
		line = formatPose(e)
	case CalibrationEvent:
		line = formatCalibration(e)
	default:
		return errors.Errorf("unsupported event %T", v)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out, line)
	return err
}

func (p *ConsolePublisher) Close() {}

// RunMockConsole runs a whole session against the synthetic camera and prints
// guidance until enough samples are collected, then finalizes.
func RunMockConsole(ctx context.Context, cfg *config.Config, out io.Writer) error {
	clock := timeutil.RealClock{}
	lib := synthetic.New(synthetic.Options{
		ImageSize: cfg.ImageSize(),
		Pattern:   cfg.Pattern(),
		Source:    orientation.NewMockSource(clock, synthetic.DefaultDistance),
		Noise:     0.2,
	})
	return runMockSession(ctx, cfg, lib, clock, clock.NewTicker(cfg.Tick()), out)
}

func runMockSession(ctx context.Context, cfg *config.Config, lib vision.Library, clock timeutil.Clock, ticker timeutil.Ticker, out io.Writer) error {
	defer ticker.Stop()
	log := logrus.WithField("component", "mock")
	if err := lib.Init(); err != nil {
		return errors.Wrapf(err, "initialize %s backend", lib.Name())
	}
	defer lib.Shutdown()

	ctrl, err := capture.New(lib.Backend(), ControllerOptions(cfg, logrus.StandardLogger()))
	if err != nil {
		return err
	}
	pub := NewConsolePublisher(out)
	svc, err := NewService(ServiceOptions{
		Controller: ctrl,
		Publisher:  pub,
		Topics:     TopicsFrom(cfg),
		Pattern:    cfg.Pattern(),
		Clock:      clock,
		Logger:     logrus.StandardLogger(),
	})
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	if err := svc.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		res, err := svc.Tick(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrClosed) {
				return err
			}
			log.WithError(err).Debug("tick failed")
			continue
		}
		if res.Count < cfg.MinSamples {
			continue
		}
		fin, err := svc.Finalize(ctx)
		if err != nil {
			return err
		}
		if fin.CalibrationErr != nil {
			return fin.CalibrationErr
		}
		return nil
	}
}
