// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/config"
	"github.com/relabs-tech/chessboard_calibrator/internal/store"
	"github.com/relabs-tech/chessboard_calibrator/internal/timeutil"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"

	// vision backends register themselves
	_ "github.com/relabs-tech/chessboard_calibrator/internal/vision/cvbackend"
	_ "github.com/relabs-tech/chessboard_calibrator/internal/vision/synthetic"
)

// ControllerOptions maps the configuration onto capture controller options.
func ControllerOptions(cfg *config.Config, log logrus.FieldLogger) capture.Options {
	return capture.Options{
		FPS:              cfg.CaptureFPS,
		NoveltyThreshold: cfg.NoveltyThresholdDeg,
		MinSamples:       cfg.MinSamples,
		Policy:           cfg.Policy(),
		AsyncCalibration: cfg.AsyncCalibration,
		Tracking:         cfg.TrackingEnabled,
		MaxTrackingError: cfg.MaxTrackingError,
		SubpixWindow:     image.Pt(cfg.SubpixWindow, cfg.SubpixWindow),
		Logger:           log,
	}
}

// TopicsFrom returns the configured MQTT topics.
func TopicsFrom(cfg *config.Config) Topics {
	return Topics{
		Guidance:    cfg.TopicGuidance,
		Calibration: cfg.TopicCalibration,
		Pose:        cfg.TopicPose,
	}
}

// RunCapture runs the capture loop until SIGINT/SIGTERM or ctx is done.
func RunCapture(ctx context.Context, cfg *config.Config) error {
	log := logrus.WithField("component", "app")

	lib, err := vision.Open(cfg.VisionBackend, vision.Options{
		Device:    cfg.CameraDevice,
		ImageSize: cfg.ImageSize(),
		Pattern:   cfg.Pattern(),
	})
	if err != nil {
		return err
	}
	if err := lib.Init(); err != nil {
		return errors.Wrapf(err, "initialize %s backend", lib.Name())
	}
	defer func() {
		if err := lib.Shutdown(); err != nil {
			log.WithError(err).Warn("vision backend shutdown failed")
		}
	}()
	log.WithFields(logrus.Fields{"backend": lib.Name(), "device": cfg.CameraDevice}).Info("vision backend ready")

	ctrl, err := capture.New(lib.Backend(), ControllerOptions(cfg, logrus.StandardLogger()))
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var pub Publisher = NopPublisher{}
	if cfg.MQTTBroker != "" {
		mp, err := NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientIDCapture, log)
		if err != nil {
			return err
		}
		defer mp.Close()
		pub = mp
	} else {
		log.Info("MQTT_BROKER not set, publishing disabled")
	}

	hub := NewHub(logrus.StandardLogger())
	svc, err := NewService(ServiceOptions{
		Controller: ctrl,
		Store:      st,
		Publisher:  pub,
		Hub:        hub,
		Topics:     TopicsFrom(cfg),
		Pattern:    cfg.Pattern(),
		Logger:     logrus.StandardLogger(),
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WebServerPort > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
			Handler:           NewRouter(svc, hub, logrus.StandardLogger()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("http server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("http server failed")
				stop()
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("failed to shutdown http server")
			}
		}()
	}

	clock := timeutil.RealClock{}
	runErr := svc.Run(ctx, clock.NewTicker(cfg.Tick()))
	log.Info("shutting down")
	if err := svc.Close(context.Background()); err != nil {
		log.WithError(err).Warn("controller close failed")
	}
	return runErr
}
