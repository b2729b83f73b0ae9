// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/config"
)

// SetupLogger configures the standard logrus logger.
func SetupLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return nil
}

// Bootstrap loads the global configuration and sets up logging. A non-empty
// logLevel overrides LOG_LEVEL.
func Bootstrap(configPath, logLevel string) (*config.Config, error) {
	if err := config.InitGlobal(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	cfg := config.Get()
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := SetupLogger(logLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}
