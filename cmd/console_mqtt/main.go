// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/chessboard_calibrator/internal/app"
)

var (
	configPath = "calibrator_config.txt"
	logLevel   = ""
)

func main() {
	cmd := &cobra.Command{
		Use:          "console_mqtt",
		Short:        "Print calibrator guidance and calibration events from MQTT",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			return app.RunConsoleMQTT(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", configPath, "path to KEY=VALUE configuration file")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", logLevel, "log level override")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
