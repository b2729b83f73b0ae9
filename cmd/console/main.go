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
	configPath = ""
	logLevel   = "warn"
)

func main() {
	cmd := &cobra.Command{
		Use:          "console",
		Short:        "Run a simulated calibration session and print the guidance",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			return app.RunMockConsole(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", configPath, "path to KEY=VALUE configuration file (empty for defaults)")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", logLevel, "log level")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
