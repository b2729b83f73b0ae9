// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/capture/main.go
//
// Guided chessboard calibration capture. Grabs frames from the configured
// vision backend, tells the operator how to move the board next, keeps the
// frames that add a new viewpoint and calibrates the camera once enough of
// them are collected.
//
// Run:
//
//	go run ./cmd/capture --config calibrator_config.txt
//
// The REST API and the /ws/guidance websocket listen on WEB_SERVER_PORT;
// events are published to MQTT when MQTT_BROKER is set.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/chessboard_calibrator/internal/app"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

var (
	configPath = "calibrator_config.txt"
	logLevel   = ""
)

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "capture",
		Short:        "Guided chessboard calibration capture",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Bootstrap(configPath, logLevel)
			if err != nil {
				return err
			}
			return app.RunCapture(cmd.Context(), cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", configPath, "path to KEY=VALUE configuration file (empty for defaults)")
	flags.StringVarP(&logLevel, "log-level", "l", logLevel, "log level override (trace, debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "List the available vision backends",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(vision.Backends(), "\n"))
		},
	})
	return cmd
}
