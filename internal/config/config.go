// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/trigger"
)

// Config holds all application configuration values.
type Config struct {
	// Pattern
	PatternColumns    int
	PatternRows       int
	PatternSquareSize float64

	// Capture
	CaptureFPS          float64
	NoveltyThresholdDeg float64
	MinSamples          int
	TriggerPolicy       string // "once" or "every"
	AsyncCalibration    bool
	TrackingEnabled     bool
	MaxTrackingError    float64
	SubpixWindow        int // pixels, square
	TickInterval        int // milliseconds

	// Camera
	ImageWidth    int
	ImageHeight   int
	CameraDevice  string
	VisionBackend string // "synthetic" or "opencv"

	// MQTT; an empty broker disables publishing
	MQTTBroker          string
	MQTTClientIDCapture string
	MQTTClientIDConsole string

	// Topics
	TopicGuidance    string
	TopicCalibration string
	TopicPose        string

	// Web Server; port 0 disables it
	WebServerPort int

	// Persistence; empty keeps everything in memory
	DBPath string

	LogLevel string
}

// Keys and their defaults. Every key in a config file must appear here.
var defaults = map[string]interface{}{
	"PATTERN_COLUMNS":        9,
	"PATTERN_ROWS":           6,
	"PATTERN_SQUARE_SIZE":    25.0,
	"CAPTURE_FPS":            10.0,
	"NOVELTY_THRESHOLD_DEG":  10.0,
	"MIN_SAMPLES":            trigger.DefaultMinSamples,
	"TRIGGER_POLICY":         string(trigger.PolicyOnce),
	"ASYNC_CALIBRATION":      false,
	"TRACKING_ENABLED":       false,
	"MAX_TRACKING_ERROR":     8.0,
	"SUBPIX_WINDOW":          11,
	"TICK_INTERVAL":          20,
	"IMAGE_WIDTH":            1280,
	"IMAGE_HEIGHT":           720,
	"CAMERA_DEVICE":          "0",
	"VISION_BACKEND":         "synthetic",
	"MQTT_BROKER":            "",
	"MQTT_CLIENT_ID_CAPTURE": "calibrator-capture",
	"MQTT_CLIENT_ID_CONSOLE": "calibrator-console",
	"TOPIC_GUIDANCE":         "calibrator/guidance",
	"TOPIC_CALIBRATION":      "calibrator/calibration",
	"TOPIC_POSE":             "calibrator/pose",
	"WEB_SERVER_PORT":        8080,
	"DB_PATH":                "",
	"LOG_LEVEL":              "info",
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return v
}

// Load reads a KEY=VALUE configuration file and returns a validated Config.
// Environment variables with the same key override the file. An empty path
// loads defaults plus environment only.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := checkKeys(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		PatternColumns:      v.GetInt("PATTERN_COLUMNS"),
		PatternRows:         v.GetInt("PATTERN_ROWS"),
		PatternSquareSize:   v.GetFloat64("PATTERN_SQUARE_SIZE"),
		CaptureFPS:          v.GetFloat64("CAPTURE_FPS"),
		NoveltyThresholdDeg: v.GetFloat64("NOVELTY_THRESHOLD_DEG"),
		MinSamples:          v.GetInt("MIN_SAMPLES"),
		TriggerPolicy:       v.GetString("TRIGGER_POLICY"),
		AsyncCalibration:    v.GetBool("ASYNC_CALIBRATION"),
		TrackingEnabled:     v.GetBool("TRACKING_ENABLED"),
		MaxTrackingError:    v.GetFloat64("MAX_TRACKING_ERROR"),
		SubpixWindow:        v.GetInt("SUBPIX_WINDOW"),
		TickInterval:        v.GetInt("TICK_INTERVAL"),
		ImageWidth:          v.GetInt("IMAGE_WIDTH"),
		ImageHeight:         v.GetInt("IMAGE_HEIGHT"),
		CameraDevice:        v.GetString("CAMERA_DEVICE"),
		VisionBackend:       v.GetString("VISION_BACKEND"),
		MQTTBroker:          v.GetString("MQTT_BROKER"),
		MQTTClientIDCapture: v.GetString("MQTT_CLIENT_ID_CAPTURE"),
		MQTTClientIDConsole: v.GetString("MQTT_CLIENT_ID_CONSOLE"),
		TopicGuidance:       v.GetString("TOPIC_GUIDANCE"),
		TopicCalibration:    v.GetString("TOPIC_CALIBRATION"),
		TopicPose:           v.GetString("TOPIC_POSE"),
		WebServerPort:       v.GetInt("WEB_SERVER_PORT"),
		DBPath:              v.GetString("DB_PATH"),
		LogLevel:            v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkKeys rejects keys this application does not know, which are almost
// always typos.
func checkKeys(v *viper.Viper) error {
	var unknown []string
	for _, k := range v.AllKeys() {
		if _, ok := defaults[strings.ToUpper(k)]; !ok {
			unknown = append(unknown, strings.ToUpper(k))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("unknown config key(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.Pattern().Validate(); err != nil {
		return err
	}
	if !(c.CaptureFPS > 0) {
		return calerr.Config("CAPTURE_FPS", c.CaptureFPS, "must be > 0")
	}
	if !(c.NoveltyThresholdDeg > 0) {
		return calerr.Config("NOVELTY_THRESHOLD_DEG", c.NoveltyThresholdDeg, "must be > 0")
	}
	if c.MinSamples < 1 {
		return calerr.Config("MIN_SAMPLES", c.MinSamples, "must be >= 1")
	}
	if _, err := trigger.ParsePolicy(c.TriggerPolicy); err != nil {
		return err
	}
	if c.TrackingEnabled && !(c.MaxTrackingError > 0) {
		return calerr.Config("MAX_TRACKING_ERROR", c.MaxTrackingError, "must be > 0 when tracking is enabled")
	}
	if c.SubpixWindow < 3 {
		return calerr.Config("SUBPIX_WINDOW", c.SubpixWindow, "must be >= 3")
	}
	if c.TickInterval <= 0 {
		return calerr.Config("TICK_INTERVAL", c.TickInterval, "must be > 0")
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return calerr.Config("IMAGE_WIDTH/IMAGE_HEIGHT", image.Pt(c.ImageWidth, c.ImageHeight), "must be positive")
	}
	if c.VisionBackend == "" {
		return calerr.Config("VISION_BACKEND", c.VisionBackend, "is required")
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return calerr.Config("WEB_SERVER_PORT", c.WebServerPort, "must be 0-65535")
	}
	return nil
}

// Pattern is the configured chessboard.
func (c *Config) Pattern() pattern.Spec {
	return pattern.Spec{Columns: c.PatternColumns, Rows: c.PatternRows, SquareSize: c.PatternSquareSize}
}

// ImageSize is the requested camera resolution.
func (c *Config) ImageSize() image.Point {
	return image.Pt(c.ImageWidth, c.ImageHeight)
}

// Policy is the parsed trigger policy. Load has already validated it.
func (c *Config) Policy() trigger.Policy {
	p, _ := trigger.ParsePolicy(c.TriggerPolicy)
	return p
}

// Tick is the capture loop period.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// InitGlobal loads the configuration once for the whole process.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
