// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/calerr"
	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/store"
	"github.com/relabs-tech/chessboard_calibrator/internal/trigger"
)

// NewRouter builds the control API around svc.
func NewRouter(svc *Service, hub *Hub, logger logrus.FieldLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	api := &api{svc: svc}
	router.GET("/api/status", api.getStatus)
	router.GET("/api/history", api.getHistory)
	router.GET("/api/calibration", api.getCalibration)
	router.GET("/api/sessions", api.getSessions)
	router.GET("/api/snapshot.png", api.getSnapshot)
	router.POST("/api/arm", api.arm)
	router.POST("/api/disarm", api.disarm)
	router.POST("/api/session/reset", api.reset)
	router.POST("/api/calibrate", api.recalibrate)
	router.POST("/api/finalize", api.finalize)
	if hub != nil {
		router.GET("/ws/guidance", gin.WrapF(hub.Handler(svc)))
	}
	return router
}

type api struct {
	svc *Service
}

// armRequest optionally overrides the configured pattern.
type armRequest struct {
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	SquareSize float64 `json:"square_size"`
}

func (a *api) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, a.svc.Status())
}

func (a *api) getHistory(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, a.svc.History())
}

func (a *api) getCalibration(c *gin.Context) {
	cal, err := a.svc.LatestCalibration(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"calibration": cal, "quality": cal.Quality()})
}

func (a *api) getSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		abort(c, calerr.Config("limit", c.Query("limit"), "must be a non-negative integer"))
		return
	}
	sessions, err := a.svc.Sessions(c.Request.Context(), limit)
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, sessions)
}

func (a *api) getSnapshot(c *gin.Context) {
	img, err := a.svc.Snapshot()
	if err != nil {
		abort(c, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		abort(c, errors.Wrap(err, "encode snapshot"))
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (a *api) arm(c *gin.Context) {
	var req armRequest
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			return
		}
	}
	spec := a.svc.Pattern()
	if req != (armRequest{}) {
		spec = pattern.Spec{Columns: req.Columns, Rows: req.Rows, SquareSize: req.SquareSize}
	}
	if err := a.svc.Arm(c.Request.Context(), spec); err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, a.svc.Status())
}

func (a *api) disarm(c *gin.Context) {
	a.svc.Disarm(c.Request.Context())
	c.IndentedJSON(http.StatusOK, a.svc.Status())
}

func (a *api) reset(c *gin.Context) {
	id, err := a.svc.Reset(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, gin.H{"session": id})
}

func (a *api) recalibrate(c *gin.Context) {
	res, err := a.svc.Recalibrate(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, calibrationResponse(res))
}

func (a *api) finalize(c *gin.Context) {
	res, err := a.svc.Finalize(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, calibrationResponse(res))
}

func calibrationResponse(res capture.Result) gin.H {
	out := gin.H{
		"session": res.Session,
		"count":   res.Count,
		"pending": res.CalibrationPending,
	}
	if res.Calibration != nil {
		out["calibration"] = res.Calibration
		out["quality"] = res.Calibration.Quality()
	}
	if res.CalibrationErr != nil {
		out["error"] = res.CalibrationErr.Error()
	}
	return out
}

// abort maps domain errors onto HTTP status codes.
func abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case capture.IsConfiguration(err):
		code = http.StatusBadRequest
	case errors.Is(err, capture.ErrNotArmed), errors.Is(err, trigger.ErrNotEnoughSamples):
		code = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, capture.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	c.IndentedJSON(code, gin.H{"error": err.Error()})
	_ = c.Error(err)
	c.Abort()
}

// ginLogger logs each request through logrus.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite the path
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()
		dataLength := c.Writer.Size()
		if dataLength < 0 {
			dataLength = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency,
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": dataLength,
		})

		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
