// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists capture sessions and calibration results in SQLite.
package store

import (
	"context"
	"encoding/json"
	"image"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relabs-tech/chessboard_calibrator/internal/orientation"
	"github.com/relabs-tech/chessboard_calibrator/internal/pattern"
	"github.com/relabs-tech/chessboard_calibrator/internal/vision"
)

// ErrNotFound is returned when no matching row exists.
var ErrNotFound = errors.New("store: not found")

// Session is one capture session.
type Session struct {
	ID         string `gorm:"primaryKey;size:36"`
	Columns    int
	Rows       int
	SquareSize float64
	StartedAt  time.Time `gorm:"index"`
	EndedAt    *time.Time
	Samples    int
	Poses      datatypes.JSON
}

// CalibrationRecord is one finished solve.
type CalibrationRecord struct {
	ID          uint      `gorm:"primaryKey"`
	SessionID   string    `gorm:"index;size:36"`
	CreatedAt   time.Time `gorm:"index"`
	Fx          float64
	Fy          float64
	Cx          float64
	Cy          float64
	Skew        float64
	Distortion  datatypes.JSON
	PerViewRMS  datatypes.JSON
	RMS         float64
	Quality     string `gorm:"size:16"`
	Views       int
	ImageWidth  int
	ImageHeight int
	// Final marks results produced by an explicit finalize.
	Final bool
}

// Calibration converts the record back to the solver's representation.
func (r CalibrationRecord) Calibration() (vision.Calibration, error) {
	cal := vision.Calibration{
		Intrinsics: vision.Intrinsics{Fx: r.Fx, Fy: r.Fy, Cx: r.Cx, Cy: r.Cy, Skew: r.Skew},
		RMS:        r.RMS,
		Views:      r.Views,
		ImageSize:  image.Pt(r.ImageWidth, r.ImageHeight),
	}
	if len(r.Distortion) > 0 {
		if err := json.Unmarshal(r.Distortion, &cal.Distortion); err != nil {
			return vision.Calibration{}, errors.Wrap(err, "decode distortion")
		}
	}
	if len(r.PerViewRMS) > 0 {
		if err := json.Unmarshal(r.PerViewRMS, &cal.PerViewRMS); err != nil {
			return vision.Calibration{}, errors.Wrap(err, "decode per-view rms")
		}
	}
	return cal, nil
}

// Store wraps the database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema. An empty path uses a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %q", dsn)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "access sql interface")
	}
	// One connection keeps an in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Session{}, &CalibrationRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSession records the start of a session.
func (s *Store) SaveSession(ctx context.Context, id string, spec pattern.Spec, started time.Time) error {
	row := Session{
		ID:         id,
		Columns:    spec.Columns,
		Rows:       spec.Rows,
		SquareSize: spec.SquareSize,
		StartedAt:  started.UTC(),
		Poses:      datatypes.JSON("[]"),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "save session %s", id)
	}
	return nil
}

// EndSession stores the accepted poses and closes the session.
func (s *Store) EndSession(ctx context.Context, id string, ended time.Time, poses []orientation.Pose) error {
	if poses == nil {
		poses = []orientation.Pose{}
	}
	data, err := json.Marshal(poses)
	if err != nil {
		return errors.Wrap(err, "encode poses")
	}
	end := ended.UTC()
	res := s.db.WithContext(ctx).Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{
		"ended_at": &end,
		"samples":  len(poses),
		"poses":    datatypes.JSON(data),
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "end session %s", id)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "session %s", id)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var row Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	if err != nil {
		return Session{}, errors.Wrapf(err, "load session %s", id)
	}
	return row, nil
}

// Sessions lists the most recent sessions first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	var rows []Session
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return rows, nil
}

// SaveCalibration records a solver result and returns its row ID.
func (s *Store) SaveCalibration(ctx context.Context, sessionID string, cal vision.Calibration, final bool, at time.Time) (uint, error) {
	dist, err := json.Marshal(nonNil(cal.Distortion))
	if err != nil {
		return 0, errors.Wrap(err, "encode distortion")
	}
	perView, err := json.Marshal(nonNil(cal.PerViewRMS))
	if err != nil {
		return 0, errors.Wrap(err, "encode per-view rms")
	}
	row := CalibrationRecord{
		SessionID:   sessionID,
		CreatedAt:   at.UTC(),
		Fx:          cal.Intrinsics.Fx,
		Fy:          cal.Intrinsics.Fy,
		Cx:          cal.Intrinsics.Cx,
		Cy:          cal.Intrinsics.Cy,
		Skew:        cal.Intrinsics.Skew,
		Distortion:  datatypes.JSON(dist),
		PerViewRMS:  datatypes.JSON(perView),
		RMS:         cal.RMS,
		Quality:     string(cal.Quality()),
		Views:       cal.Views,
		ImageWidth:  cal.ImageSize.X,
		ImageHeight: cal.ImageSize.Y,
		Final:       final,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, errors.Wrapf(err, "save calibration for session %s", sessionID)
	}
	return row.ID, nil
}

// LatestCalibration returns the newest calibration for sessionID, or across
// all sessions when sessionID is empty.
func (s *Store) LatestCalibration(ctx context.Context, sessionID string) (CalibrationRecord, error) {
	var row CalibrationRecord
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	err := q.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CalibrationRecord{}, ErrNotFound
	}
	if err != nil {
		return CalibrationRecord{}, errors.Wrap(err, "load latest calibration")
	}
	return row, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
