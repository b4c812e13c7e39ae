package detections

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/visagelab/face-analysis-service/models"
)

// ErrBatchFull is returned by Enqueue when the estimator already holds
// the maximum number of faces for one submission.
var ErrBatchFull = errors.New("landmark batch is full")

// LandmarkEstimatorConfig configures the facial landmark stage. An
// empty model path disables the stage entirely.
type LandmarkEstimatorConfig struct {
	ModelPath string
	MaxBatch  int
	Async     bool
	Log       *logrus.Logger
}

// LandmarkEstimator batches cropped faces through a landmark
// regression model that emits 35 normalized (x, y) pairs per face.
type LandmarkEstimator struct {
	sess     *session
	maxBatch int
	req      requestState

	queued    int
	submitted int

	log *logrus.Entry
}

// NewLandmarkEstimator loads and validates the landmark model. With an
// empty model path it returns a disabled estimator that accepts the
// whole API as no-ops.
func NewLandmarkEstimator(cfg LandmarkEstimatorConfig) (*LandmarkEstimator, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	log := cfg.Log.WithField("stage", "facial_landmarks")

	if cfg.ModelPath == "" {
		log.Info("facial landmarks estimation DISABLED")
		return &LandmarkEstimator{log: log}, nil
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultLandmarkBatch
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read landmark model metadata: %w", err)
	}
	info, err := validateLandmarkModel(inputs, outputs, cfg.MaxBatch)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"model": filepath.Base(cfg.ModelPath),
		"input": fmt.Sprintf("%dx%d", info.inputWidth(), info.inputHeight()),
		"batch": cfg.MaxBatch,
	}).Info("landmark model validated")

	sess, err := newSession(cfg.ModelPath, info)
	if err != nil {
		return nil, fmt.Errorf("load landmark model: %w", err)
	}

	if cfg.Async {
		log.Info("using async mode for facial landmarks")
	}

	return &LandmarkEstimator{
		sess:     sess,
		maxBatch: cfg.MaxBatch,
		req:      requestState{async: cfg.Async},
		log:      log,
	}, nil
}

// Enabled reports whether a model is loaded; disabled estimators skip
// all work.
func (e *LandmarkEstimator) Enabled() bool {
	return e.sess != nil
}

// Enqueue adds one cropped face to the current batch. Past the batch
// limit the face is skipped with a warning and ErrBatchFull.
func (e *LandmarkEstimator) Enqueue(face image.Image) error {
	if !e.Enabled() {
		return nil
	}
	if e.queued == e.maxBatch {
		e.log.Warnf("number of detected faces exceeds maximum (%d) processed by the landmark estimator", e.maxBatch)
		return ErrBatchFull
	}

	err := fillTensorSlot(e.sess.input.GetData(), face, e.sess.info.inputWidth(), e.sess.info.inputHeight(), e.queued)
	if err != nil {
		return fmt.Errorf("prepare landmark input: %w", err)
	}
	e.queued++
	return nil
}

// Submit starts inference over the queued batch. A no-op when the
// batch is empty or the stage is disabled.
func (e *LandmarkEstimator) Submit() {
	if !e.Enabled() || e.queued == 0 {
		return
	}
	e.submitted = e.queued
	e.queued = 0
	e.req.submit(e.sess.sess.Run)
}

// Wait blocks until an async submission finishes.
func (e *LandmarkEstimator) Wait() error {
	if !e.Enabled() {
		return nil
	}
	return e.req.wait()
}

// Landmarks returns the 35 normalized landmark pairs for the idx-th
// face of the last submitted batch.
func (e *LandmarkEstimator) Landmarks(idx int) ([]models.Landmark, error) {
	if !e.Enabled() {
		return nil, nil
	}
	return landmarksFromData(e.sess.output.GetData(), idx, e.submitted)
}

// landmarksFromData pulls the idx-th face's normalized pairs out of a
// row-major [batch, 70] output buffer.
func landmarksFromData(data []float32, idx, submitted int) ([]models.Landmark, error) {
	if idx < 0 || idx >= submitted {
		return nil, fmt.Errorf("landmark index %d out of range, batch had %d faces", idx, submitted)
	}

	offset := idx * LandmarkCount
	if len(data) < offset+LandmarkCount {
		return nil, fmt.Errorf("landmark output too small: have %d floats, need %d", len(data), offset+LandmarkCount)
	}

	landmarks := make([]models.Landmark, 0, LandmarkCount/2)
	for i := 0; i < LandmarkCount; i += 2 {
		landmarks = append(landmarks, models.Landmark{
			X: data[offset+i],
			Y: data[offset+i+1],
		})
	}
	return landmarks, nil
}

func (e *LandmarkEstimator) Destroy() {
	if e.Enabled() {
		e.sess.destroy()
	}
}
