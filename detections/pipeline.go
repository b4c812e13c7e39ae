package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/visagelab/face-analysis-service/models"
	"github.com/visagelab/face-analysis-service/perf"
)

// Stage names used with the pipeline timer.
const (
	StageDetection = "face_detection"
	StageLandmarks = "facial_landmarks"
	StageMerge     = "merge_overlaps"
)

// PipelineConfig wires both model stages plus pipeline-level options.
type PipelineConfig struct {
	Face          FaceDetectorConfig
	Landmarks     LandmarkEstimatorConfig
	MergeOverlaps bool
	Log           *logrus.Logger
}

// Pipeline runs face detection followed by landmark estimation over
// one frame at a time. It is not safe for concurrent use; callers hold
// one pipeline exclusively (the pool enforces this).
type Pipeline struct {
	faces     *FaceDetector
	landmarks *LandmarkEstimator
	merge     bool
	timer     *perf.Timer
	log       *logrus.Entry
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.Face.Log == nil {
		cfg.Face.Log = cfg.Log
	}
	if cfg.Landmarks.Log == nil {
		cfg.Landmarks.Log = cfg.Log
	}

	faces, err := NewFaceDetector(cfg.Face)
	if err != nil {
		return nil, err
	}

	landmarks, err := NewLandmarkEstimator(cfg.Landmarks)
	if err != nil {
		faces.Destroy()
		return nil, err
	}

	return &Pipeline{
		faces:     faces,
		landmarks: landmarks,
		merge:     cfg.MergeOverlaps,
		timer:     perf.NewTimer(),
		log:       cfg.Log.WithField("component", "pipeline"),
	}, nil
}

// Timer exposes the pipeline's stage statistics for metrics reporting.
func (p *Pipeline) Timer() *perf.Timer { return p.timer }

// ProcessFrame runs the full pipeline over one frame. The detection
// stage is retried on transient runtime errors; landmark estimation
// runs once over whatever the detector produced.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image) (*models.FrameResult, error) {
	faces, err := p.detectWithRetry(ctx, frame)
	if err != nil {
		return nil, err
	}

	result := &models.FrameResult{}
	result.Timings.Detection = p.lastDuration(StageDetection)

	if p.merge && len(faces) > 0 {
		p.timer.Start(StageMerge)
		faces = MergeOverlapping(faces)
		p.timer.Finish(StageMerge)
		result.Timings.Merge = p.lastDuration(StageMerge)
	}

	if p.landmarks.Enabled() && len(faces) > 0 {
		p.timer.Start(StageLandmarks)
		if err := p.estimateLandmarks(frame, faces); err != nil {
			p.timer.Finish(StageLandmarks)
			return nil, err
		}
		p.timer.Finish(StageLandmarks)
		result.Timings.Landmarks = p.lastDuration(StageLandmarks)
	}

	result.Faces = faces
	return result, nil
}

func (p *Pipeline) detectWithRetry(ctx context.Context, frame image.Image) ([]models.Face, error) {
	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		faces, err := p.detect(frame)
		if err == nil {
			return faces, nil
		}
		lastErr = err

		if attempt < RetryAttempts {
			p.log.WithError(err).Warnf("face detection attempt %d failed, retrying", attempt)
			time.Sleep(time.Duration(attempt) * RetryDelayMs * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("face detection failed after %d attempts: %w", RetryAttempts, lastErr)
}

func (p *Pipeline) detect(frame image.Image) ([]models.Face, error) {
	p.timer.Start(StageDetection)
	defer p.timer.Finish(StageDetection)

	if err := p.faces.Enqueue(frame); err != nil {
		return nil, err
	}
	p.faces.Submit()
	if err := p.faces.Wait(); err != nil {
		return nil, fmt.Errorf("face detection inference: %w", err)
	}
	return p.faces.FetchResults()
}

// estimateLandmarks crops each detected face out of the frame, batches
// the crops through the estimator and attaches the landmarks to their
// faces. Faces past the batch limit stay without landmarks.
func (p *Pipeline) estimateLandmarks(frame image.Image, faces []models.Face) error {
	bounds := frame.Bounds()

	// Batch slot -> index into faces. Crops that clamp to nothing
	// never enter the batch.
	slots := make([]int, 0, len(faces))
	for i := range faces {
		clamped := models.ClampRect(faces[i].Rect, bounds)
		if clamped.Empty() {
			continue
		}

		crop := imaging.Crop(frame, clamped)
		if err := p.landmarks.Enqueue(crop); err != nil {
			if errors.Is(err, ErrBatchFull) {
				break
			}
			return err
		}
		slots = append(slots, i)
	}
	if len(slots) == 0 {
		return nil
	}

	p.landmarks.Submit()
	if err := p.landmarks.Wait(); err != nil {
		return fmt.Errorf("landmark inference: %w", err)
	}

	for slot, faceIdx := range slots {
		lm, err := p.landmarks.Landmarks(slot)
		if err != nil {
			return err
		}
		faces[faceIdx].Landmarks = lm
	}
	return nil
}

func (p *Pipeline) lastDuration(stage string) time.Duration {
	stat, err := p.timer.Stat(stage)
	if err != nil {
		return 0
	}
	return stat.LastDuration()
}

func (p *Pipeline) Destroy() {
	if p.faces != nil {
		p.faces.Destroy()
	}
	if p.landmarks != nil {
		p.landmarks.Destroy()
	}
}
