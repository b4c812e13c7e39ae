package main

import (
	"net/http"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/visagelab/face-analysis-service/detections"
	"github.com/visagelab/face-analysis-service/logging"
)

func main() {
	log := logging.NewLogger()

	cfg, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	libPath, err := resolveSharedLibrary(cfg.OrtLibraryPath)
	if err != nil {
		log.WithError(err).Fatal("failed to locate onnxruntime library")
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.WithError(err).Fatal("failed to initialize onnxruntime environment")
	}
	defer ort.DestroyEnvironment()

	factory := func() (*detections.Pipeline, error) {
		return detections.NewPipeline(detections.PipelineConfig{
			Face: detections.FaceDetectorConfig{
				ModelPath:          cfg.FaceModelPath,
				Threshold:          cfg.ConfidenceThreshold,
				EnlargeCoefficient: cfg.EnlargeCoefficient,
				Async:              cfg.AsyncInference,
				RawOutput:          cfg.RawOutput,
				Log:                log,
			},
			Landmarks: detections.LandmarkEstimatorConfig{
				ModelPath: cfg.LandmarksModelPath,
				MaxBatch:  cfg.LandmarkBatchSize,
				Async:     cfg.AsyncInference,
				Log:       log,
			},
			MergeOverlaps: cfg.MergeOverlaps,
			Log:           log,
		})
	}

	pool, err := NewPipelinePool(factory, cfg.PoolSize)
	if err != nil {
		log.WithError(err).Fatal("failed to create pipeline pool")
	}
	defer pool.Destroy()

	state := &AppState{
		Pool:     pool,
		Log:      log,
		Validate: validator.New(),
	}

	r := mux.NewRouter()
	state.Routes(r)

	srv := &http.Server{
		Handler:      r,
		Addr:         ":" + cfg.Port,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	log.WithField("addr", srv.Addr).Info("starting server")
	if err := srv.ListenAndServe(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
