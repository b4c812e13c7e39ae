package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/visagelab/face-analysis-service/detections"
)

// Config is the full service configuration, loaded from the
// environment (plus an optional .env file) and validated before any
// model is touched.
type Config struct {
	Port string `validate:"required"`

	FaceModelPath      string `validate:"required"`
	LandmarksModelPath string
	OrtLibraryPath     string

	ConfidenceThreshold float32 `validate:"gte=0,lte=1"`
	EnlargeCoefficient  float32 `validate:"gte=1,lte=4"`
	LandmarkBatchSize   int     `validate:"gte=1,lte=128"`
	PoolSize            int     `validate:"gte=1,lte=64"`

	AsyncInference bool
	RawOutput      bool
	MergeOverlaps  bool
}

func loadConfig() (*Config, error) {
	// Best effort; production deployments configure the environment
	// directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FaceModelPath:       getEnv("FACE_MODEL_PATH", "./weights/face-detection-ssd.onnx"),
		LandmarksModelPath:  getEnv("LANDMARKS_MODEL_PATH", ""),
		OrtLibraryPath:      getEnv("ORT_LIBRARY_PATH", ""),
		ConfidenceThreshold: float32(getEnvFloat("CONFIDENCE_THRESHOLD", detections.DefaultConfThreshold)),
		EnlargeCoefficient:  float32(getEnvFloat("BB_ENLARGE_COEFFICIENT", detections.DefaultEnlargeCoefficient)),
		LandmarkBatchSize:   getEnvInt("LANDMARK_BATCH_SIZE", detections.DefaultLandmarkBatch),
		PoolSize:            getEnvInt("POOL_SIZE", DefaultPoolSize),
		AsyncInference:      getEnvBool("ASYNC_INFERENCE", false),
		RawOutput:           getEnvBool("RAW_OUTPUT", false),
		MergeOverlaps:       getEnvBool("MERGE_OVERLAPS", true),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
