package main

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.PoolSize != DefaultPoolSize {
		t.Errorf("PoolSize = %d, want %d", cfg.PoolSize, DefaultPoolSize)
	}
	if !cfg.MergeOverlaps {
		t.Error("MergeOverlaps should default to true")
	}
	if cfg.AsyncInference {
		t.Error("AsyncInference should default to false")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("FACE_MODEL_PATH", "/models/face.onnx")
	t.Setenv("LANDMARKS_MODEL_PATH", "/models/landmarks.onnx")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("ASYNC_INFERENCE", "true")
	t.Setenv("LANDMARK_BATCH_SIZE", "8")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != "9000" || cfg.FaceModelPath != "/models/face.onnx" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.ConfidenceThreshold)
	}
	if !cfg.AsyncInference || cfg.LandmarkBatchSize != 8 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CONFIDENCE_THRESHOLD", "1.5"},
		{"BB_ENLARGE_COEFFICIENT", "0.5"},
		{"POOL_SIZE", "0"},
		{"LANDMARK_BATCH_SIZE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("expected validation error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := getEnvInt("SOME_INT", 5); got != 5 {
		t.Errorf("getEnvInt fallback = %d, want 5", got)
	}
	t.Setenv("SOME_BOOL", "maybe")
	if got := getEnvBool("SOME_BOOL", true); got != true {
		t.Errorf("getEnvBool fallback = %v, want true", got)
	}
}
