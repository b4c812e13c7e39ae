package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/visagelab/face-analysis-service/models"
	"github.com/visagelab/face-analysis-service/render"
)

type AppState struct {
	Pool     *PipelinePool
	Log      *logrus.Logger
	Validate *validator.Validate
}

type frameRequest struct {
	Image string `json:"image" validate:"required,base64"`
}

type boxResponse struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type pointResponse struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type faceResponse struct {
	Label      string          `json:"label"`
	Confidence float32         `json:"confidence"`
	Box        boxResponse     `json:"box"`
	Landmarks  []pointResponse `json:"landmarks,omitempty"`
}

type timingsResponse struct {
	ImageDecodeMs float64 `json:"image_decode_ms"`
	DetectionMs   float64 `json:"detection_ms"`
	LandmarksMs   float64 `json:"landmarks_ms"`
	MergeMs       float64 `json:"merge_ms"`
	RenderMs      float64 `json:"render_ms"`
	TotalMs       float64 `json:"total_ms"`
}

type frameResponse struct {
	RequestID string          `json:"request_id"`
	FaceCount int             `json:"face_count"`
	Faces     []faceResponse  `json:"faces"`
	Timings   timingsResponse `json:"timings"`
	Annotated string          `json:"annotated,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *AppState) Routes(r *mux.Router) {
	r.HandleFunc("/v1/frames", s.handleProcessFrame).Methods("POST")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
}

// handleProcessFrame accepts one video frame, runs the detection and
// landmark pipeline over it, and reports the results. `annotate=true`
// adds a base64 JPEG with boxes and landmarks drawn on.
func (s *AppState) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	requestID := uuid.NewString()
	log := s.Log.WithField("request_id", requestID)

	imgBytes, err := s.readFrameBody(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	frame, _, err := image.Decode(bytes.NewReader(imgBytes))
	decodeDuration := time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "failed to decode image", http.StatusBadRequest)
		return
	}

	pipeline, err := s.Pool.Acquire(r.Context())
	if err != nil {
		sendErrorResponse(w, "pipeline_unavailable", err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.Pool.Release(pipeline)

	result, err := pipeline.ProcessFrame(r.Context(), frame)
	if err != nil {
		log.WithError(err).Error("frame processing failed")
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}
	result.Timings.RequestID = requestID
	result.Timings.ImageDecode = decodeDuration

	resp := frameResponse{
		RequestID: requestID,
		FaceCount: len(result.Faces),
		Faces:     facesToResponse(result.Faces, frame.Bounds()),
	}

	if r.URL.Query().Get("annotate") == "true" {
		renderStart := time.Now()
		annotated := render.Annotate(frame, result.Faces)
		encoded, err := encodeJPEG(annotated)
		result.Timings.Render = time.Since(renderStart)
		if err != nil {
			log.WithError(err).Error("annotation encoding failed")
			sendErrorResponse(w, "render_error", err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Annotated = encoded
	}

	result.Timings.Total = time.Since(startTotal)
	resp.Timings = timingsToResponse(result.Timings)
	logTimings(log, &result.Timings)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"pool":   s.Pool.Metrics(),
		"stages": s.Pool.StageStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *AppState) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// readFrameBody extracts the frame bytes from a JSON, multipart or raw
// request body.
func (s *AppState) readFrameBody(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return s.readJSONFrame(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return readMultipartFrame(r)
	default:
		return io.ReadAll(r.Body)
	}
}

func (s *AppState) readJSONFrame(r *http.Request) ([]byte, error) {
	var req frameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	if err := s.Validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("image field must be base64 image data: %w", err)
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func readMultipartFrame(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func facesToResponse(faces []models.Face, bounds image.Rectangle) []faceResponse {
	out := make([]faceResponse, 0, len(faces))
	for _, face := range faces {
		fr := faceResponse{
			Label:      face.LabelName,
			Confidence: face.Confidence,
			Box: boxResponse{
				X:      face.Rect.Min.X,
				Y:      face.Rect.Min.Y,
				Width:  face.Rect.Dx(),
				Height: face.Rect.Dy(),
			},
		}
		// Landmarks are normalized to the clamped crop the
		// estimator actually saw.
		crop := models.ClampRect(face.Rect, bounds)
		for _, lm := range face.Landmarks {
			p := lm.InFrame(crop)
			fr.Landmarks = append(fr.Landmarks, pointResponse{X: p.X, Y: p.Y})
		}
		out = append(out, fr)
	}
	return out
}

func timingsToResponse(t models.ProcessingTimings) timingsResponse {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return timingsResponse{
		ImageDecodeMs: ms(t.ImageDecode),
		DetectionMs:   ms(t.Detection),
		LandmarksMs:   ms(t.Landmarks),
		MergeMs:       ms(t.Merge),
		RenderMs:      ms(t.Render),
		TotalMs:       ms(t.Total),
	}
}

func logTimings(log *logrus.Entry, t *models.ProcessingTimings) {
	log.WithFields(logrus.Fields{
		"image_decode": t.ImageDecode,
		"detection":    t.Detection,
		"landmarks":    t.Landmarks,
		"merge":        t.Merge,
		"render":       t.Render,
		"total":        t.Total,
	}).Debug("frame processed")
}

func encodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("encode annotated frame: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
