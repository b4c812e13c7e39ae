package detections

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

func testDetector(proposals int) *FaceDetector {
	return &FaceDetector{
		sess:      &session{info: &modelInfo{outputDims: []int64{1, 1, int64(proposals), ProposalSize}}},
		threshold: 0.5,
		enlarge:   1.0,
		frameW:    100,
		frameH:    100,
		log:       logrus.New().WithField("stage", "face_detection"),
	}
}

func TestParseProposals(t *testing.T) {
	d := testDetector(4)
	data := []float32{
		// image_id, label, conf, xmin, ymin, xmax, ymax
		0, 1, 0.9, 0.1, 0.1, 0.3, 0.3, // kept
		0, 1, 0.5, 0.4, 0.4, 0.6, 0.6, // at threshold: dropped
		0, 1, 0.4, 0.4, 0.4, 0.6, 0.6, // below threshold: dropped
		-1, 0, 0, 0, 0, 0, 0, // terminator
	}

	faces, err := d.parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("got %d faces, want 1", len(faces))
	}

	// With coefficient 1.0 an already-square box stays put.
	want := image.Rect(10, 10, 30, 30)
	if faces[0].Rect != want {
		t.Errorf("rect = %v, want %v", faces[0].Rect, want)
	}
	if faces[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", faces[0].Confidence)
	}
}

func TestParseStopsAtTerminator(t *testing.T) {
	d := testDetector(3)
	data := []float32{
		-1, 0, 0, 0, 0, 0, 0,
		0, 1, 0.9, 0.1, 0.1, 0.3, 0.3,
		0, 1, 0.9, 0.1, 0.1, 0.3, 0.3,
	}

	faces, err := d.parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("got %d faces after terminator, want 0", len(faces))
	}
}

func TestParseRawOutputVisibleWithoutDebug(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.InfoLevel)

	d := testDetector(2)
	d.rawOutput = true
	d.log = log.WithField("stage", "face_detection")

	data := []float32{
		0, 1, 0.9, 0.1, 0.1, 0.3, 0.3,
		-1, 0, 0, 0, 0, 0, 0,
	}
	if _, err := d.parse(data); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.Contains(buf.String(), "prob = 0.9000") {
		t.Errorf("raw output not logged at info level: %q", buf.String())
	}
}

func TestFetchResultsRepeatsError(t *testing.T) {
	d := testDetector(2)
	// An empty output tensor cannot hold two proposals.
	d.sess.output = &ort.Tensor[float32]{}

	if _, err := d.FetchResults(); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := d.FetchResults(); err == nil {
		t.Fatal("repeated FetchResults masked the parse error")
	}
}

func TestSubmitWithoutEnqueue(t *testing.T) {
	d := testDetector(1)

	// Nothing enqueued: Submit must not touch the session.
	d.Submit()
	if err := d.Wait(); err != nil {
		t.Errorf("Wait after empty Submit = %v, want nil", err)
	}
}

func TestParseLengthMismatch(t *testing.T) {
	d := testDetector(2)
	if _, err := d.parse(make([]float32, 7)); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestSquareAndEnlarge(t *testing.T) {
	// 20x40 box centered at (20, 40), coefficient 1.2:
	// side = 1.2 * 40 = 48.
	r := squareAndEnlarge(image.Rect(10, 20, 30, 60), 1.2)

	if r.Dx() != r.Dy() {
		t.Errorf("result not square: %dx%d", r.Dx(), r.Dy())
	}
	if r.Dx() != 48 {
		t.Errorf("side = %d, want 48", r.Dx())
	}
	if want := image.Rect(-4, 16, 44, 64); r != want {
		t.Errorf("rect = %v, want %v", r, want)
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "face.onnx")
	if err := os.WriteFile(filepath.Join(dir, "face.labels"), []byte("fake face\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	labels, err := loadLabels(modelPath)
	if err != nil {
		t.Fatalf("loadLabels: %v", err)
	}
	if len(labels) != 2 || labels[1] != "face" {
		t.Errorf("labels = %v", labels)
	}

	d := testDetector(1)
	d.labels = labels
	if got := d.LabelName(1); got != "face" {
		t.Errorf("LabelName(1) = %q, want face", got)
	}
	if got := d.LabelName(3); got != "3" {
		t.Errorf("LabelName(3) = %q, want numeric fallback", got)
	}
}

func TestLoadLabelsMissingFile(t *testing.T) {
	labels, err := loadLabels(filepath.Join(t.TempDir(), "face.onnx"))
	if err != nil {
		t.Fatalf("loadLabels: %v", err)
	}
	if labels != nil {
		t.Errorf("labels = %v, want nil", labels)
	}
}
