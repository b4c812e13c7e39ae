package detections

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/visagelab/face-analysis-service/models"
)

// FaceDetectorConfig configures the SSD face detector stage.
type FaceDetectorConfig struct {
	ModelPath          string
	Threshold          float32
	EnlargeCoefficient float32
	Async              bool
	RawOutput          bool
	Log                *logrus.Logger
}

// FaceDetector runs an SSD face detection model over whole frames and
// post-processes its DetectionOutput proposals into face rectangles.
type FaceDetector struct {
	sess      *session
	labels    []string
	threshold float32
	enlarge   float32
	rawOutput bool
	req       requestState

	queued         bool
	frameW, frameH int
	fetched        bool
	results        []models.Face

	log *logrus.Entry
}

// NewFaceDetector loads and validates the face detection model. The
// model path is mandatory for this stage.
func NewFaceDetector(cfg FaceDetectorConfig) (*FaceDetector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("face detection model path is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfThreshold
	}
	if cfg.EnlargeCoefficient <= 0 {
		cfg.EnlargeCoefficient = DefaultEnlargeCoefficient
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	log := cfg.Log.WithField("stage", "face_detection")

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read face detection model metadata: %w", err)
	}
	info, err := validateFaceModel(inputs, outputs)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"model":     filepath.Base(cfg.ModelPath),
		"input":     fmt.Sprintf("%dx%d", info.inputWidth(), info.inputHeight()),
		"proposals": info.outputDims[2],
	}).Info("face detection model validated")

	sess, err := newSession(cfg.ModelPath, info)
	if err != nil {
		return nil, fmt.Errorf("load face detection model: %w", err)
	}

	labels, err := loadLabels(cfg.ModelPath)
	if err != nil {
		sess.destroy()
		return nil, err
	}

	if cfg.Async {
		log.Info("using async mode for face detection")
	}

	return &FaceDetector{
		sess:      sess,
		labels:    labels,
		threshold: cfg.Threshold,
		enlarge:   cfg.EnlargeCoefficient,
		rawOutput: cfg.RawOutput,
		req:       requestState{async: cfg.Async},
		log:       log,
	}, nil
}

// Enqueue preprocesses the frame into the input tensor and records its
// dimensions for scaling results back.
func (d *FaceDetector) Enqueue(frame image.Image) error {
	d.frameW = frame.Bounds().Dx()
	d.frameH = frame.Bounds().Dy()

	err := fillTensorSlot(d.sess.input.GetData(), frame, d.sess.info.inputWidth(), d.sess.info.inputHeight(), 0)
	if err != nil {
		return fmt.Errorf("prepare face detection input: %w", err)
	}
	d.queued = true
	return nil
}

// Submit starts inference over the enqueued frame. A no-op when
// nothing is enqueued.
func (d *FaceDetector) Submit() {
	if !d.queued {
		return
	}
	d.queued = false
	d.fetched = false
	d.results = nil
	d.req.submit(d.sess.sess.Run)
}

// Wait blocks until an async submission completes and returns its
// error. In sync mode it reports the last Submit error.
func (d *FaceDetector) Wait() error {
	return d.req.wait()
}

// FetchResults parses the DetectionOutput tensor into face rectangles
// in frame coordinates. Proposals at or below the confidence threshold
// are dropped; surviving boxes are squared and enlarged. Results are
// cached until the next Submit.
func (d *FaceDetector) FetchResults() ([]models.Face, error) {
	if d.fetched {
		return d.results, nil
	}

	faces, err := d.parse(d.sess.output.GetData())
	if err != nil {
		return nil, err
	}
	d.fetched = true
	d.results = faces
	return faces, nil
}

func (d *FaceDetector) parse(data []float32) ([]models.Face, error) {
	proposals := int(d.sess.info.outputDims[2])
	if len(data) != proposals*ProposalSize {
		return nil, fmt.Errorf("unexpected detection output length: got %d, want %d", len(data), proposals*ProposalSize)
	}

	var results []models.Face
	for i := 0; i < proposals; i++ {
		p := data[i*ProposalSize : (i+1)*ProposalSize]
		if p[0] < 0 {
			break
		}

		label := int(p[1])
		confidence := p[2]
		if confidence <= d.threshold {
			continue
		}

		rect := image.Rect(
			int(p[3]*float32(d.frameW)),
			int(p[4]*float32(d.frameH)),
			int(p[5]*float32(d.frameW)),
			int(p[6]*float32(d.frameH)),
		)
		rect = squareAndEnlarge(rect, d.enlarge)

		// Raw output is an explicit opt-in, so it is not gated
		// behind the debug level.
		if d.rawOutput {
			d.log.Infof("[%d,%d] element, prob = %.4f (%d,%d)-(%d,%d)",
				i, label, confidence, rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y)
		}

		results = append(results, models.Face{
			Label:      label,
			LabelName:  d.LabelName(label),
			Confidence: confidence,
			Rect:       rect,
		})
	}

	return results, nil
}

// LabelName resolves a class id against the optional labels file; out
// of range ids fall back to the numeric id.
func (d *FaceDetector) LabelName(label int) string {
	if label >= 0 && label < len(d.labels) {
		return d.labels[label]
	}
	return strconv.Itoa(label)
}

func (d *FaceDetector) Destroy() {
	d.sess.destroy()
}

// squareAndEnlarge makes the box square on its larger side and grows
// it by coeff around the center, so downstream face networks get some
// context. The result may extend past the frame.
func squareAndEnlarge(r image.Rectangle, coeff float32) image.Rectangle {
	w := r.Dx()
	h := r.Dy()
	cx := r.Min.X + w/2
	cy := r.Min.Y + h/2

	maxSide := w
	if h > maxSide {
		maxSide = h
	}
	side := int(coeff * float32(maxSide))

	return image.Rect(cx-side/2, cy-side/2, cx-side/2+side, cy-side/2+side)
}

// loadLabels reads whitespace-separated class names from the .labels
// file next to the model, if present.
func loadLabels(modelPath string) ([]string, error) {
	base := strings.TrimSuffix(modelPath, filepath.Ext(modelPath))
	f, err := os.Open(base + ".labels")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}
	return labels, nil
}
