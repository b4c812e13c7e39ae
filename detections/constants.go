package detections

const (
	// DefaultConfThreshold drops SSD proposals at or below this score.
	DefaultConfThreshold = 0.5
	// DefaultEnlargeCoefficient grows the squared face box so the
	// landmark network sees some context around the face.
	DefaultEnlargeCoefficient = 1.2
	// DefaultLandmarkBatch is the maximum number of faces estimated
	// per frame when the model leaves the batch dimension dynamic.
	DefaultLandmarkBatch = 16

	// LandmarkCount is the number of values the landmark model emits
	// per face: 35 (x, y) pairs.
	LandmarkCount = 70
	// ProposalSize is the per-proposal stride of an SSD
	// DetectionOutput tensor: image_id, label, confidence, xmin,
	// ymin, xmax, ymax.
	ProposalSize = 7

	// Fallbacks for models that leave dimensions dynamic.
	DefaultInputWidth        = 320
	DefaultInputHeight       = 240
	DefaultProposalCount     = 200
	DefaultLandmarkInputSize = 60

	RetryAttempts = 3
	RetryDelayMs  = 100
)
