package models

import (
	"image"
	"time"
)

// Face is a single face detection on a frame. Rect is in frame
// coordinates and may extend past the frame bounds after enlargement;
// clamp before cropping.
type Face struct {
	Label      int
	LabelName  string
	Confidence float32
	Rect       image.Rectangle
	Landmarks  []Landmark
}

// Landmark is one facial landmark, normalized to the face rectangle
// (0..1 in both axes).
type Landmark struct {
	X float32
	Y float32
}

// InFrame maps a normalized landmark into frame coordinates given the
// face rectangle it was estimated on.
func (l Landmark) InFrame(face image.Rectangle) image.Point {
	return image.Point{
		X: face.Min.X + int(l.X*float32(face.Dx())),
		Y: face.Min.Y + int(l.Y*float32(face.Dy())),
	}
}

// ClampRect intersects r with bounds so it can be used as a crop
// region. An empty intersection yields the zero rectangle.
func ClampRect(r, bounds image.Rectangle) image.Rectangle {
	return r.Intersect(bounds)
}

// FrameResult is everything the pipeline produced for one frame.
type FrameResult struct {
	Faces   []Face
	Timings ProcessingTimings
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Detection   time.Duration
	Landmarks   time.Duration
	Merge       time.Duration
	Render      time.Duration
	Total       time.Duration
}
