// Package render draws detection results onto frames for the demo
// output. Heavy image work stays in the imaging library; only the
// primitive box and marker drawing lives here.
package render

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/visagelab/face-analysis-service/models"
)

var (
	boxColor      = color.NRGBA{R: 0, G: 220, B: 0, A: 255}
	landmarkColor = color.NRGBA{R: 255, G: 64, B: 64, A: 255}
)

const markerHalfSize = 2

// Annotate returns a copy of the frame with face rectangles and
// landmark crosses drawn on. Boxes are clamped to the frame before
// drawing.
func Annotate(frame image.Image, faces []models.Face) *image.NRGBA {
	out := imaging.Clone(frame)
	bounds := out.Bounds()

	for _, face := range faces {
		rect := models.ClampRect(face.Rect, bounds)
		if rect.Empty() {
			continue
		}
		drawRect(out, rect, boxColor)

		for _, lm := range face.Landmarks {
			drawCross(out, lm.InFrame(rect), landmarkColor, bounds)
		}
	}
	return out
}

func drawRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetNRGBA(x, r.Min.Y, c)
		img.SetNRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetNRGBA(r.Min.X, y, c)
		img.SetNRGBA(r.Max.X-1, y, c)
	}
}

func drawCross(img *image.NRGBA, p image.Point, c color.NRGBA, bounds image.Rectangle) {
	for d := -markerHalfSize; d <= markerHalfSize; d++ {
		if h := (image.Point{X: p.X + d, Y: p.Y}); h.In(bounds) {
			img.SetNRGBA(h.X, h.Y, c)
		}
		if v := (image.Point{X: p.X, Y: p.Y + d}); v.In(bounds) {
			img.SetNRGBA(v.X, v.Y, c)
		}
	}
}
