package detections

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestFillTensorSlot(t *testing.T) {
	const side = 4
	channelSize := side * side
	data := make([]float32, 2*3*channelSize)

	red := solidImage(side, side, color.NRGBA{R: 255, A: 255})
	if err := fillTensorSlot(data, red, side, side, 1); err != nil {
		t.Fatalf("fillTensorSlot: %v", err)
	}

	slot := data[3*channelSize:]
	for i := 0; i < channelSize; i++ {
		if diff := slot[i] - 1.0; diff < -0.01 || diff > 0.01 {
			t.Fatalf("R plane [%d] = %v, want ~1.0", i, slot[i])
		}
		if slot[channelSize+i] > 0.01 || slot[2*channelSize+i] > 0.01 {
			t.Fatalf("G/B planes should be ~0, got %v/%v", slot[channelSize+i], slot[2*channelSize+i])
		}
	}

	// Slot 0 must stay untouched.
	for i := 0; i < 3*channelSize; i++ {
		if data[i] != 0 {
			t.Fatalf("slot 0 [%d] = %v, want 0", i, data[i])
		}
	}
}

func TestFillTensorSlotResizes(t *testing.T) {
	const side = 8
	data := make([]float32, 3*side*side)

	// A larger gray source exercises the resize path.
	gray := solidImage(32, 24, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	if err := fillTensorSlot(data, gray, side, side, 0); err != nil {
		t.Fatalf("fillTensorSlot: %v", err)
	}

	want := float32(128) / 255.0
	for i, v := range data {
		if diff := v - want; diff < -0.02 || diff > 0.02 {
			t.Fatalf("data[%d] = %v, want ~%v", i, v, want)
		}
	}
}

func TestFillTensorSlotShortBuffer(t *testing.T) {
	data := make([]float32, 10)
	img := solidImage(4, 4, color.NRGBA{A: 255})
	if err := fillTensorSlot(data, img, 4, 4, 0); err == nil {
		t.Error("expected short buffer error")
	}
}
