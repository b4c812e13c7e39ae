package detections

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// fillTensorSlot resizes img to width x height and writes it into the
// NCHW float buffer at the given batch slot, RGB planes scaled to
// 0..1. Rows are split across workers; the per-pixel cost dominates
// on larger inputs.
func fillTensorSlot(data []float32, img image.Image, width, height, batchIndex int) error {
	channelSize := width * height
	offset := batchIndex * channelSize * 3
	if len(data) < offset+channelSize*3 {
		return fmt.Errorf("tensor too small for batch slot %d: have %d floats, need %d", batchIndex, len(data), offset+channelSize*3)
	}
	slot := data[offset:]

	resized := imaging.Resize(img, width, height, imaging.Linear)

	numWorkers := runtime.NumCPU()
	if numWorkers > height {
		numWorkers = height
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		startY := w * rowsPerWorker
		endY := startY + rowsPerWorker
		if w == numWorkers-1 {
			endY = height
		}

		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()
			for y := startY; y < endY; y++ {
				row := y * width
				for x := 0; x < width; x++ {
					i := row + x
					r, g, b, _ := resized.At(x, y).RGBA()
					slot[i] = float32(r>>8) / 255.0
					slot[channelSize+i] = float32(g>>8) / 255.0
					slot[channelSize*2+i] = float32(b>>8) / 255.0
				}
			}
		}(startY, endY)
	}
	wg.Wait()

	return nil
}
