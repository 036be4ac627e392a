// Package motion decides whether consecutive captured frames differ enough
// to be worth encoding.
package motion

import (
	"fmt"
	"image"
	"sync"

	"github.com/SOURCE-Platform/screencore/capture"
)

const (
	// A pixel counts as changed when any color channel moves by more than
	// this many steps between frames.
	defaultPixelDelta = 30

	// Bounding boxes come from a fixed grid partition of the frame.
	gridSize = 10

	// A grid cell is active when more than this fraction of its pixels
	// changed.
	cellActiveFraction = 0.05
)

// Result describes the comparison of one frame against the stored baseline.
type Result struct {
	HasMotion         bool
	ChangedPercentage float32
	BoundingBoxes     []image.Rectangle
}

// Detector is a stateful frame-to-frame comparator. It retains at most one
// previous frame; every detected frame becomes the next baseline.
type Detector struct {
	threshold  float32
	pixelDelta uint8

	mu         sync.Mutex
	prev       []byte
	prevWidth  uint32
	prevHeight uint32
}

// NewDetector creates a detector that reports motion when at least the given
// fraction of pixels changed. The threshold must be in [0, 1].
func NewDetector(threshold float64) (*Detector, error) {
	return NewDetectorWithPixelDelta(threshold, defaultPixelDelta)
}

// NewDetectorWithPixelDelta additionally overrides the per-channel change
// threshold.
func NewDetectorWithPixelDelta(threshold float64, pixelDelta uint8) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("motion threshold %v out of range [0, 1]", threshold)
	}
	return &Detector{
		threshold:  float32(threshold),
		pixelDelta: pixelDelta,
	}, nil
}

// Detect compares the frame against the stored baseline and replaces the
// baseline with it. The first call, and any call whose dimensions differ
// from the baseline, reports full-frame motion.
func (d *Detector) Detect(frame *capture.RawFrame) (Result, error) {
	if frame == nil {
		return Result{}, fmt.Errorf("nil frame")
	}
	expected := int(frame.Width) * int(frame.Height) * 4
	if len(frame.Data) != expected {
		return Result{}, fmt.Errorf("frame data is %d bytes, want %d for %dx%d", len(frame.Data), expected, frame.Width, frame.Height)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.prev == nil || d.prevWidth != frame.Width || d.prevHeight != frame.Height {
		d.storeBaseline(frame)
		return Result{
			HasMotion:         true,
			ChangedPercentage: 1.0,
			BoundingBoxes: []image.Rectangle{
				image.Rect(0, 0, int(frame.Width), int(frame.Height)),
			},
		}, nil
	}

	width := int(frame.Width)
	height := int(frame.Height)
	delta := int(d.pixelDelta)

	var cellChanged [gridSize][gridSize]int
	changed := 0
	for y := 0; y < height; y++ {
		row := y * width * 4
		cy := y * gridSize / height
		for x := 0; x < width; x++ {
			i := row + x*4
			if channelDiff(frame.Data[i], d.prev[i]) > delta ||
				channelDiff(frame.Data[i+1], d.prev[i+1]) > delta ||
				channelDiff(frame.Data[i+2], d.prev[i+2]) > delta {
				changed++
				cellChanged[cy][x*gridSize/width]++
			}
		}
	}

	total := width * height
	changedPct := float32(changed) / float32(total)
	hasMotion := changedPct >= d.threshold

	result := Result{
		HasMotion:         hasMotion,
		ChangedPercentage: changedPct,
	}
	if hasMotion {
		result.BoundingBoxes = boundingBoxes(&cellChanged, width, height)
	}

	d.storeBaseline(frame)
	return result, nil
}

// Reset clears the stored baseline; the next Detect behaves as a first call.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prev = nil
	d.prevWidth = 0
	d.prevHeight = 0
}

func (d *Detector) storeBaseline(frame *capture.RawFrame) {
	if cap(d.prev) < len(frame.Data) {
		d.prev = make([]byte, len(frame.Data))
	}
	d.prev = d.prev[:len(frame.Data)]
	copy(d.prev, frame.Data)
	d.prevWidth = frame.Width
	d.prevHeight = frame.Height
}

// boundingBoxes returns one box per active grid cell. Adjacent active cells
// are intentionally not merged into larger regions.
func boundingBoxes(cellChanged *[gridSize][gridSize]int, width, height int) []image.Rectangle {
	var boxes []image.Rectangle
	for cy := 0; cy < gridSize; cy++ {
		y0 := cy * height / gridSize
		y1 := (cy + 1) * height / gridSize
		for cx := 0; cx < gridSize; cx++ {
			x0 := cx * width / gridSize
			x1 := (cx + 1) * width / gridSize
			cellPixels := (x1 - x0) * (y1 - y0)
			if cellPixels == 0 {
				continue
			}
			if float64(cellChanged[cy][cx]) > cellActiveFraction*float64(cellPixels) {
				boxes = append(boxes, image.Rect(x0, y0, x1, y1))
			}
		}
	}
	return boxes
}

func channelDiff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
