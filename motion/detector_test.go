package motion

import (
	"image"
	"testing"

	"github.com/SOURCE-Platform/screencore/capture"
)

func solidFrame(width, height uint32, value byte) *capture.RawFrame {
	data := make([]byte, int(width)*int(height)*4)
	for i := range data {
		data[i] = value
	}
	return &capture.RawFrame{
		Timestamp: 0,
		Width:     width,
		Height:    height,
		Data:      data,
		Format:    capture.PixelFormatRGBA8,
	}
}

// alterPixels raises all channels of the first n pixels well beyond the
// per-channel change threshold.
func alterPixels(frame *capture.RawFrame, n int) {
	for p := 0; p < n; p++ {
		i := p * 4
		frame.Data[i] += 100
		frame.Data[i+1] += 100
		frame.Data[i+2] += 100
	}
}

func mustDetector(t *testing.T, threshold float64) *Detector {
	t.Helper()
	d, err := NewDetector(threshold)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	return d
}

func TestFirstCallReportsFullFrameMotion(t *testing.T) {
	d := mustDetector(t, 0.5)
	result, err := d.Detect(solidFrame(100, 80, 10))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !result.HasMotion {
		t.Fatal("first call must report motion")
	}
	if result.ChangedPercentage != 1.0 {
		t.Fatalf("changed percentage: got %v, want 1.0", result.ChangedPercentage)
	}
	if len(result.BoundingBoxes) != 1 || result.BoundingBoxes[0] != image.Rect(0, 0, 100, 80) {
		t.Fatalf("expected one full-frame box, got %v", result.BoundingBoxes)
	}
}

func TestIdenticalFramesReportNoMotion(t *testing.T) {
	d := mustDetector(t, 0.01)
	if _, err := d.Detect(solidFrame(64, 64, 50)); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	result, err := d.Detect(solidFrame(64, 64, 50))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if result.HasMotion {
		t.Fatal("identical frames must not report motion")
	}
	if result.ChangedPercentage != 0.0 {
		t.Fatalf("changed percentage: got %v, want 0.0", result.ChangedPercentage)
	}
	if len(result.BoundingBoxes) != 0 {
		t.Fatalf("expected no boxes, got %v", result.BoundingBoxes)
	}
}

func TestThresholdGatesSameChange(t *testing.T) {
	// 5% of pixels altered: motion at a 1% threshold, none at 50%.
	cases := []struct {
		threshold float64
		want      bool
	}{
		{0.01, true},
		{0.50, false},
	}
	for _, tc := range cases {
		d := mustDetector(t, tc.threshold)
		base := solidFrame(100, 100, 40)
		if _, err := d.Detect(base); err != nil {
			t.Fatalf("baseline: %v", err)
		}
		next := solidFrame(100, 100, 40)
		alterPixels(next, 500) // 5% of 10000
		result, err := d.Detect(next)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if result.HasMotion != tc.want {
			t.Fatalf("threshold %v: has_motion %t, want %t (changed %v)", tc.threshold, result.HasMotion, tc.want, result.ChangedPercentage)
		}
	}
}

func TestDimensionChangeResetsBaseline(t *testing.T) {
	d := mustDetector(t, 0.5)
	if _, err := d.Detect(solidFrame(64, 64, 0)); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	result, err := d.Detect(solidFrame(32, 32, 0))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !result.HasMotion || result.ChangedPercentage != 1.0 {
		t.Fatalf("dimension change must report full-frame motion, got %+v", result)
	}
	if len(result.BoundingBoxes) != 1 || result.BoundingBoxes[0] != image.Rect(0, 0, 32, 32) {
		t.Fatalf("expected one full-frame box for the new dimensions, got %v", result.BoundingBoxes)
	}
}

func TestResetForcesFirstCallBehavior(t *testing.T) {
	d := mustDetector(t, 0.01)
	if _, err := d.Detect(solidFrame(64, 64, 0)); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	d.Reset()
	result, err := d.Detect(solidFrame(64, 64, 0))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !result.HasMotion || result.ChangedPercentage != 1.0 {
		t.Fatalf("post-reset call must behave like a first call, got %+v", result)
	}
}

func TestBoundingBoxesPerActiveCell(t *testing.T) {
	d := mustDetector(t, 0.001)
	base := solidFrame(100, 100, 0)
	if _, err := d.Detect(base); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	// Fully change two horizontally adjacent grid cells: (1,1) and (2,1).
	next := solidFrame(100, 100, 0)
	for y := 10; y < 20; y++ {
		for x := 10; x < 30; x++ {
			i := (y*100 + x) * 4
			next.Data[i] = 200
		}
	}
	result, err := d.Detect(next)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !result.HasMotion {
		t.Fatal("expected motion")
	}
	// Adjacent active cells stay separate boxes, one per cell.
	want := []image.Rectangle{
		image.Rect(10, 10, 20, 20),
		image.Rect(20, 10, 30, 20),
	}
	if len(result.BoundingBoxes) != len(want) {
		t.Fatalf("got %d boxes %v, want %d", len(result.BoundingBoxes), result.BoundingBoxes, len(want))
	}
	for i, box := range want {
		if result.BoundingBoxes[i] != box {
			t.Fatalf("box %d: got %v, want %v", i, result.BoundingBoxes[i], box)
		}
	}
}

func TestNoBoxesWithoutMotion(t *testing.T) {
	d := mustDetector(t, 0.5)
	base := solidFrame(100, 100, 0)
	if _, err := d.Detect(base); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	next := solidFrame(100, 100, 0)
	alterPixels(next, 100) // 1%, below the 50% threshold
	result, err := d.Detect(next)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if result.HasMotion {
		t.Fatal("expected no motion")
	}
	if result.BoundingBoxes != nil {
		t.Fatalf("boxes must only be computed when motion is reported, got %v", result.BoundingBoxes)
	}
}

func TestInvalidInputs(t *testing.T) {
	if _, err := NewDetector(-0.1); err == nil {
		t.Fatal("negative threshold must be rejected")
	}
	if _, err := NewDetector(1.5); err == nil {
		t.Fatal("threshold above 1 must be rejected")
	}

	d := mustDetector(t, 0.1)
	bad := solidFrame(10, 10, 0)
	bad.Data = bad.Data[:10]
	if _, err := d.Detect(bad); err == nil {
		t.Fatal("short frame data must be rejected")
	}
	if _, err := d.Detect(nil); err == nil {
		t.Fatal("nil frame must be rejected")
	}
}
