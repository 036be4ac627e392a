package capture

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSurface drives the shared session state machine with synthetic frames
// so the contract can be exercised without a display server.
type fakeSurface struct {
	session
	displays []Display
	format   PixelFormat
}

func newFakeSurface(displays ...Display) *fakeSurface {
	if len(displays) == 0 {
		displays = []Display{{ID: 1, Name: "Fake Display", Width: 64, Height: 48, IsPrimary: true}}
	}
	return &fakeSurface{displays: displays, format: PixelFormatBGRA8}
}

func (f *fakeSurface) Displays() ([]Display, error) {
	return f.displays, nil
}

func (f *fakeSurface) CaptureFrame(displayID uint32) (*RawFrame, error) {
	d, ok := displayByID(f.displays, displayID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}
	return &RawFrame{
		Timestamp: time.Now().UnixMilli(),
		Width:     d.Width,
		Height:    d.Height,
		Data:      make([]byte, int(d.Width)*int(d.Height)*4),
		Format:    f.format,
	}, nil
}

func (f *fakeSurface) StartCapture(displayID uint32) error {
	displays, err := f.Displays()
	if err != nil {
		return err
	}
	if _, ok := displayByID(displays, displayID); !ok {
		return fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}
	return f.start(displayID, 60, f.CaptureFrame)
}

func (f *fakeSurface) StopCapture() error { return f.stopCapture() }

func (f *fakeSurface) IsCapturing() bool { return f.isCapturing() }

func (f *fakeSurface) CurrentDisplayID() (uint32, bool) { return f.currentDisplayID() }

func (f *fakeSurface) Frames() <-chan *RawFrame { return f.frameChannel() }

func (f *fakeSurface) Close() error { f.stopIfCapturing(); return nil }

func TestStateMachine(t *testing.T) {
	s := newFakeSurface()

	if s.IsCapturing() {
		t.Fatal("expected idle surface")
	}
	if _, ok := s.CurrentDisplayID(); ok {
		t.Fatal("expected no current display while idle")
	}
	if err := s.StopCapture(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("stop while idle: got %v, want ErrNotCapturing", err)
	}

	if err := s.StartCapture(1); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if !s.IsCapturing() {
		t.Fatal("expected capturing surface")
	}
	id, ok := s.CurrentDisplayID()
	if !ok || id != 1 {
		t.Fatalf("current display: got (%d, %t), want (1, true)", id, ok)
	}

	if err := s.StartCapture(1); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("start while capturing: got %v, want ErrAlreadyCapturing", err)
	}

	if err := s.StopCapture(); err != nil {
		t.Fatalf("stop capture: %v", err)
	}
	if s.IsCapturing() {
		t.Fatal("expected idle surface after stop")
	}
	if _, ok := s.CurrentDisplayID(); ok {
		t.Fatal("expected no current display after stop")
	}
	if err := s.StopCapture(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("second stop: got %v, want ErrNotCapturing", err)
	}
}

func TestConcurrentStopCalls(t *testing.T) {
	const (
		workers    = 8
		iterations = 200
	)
	s := newFakeSurface()

	for i := 0; i < iterations; i++ {
		if err := s.StartCapture(1); err != nil {
			t.Fatalf("iteration %d: start capture: %v", i, err)
		}

		results := make(chan error, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.StopCapture()
			}()
		}
		wg.Wait()
		close(results)

		// Exactly one caller wins the transition; the rest observe idle.
		var stopped int
		for err := range results {
			switch {
			case err == nil:
				stopped++
			case errors.Is(err, ErrNotCapturing):
			default:
				t.Fatalf("iteration %d: unexpected stop error: %v", i, err)
			}
		}
		if stopped != 1 {
			t.Fatalf("iteration %d: %d callers stopped the capture, want 1", i, stopped)
		}
		if s.IsCapturing() {
			t.Fatalf("iteration %d: surface still capturing after stop", i)
		}
	}
}

func TestFramesWhileIdleIsClosed(t *testing.T) {
	s := newFakeSurface()

	select {
	case _, ok := <-s.Frames():
		if ok {
			t.Fatal("idle frame channel delivered a frame")
		}
	case <-time.After(time.Second):
		t.Fatal("receive from idle frame channel blocked")
	}

	if err := s.StartCapture(1); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	if err := s.StopCapture(); err != nil {
		t.Fatalf("stop capture: %v", err)
	}

	// After a stop the surface is idle again and the contract holds.
	select {
	case _, ok := <-s.Frames():
		if ok {
			t.Fatal("post-stop frame channel delivered a frame")
		}
	case <-time.After(time.Second):
		t.Fatal("receive from post-stop frame channel blocked")
	}
}

func TestStartCaptureUnknownDisplay(t *testing.T) {
	s := newFakeSurface()
	if err := s.StartCapture(99); !errors.Is(err, ErrDisplayNotFound) {
		t.Fatalf("got %v, want ErrDisplayNotFound", err)
	}
	if s.IsCapturing() {
		t.Fatal("failed start must leave the surface idle")
	}
}

func TestContinuousCaptureDeliversFrames(t *testing.T) {
	s := newFakeSurface()
	if err := s.StartCapture(1); err != nil {
		t.Fatalf("start capture: %v", err)
	}
	defer s.StopCapture()

	select {
	case frame := <-s.Frames():
		if frame == nil {
			t.Fatal("frame channel closed unexpectedly")
		}
		if got, want := len(frame.Data), int(frame.Width)*int(frame.Height)*4; got != want {
			t.Fatalf("frame data length: got %d, want %d", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered within 2s")
	}
}

func TestFrameDataLengthPerFormat(t *testing.T) {
	for _, format := range []PixelFormat{PixelFormatRGBA8, PixelFormatBGRA8} {
		s := newFakeSurface()
		s.format = format
		frame, err := s.CaptureFrame(1)
		if err != nil {
			t.Fatalf("%s: capture frame: %v", format, err)
		}
		if got, want := len(frame.Data), int(frame.Width)*int(frame.Height)*4; got != want {
			t.Fatalf("%s: data length %d, want %d", format, got, want)
		}
	}
}

func TestPackUnpackDisplayID(t *testing.T) {
	cases := []struct {
		adapter uint16
		output  uint16
	}{
		{0, 0},
		{0, 1},
		{1, 0},
		{3, 7},
		{257, 513},
		{65535, 65535},
	}
	for _, tc := range cases {
		id := PackDisplayID(tc.adapter, tc.output)
		adapter, output := UnpackDisplayID(id)
		if adapter != tc.adapter || output != tc.output {
			t.Fatalf("(%d, %d) round-tripped to (%d, %d) via id %#x", tc.adapter, tc.output, adapter, output, id)
		}
	}
}

func TestPrimaryDisplay(t *testing.T) {
	s := newFakeSurface(
		Display{ID: 10, Name: "Secondary", Width: 800, Height: 600},
		Display{ID: 11, Name: "Main", Width: 1920, Height: 1080, IsPrimary: true},
	)
	d, err := PrimaryDisplay(s)
	if err != nil {
		t.Fatalf("primary display: %v", err)
	}
	if d.ID != 11 {
		t.Fatalf("got display %d, want 11", d.ID)
	}

	s = newFakeSurface(
		Display{ID: 20, Name: "A", Width: 800, Height: 600},
		Display{ID: 21, Name: "B", Width: 800, Height: 600},
	)
	d, err = PrimaryDisplay(s)
	if err != nil {
		t.Fatalf("primary display fallback: %v", err)
	}
	if d.ID != 20 {
		t.Fatalf("got display %d, want first display 20", d.ID)
	}
}
