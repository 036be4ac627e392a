package capture

import (
	"sync"
	"time"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

const frameChannelDepth = 8

// idleFrames is what Frames returns while no capture is active: already
// closed, so receives and ranges terminate immediately instead of blocking
// on a nil channel.
var idleFrames = func() chan *RawFrame {
	ch := make(chan *RawFrame)
	close(ch)
	return ch
}()

// session implements the Idle/Capturing state machine shared by every
// backend. State is per-instance and guarded by a mutex so independent
// surfaces never interfere with each other.
type session struct {
	mu        sync.Mutex
	capturing bool
	displayID uint32
	frames    chan *RawFrame
	stop      chan struct{}
	done      chan struct{}
}

type grabFunc func(displayID uint32) (*RawFrame, error)

// start transitions Idle -> Capturing and launches the paced capture loop.
// The caller has already validated displayID against a fresh enumeration.
func (s *session) start(displayID uint32, fps int, grab grabFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return ErrAlreadyCapturing
	}
	if fps <= 0 {
		fps = 30
	}

	s.capturing = true
	s.displayID = displayID
	s.frames = make(chan *RawFrame, frameChannelDepth)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(displayID, fps, grab, s.frames, s.stop, s.done)
	return nil
}

func (s *session) loop(displayID uint32, fps int, grab grabFunc, frames chan *RawFrame, stop, done chan struct{}) {
	log := logger.WithComponent("capture")
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	defer close(done)
	defer close(frames)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := grab(displayID)
			if err != nil {
				log.Warn().Err(err).Uint32("display_id", displayID).Msg("continuous capture frame failed")
				continue
			}
			select {
			case frames <- frame:
			default:
				// Consumer is behind; drop rather than stall the loop.
			}
		}
	}
}

// stopCapture transitions Capturing -> Idle and waits for the loop to exit.
// The transition is claimed under the lock, so of two concurrent callers
// exactly one closes the stop channel and the other gets ErrNotCapturing.
func (s *session) stopCapture() error {
	s.mu.Lock()
	if !s.capturing {
		s.mu.Unlock()
		return ErrNotCapturing
	}
	stop := s.stop
	done := s.done
	s.capturing = false
	s.displayID = 0
	s.frames = nil
	s.stop = nil
	s.done = nil
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (s *session) isCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

func (s *session) currentDisplayID() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing {
		return 0, false
	}
	return s.displayID, true
}

func (s *session) frameChannel() <-chan *RawFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		return idleFrames
	}
	return s.frames
}

// stopIfCapturing is the Close path: best effort, no protocol error when idle.
func (s *session) stopIfCapturing() {
	if s.isCapturing() {
		_ = s.stopCapture()
	}
}
