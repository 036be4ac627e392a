package capture

// Display describes one attached display as reported by the current
// enumeration. IDs are only stable within a single enumeration snapshot on
// one running process; never persist them as durable identities.
type Display struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	IsPrimary bool   `json:"is_primary"`
}

// PixelFormat identifies the byte layout of a raw frame, 4 bytes per pixel.
type PixelFormat string

const (
	PixelFormatRGBA8 PixelFormat = "rgba8"
	PixelFormatBGRA8 PixelFormat = "bgra8"
)

// RawFrame is one uncompressed captured image. Data is tightly packed,
// row-major, len(Data) == Width*Height*4. Frames are produced by a Surface
// and consumed exactly once by the next pipeline stage.
type RawFrame struct {
	Timestamp int64 // milliseconds since the Unix epoch
	Width     uint32
	Height    uint32
	Data      []byte
	Format    PixelFormat
}

// Surface is the capability contract every platform backend implements.
// Exactly one concrete implementation is selected per target OS.
type Surface interface {
	// Displays enumerates attached displays fresh on every call.
	Displays() ([]Display, error)

	// CaptureFrame captures a single frame of the given display.
	CaptureFrame(displayID uint32) (*RawFrame, error)

	// StartCapture begins continuous capture of the given display. The id is
	// re-validated against a fresh enumeration before the transition.
	StartCapture(displayID uint32) error

	// StopCapture ends continuous capture and closes the frame channel.
	StopCapture() error

	// IsCapturing reports whether a continuous capture is active.
	IsCapturing() bool

	// CurrentDisplayID returns the display id of the active capture, if any.
	CurrentDisplayID() (uint32, bool)

	// Frames returns the channel continuous capture publishes on. Slow
	// consumers cause frames to be dropped, never a stalled capture loop.
	// While no capture is active it returns an already closed channel.
	Frames() <-chan *RawFrame

	// Close releases backend resources. The Surface is unusable afterwards.
	Close() error
}

// Options tunes a capture backend. The zero value is usable.
type Options struct {
	// FPS paces the continuous capture loop. Defaults to 30.
	FPS int
}

// New returns the capture backend for the current platform with defaults.
func New() (Surface, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions returns the capture backend for the current platform.
func NewWithOptions(opts Options) (Surface, error) {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return newPlatformSurface(opts)
}

// PrimaryDisplay returns the display flagged primary, or the first one when
// no backend reports a primary flag.
func PrimaryDisplay(s Surface) (Display, error) {
	displays, err := s.Displays()
	if err != nil {
		return Display{}, err
	}
	if len(displays) == 0 {
		return Display{}, ErrDisplayNotFound
	}
	for _, d := range displays {
		if d.IsPrimary {
			return d, nil
		}
	}
	return displays[0], nil
}

// PackDisplayID packs an adapter index (high half) and an output index (low
// half) into one 32-bit display id, so a display can be traced back to its
// adapter/output pair.
func PackDisplayID(adapter, output uint16) uint32 {
	return uint32(adapter)<<16 | uint32(output)
}

// UnpackDisplayID reverses PackDisplayID.
func UnpackDisplayID(id uint32) (adapter, output uint16) {
	return uint16(id >> 16), uint16(id & 0xffff)
}

func displayByID(displays []Display, id uint32) (Display, bool) {
	for _, d := range displays {
		if d.ID == id {
			return d, true
		}
	}
	return Display{}, false
}
