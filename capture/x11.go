//go:build linux

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

// x11Surface captures through the X11 protocol. Monitor geometry comes from
// the RandR extension when the server has it, otherwise the whole virtual
// screen is reported as one display.
type x11Surface struct {
	session
	opts         Options
	conn         *xgb.Conn
	screen       *xproto.ScreenInfo
	root         xproto.Window
	randrEnabled bool
	bitsPerPixel int
	connMu       sync.Mutex
}

// x11Monitor pairs a Display with its position on the virtual screen.
type x11Monitor struct {
	Display
	x int16
	y int16
}

func newX11Surface(opts Options) (*x11Surface, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to X server: %v", ErrCaptureFailed, err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	s := &x11Surface{
		opts:         opts,
		conn:         conn,
		screen:       screen,
		root:         screen.Root,
		bitsPerPixel: 32,
	}

	log := logger.WithComponent("x11-capture")

	// The server advertises the ZPixmap packing for the root depth in its
	// pixmap formats; depth 24 data may arrive as 3 bytes per pixel or as
	// 4 with a padding byte.
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			s.bitsPerPixel = int(f.BitsPerPixel)
			break
		}
	}

	if err := randr.Init(conn); err != nil {
		log.Warn().Err(err).Msg("RandR extension not available, reporting one virtual screen")
		s.randrEnabled = false
	} else {
		s.randrEnabled = true
	}

	log.Info().
		Uint8("root_depth", screen.RootDepth).
		Int("bits_per_pixel", s.bitsPerPixel).
		Bool("randr", s.randrEnabled).
		Msg("X11 capture initialized")

	return s, nil
}

// Displays enumerates monitors fresh on every call.
func (s *x11Surface) Displays() ([]Display, error) {
	monitors, err := s.monitors()
	if err != nil {
		return nil, err
	}
	displays := make([]Display, len(monitors))
	for i, m := range monitors {
		displays[i] = m.Display
	}
	return displays, nil
}

func (s *x11Surface) monitors() ([]x11Monitor, error) {
	if s.randrEnabled {
		if monitors := s.randrMonitors(); len(monitors) > 0 {
			return monitors, nil
		}
	}
	// Fallback: the whole virtual screen as one display.
	return []x11Monitor{{
		Display: Display{
			ID:        0,
			Name:      "X11 Screen",
			Width:     uint32(s.screen.WidthInPixels),
			Height:    uint32(s.screen.HeightInPixels),
			IsPrimary: true,
		},
	}}, nil
}

func (s *x11Surface) randrMonitors() []x11Monitor {
	res, err := randr.GetScreenResourcesCurrent(s.conn, s.root).Reply()
	if err != nil {
		logger.WithComponent("x11-capture").Warn().Err(err).Msg("RandR screen resources query failed")
		return nil
	}

	var primaryOutput randr.Output
	if primary, err := randr.GetOutputPrimary(s.conn, s.root).Reply(); err == nil {
		primaryOutput = primary.Output
	}

	var monitors []x11Monitor
	for _, output := range res.Outputs {
		info, err := randr.GetOutputInfo(s.conn, output, 0).Reply()
		if err != nil || info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		crtc, err := randr.GetCrtcInfo(s.conn, info.Crtc, 0).Reply()
		if err != nil || crtc.Width == 0 || crtc.Height == 0 {
			continue
		}
		monitors = append(monitors, x11Monitor{
			Display: Display{
				ID:        uint32(len(monitors)),
				Name:      string(info.Name),
				Width:     uint32(crtc.Width),
				Height:    uint32(crtc.Height),
				IsPrimary: output == primaryOutput,
			},
			x: crtc.X,
			y: crtc.Y,
		})
	}
	return monitors
}

// CaptureFrame captures a single frame of the given display.
func (s *x11Surface) CaptureFrame(displayID uint32) (*RawFrame, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	monitors, err := s.monitors()
	if err != nil {
		return nil, err
	}
	var target *x11Monitor
	for i := range monitors {
		if monitors[i].ID == displayID {
			target = &monitors[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}

	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		target.x, target.y,
		uint16(target.Width), uint16(target.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: GetImage: %v", ErrCaptureFailed, err)
	}

	data, err := s.convertZPixmap(reply.Data, int(target.Width), int(target.Height))
	if err != nil {
		return nil, err
	}

	return &RawFrame{
		Timestamp: time.Now().UnixMilli(),
		Width:     target.Width,
		Height:    target.Height,
		Data:      data,
		Format:    PixelFormatBGRA8,
	}, nil
}

// convertZPixmap repacks server pixel data into tight BGRA8, handling both
// 32-bit pixels and 24-bit pixels carried with padding.
func (s *x11Surface) convertZPixmap(data []byte, width, height int) ([]byte, error) {
	bytesPerPixel := s.bitsPerPixel / 8
	if bytesPerPixel < 3 {
		return nil, fmt.Errorf("%w: unsupported root depth %d bpp", ErrCaptureFailed, s.bitsPerPixel)
	}
	if height <= 0 || len(data) < width*height*bytesPerPixel {
		return nil, fmt.Errorf("%w: short GetImage reply (%d bytes for %dx%d)", ErrCaptureFailed, len(data), width, height)
	}

	stride := len(data) / height
	out := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			si := x * bytesPerPixel
			di := (y*width + x) * 4
			out[di] = row[si]     // B
			out[di+1] = row[si+1] // G
			out[di+2] = row[si+2] // R
			out[di+3] = 0xff
		}
	}
	return out, nil
}

// StartCapture begins continuous capture after re-validating the id.
func (s *x11Surface) StartCapture(displayID uint32) error {
	displays, err := s.Displays()
	if err != nil {
		return err
	}
	if _, ok := displayByID(displays, displayID); !ok {
		return fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}
	return s.start(displayID, s.opts.FPS, s.CaptureFrame)
}

func (s *x11Surface) StopCapture() error {
	return s.stopCapture()
}

func (s *x11Surface) IsCapturing() bool {
	return s.isCapturing()
}

func (s *x11Surface) CurrentDisplayID() (uint32, bool) {
	return s.currentDisplayID()
}

func (s *x11Surface) Frames() <-chan *RawFrame {
	return s.frameChannel()
}

// Close stops any active capture and closes the X connection.
func (s *x11Surface) Close() error {
	s.stopIfCapturing()
	s.conn.Close()
	return nil
}
