//go:build linux

package capture

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
)

// waylandSurface is a declared capability stub. Wayland compositors do not
// expose the framebuffer directly; real capture needs an xdg-desktop-portal
// ScreenCast session feeding a PipeWire stream, which this core does not
// integrate. Enumeration reports one placeholder display and every capture
// fails with ErrNotSupported carrying portal diagnostics.
type waylandSurface struct {
	session
	portalInfo string
}

func newWaylandSurface(_ Options) (*waylandSurface, error) {
	s := &waylandSurface{
		portalInfo: probeScreenCastPortal(),
	}
	logger.WithComponent("wayland-capture").Warn().
		Str("portal", s.portalInfo).
		Msg("Wayland capture is not implemented; a ScreenCast portal integration is required")
	return s, nil
}

// probeScreenCastPortal asks the session bus whether a ScreenCast portal is
// present, purely to make the NotSupported error actionable.
func probeScreenCastPortal() string {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Sprintf("session bus unavailable (%v)", err)
	}
	defer conn.Close()

	obj := conn.Object(portalService, portalPath)
	variant, err := obj.GetProperty(screenCastIface + ".version")
	if err != nil {
		return "ScreenCast portal not found on session bus"
	}
	var version uint32
	if err := variant.Store(&version); err != nil {
		return "ScreenCast portal present (unknown version)"
	}
	return fmt.Sprintf("ScreenCast portal present (version %d)", version)
}

// Displays reports one placeholder display; Wayland offers no direct
// enumeration without a portal session.
func (s *waylandSurface) Displays() ([]Display, error) {
	return []Display{{
		ID:        0,
		Name:      "Wayland Display",
		Width:     1920,
		Height:    1080,
		IsPrimary: true,
	}}, nil
}

func (s *waylandSurface) CaptureFrame(displayID uint32) (*RawFrame, error) {
	return nil, s.unsupported()
}

func (s *waylandSurface) StartCapture(displayID uint32) error {
	return s.unsupported()
}

func (s *waylandSurface) StopCapture() error {
	return ErrNotCapturing
}

func (s *waylandSurface) IsCapturing() bool {
	return false
}

func (s *waylandSurface) CurrentDisplayID() (uint32, bool) {
	return 0, false
}

func (s *waylandSurface) Frames() <-chan *RawFrame {
	return nil
}

func (s *waylandSurface) Close() error {
	return nil
}

func (s *waylandSurface) unsupported() error {
	return fmt.Errorf("%w: Wayland screen capture requires an xdg-desktop-portal ScreenCast + PipeWire integration; %s", ErrNotSupported, s.portalInfo)
}
