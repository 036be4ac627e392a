//go:build linux

package capture

import (
	"os"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

// newPlatformSurface selects the Linux backend from session environment
// signals: a Wayland compositor advertises WAYLAND_DISPLAY, a legacy X11
// session advertises DISPLAY.
func newPlatformSurface(opts Options) (Surface, error) {
	log := logger.WithComponent("capture")

	if os.Getenv("WAYLAND_DISPLAY") != "" {
		log.Info().Msg("Wayland session detected")
		return newWaylandSurface(opts)
	}

	log.Info().Str("display", os.Getenv("DISPLAY")).Msg("X11 session detected")
	return newX11Surface(opts)
}
