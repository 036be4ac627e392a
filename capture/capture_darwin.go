//go:build darwin

package capture

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <stdlib.h>
#include <string.h>
#include <CoreGraphics/CoreGraphics.h>

// captureDisplayCopy captures one frame of the display and returns a
// malloc'd, tightly packed BGRA buffer of *outWidth x *outHeight pixels.
// Returns NULL when no image can be obtained, which on macOS means the
// screen recording permission has not been granted.
static uint8_t *captureDisplayCopy(uint32_t display, size_t *outWidth, size_t *outHeight) {
	CGImageRef image = CGDisplayCreateImage((CGDirectDisplayID)display);
	if (image == NULL) {
		return NULL;
	}

	size_t width = CGImageGetWidth(image);
	size_t height = CGImageGetHeight(image);
	size_t bytesPerRow = CGImageGetBytesPerRow(image);

	CGDataProviderRef provider = CGImageGetDataProvider(image);
	CFDataRef data = CGDataProviderCopyData(provider);
	if (data == NULL) {
		CGImageRelease(image);
		return NULL;
	}

	const uint8_t *src = CFDataGetBytePtr(data);
	size_t rowLen = width * 4;
	uint8_t *dest = (uint8_t *)malloc(rowLen * height);
	if (dest == NULL) {
		CFRelease(data);
		CGImageRelease(image);
		return NULL;
	}

	if (bytesPerRow == rowLen) {
		memcpy(dest, src, rowLen * height);
	} else {
		// The backing store pads rows; copy row by row to strip it.
		for (size_t y = 0; y < height; y++) {
			memcpy(dest + y * rowLen, src + y * bytesPerRow, rowLen);
		}
	}

	*outWidth = width;
	*outHeight = height;
	CFRelease(data);
	CGImageRelease(image);
	return dest;
}
*/
import "C"

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

const maxDarwinDisplays = 16

// darwinSurface captures through CoreGraphics. There is no separate
// permission API here: permission is probed opportunistically by attempting
// to capture, and a missing image is treated as permission absent.
type darwinSurface struct {
	session
	opts Options
}

func newPlatformSurface(opts Options) (Surface, error) {
	logger.WithComponent("darwin-capture").Info().Msg("CoreGraphics capture initialized")
	return &darwinSurface{opts: opts}, nil
}

// Displays enumerates active displays fresh on every call.
func (s *darwinSurface) Displays() ([]Display, error) {
	var ids [maxDarwinDisplays]C.CGDirectDisplayID
	var count C.uint32_t
	if ret := C.CGGetActiveDisplayList(maxDarwinDisplays, &ids[0], &count); ret != C.kCGErrorSuccess {
		return nil, fmt.Errorf("%w: CGGetActiveDisplayList returned %d", ErrCaptureFailed, int(ret))
	}

	displays := make([]Display, 0, int(count))
	for i := 0; i < int(count); i++ {
		id := ids[i]
		displays = append(displays, Display{
			ID:        uint32(id),
			Name:      fmt.Sprintf("Display %d", i+1),
			Width:     uint32(C.CGDisplayPixelsWide(id)),
			Height:    uint32(C.CGDisplayPixelsHigh(id)),
			IsPrimary: C.CGDisplayIsMain(id) != 0,
		})
	}
	return displays, nil
}

// CaptureFrame captures a single frame of the given display.
func (s *darwinSurface) CaptureFrame(displayID uint32) (*RawFrame, error) {
	displays, err := s.Displays()
	if err != nil {
		return nil, err
	}
	if _, ok := displayByID(displays, displayID); !ok {
		return nil, fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}

	var width, height C.size_t
	buf := C.captureDisplayCopy(C.uint32_t(displayID), &width, &height)
	if buf == nil {
		// CGDisplayCreateImage yields nothing without the screen recording
		// permission; there is no other signal to distinguish.
		return nil, fmt.Errorf("%w: unable to obtain display image; grant Screen Recording permission in System Settings", ErrPermissionDenied)
	}
	defer C.free(unsafe.Pointer(buf))

	size := int(width) * int(height) * 4
	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(buf), size))

	return &RawFrame{
		Timestamp: time.Now().UnixMilli(),
		Width:     uint32(width),
		Height:    uint32(height),
		Data:      data,
		Format:    PixelFormatBGRA8,
	}, nil
}

// StartCapture begins continuous capture after re-validating the id.
func (s *darwinSurface) StartCapture(displayID uint32) error {
	displays, err := s.Displays()
	if err != nil {
		return err
	}
	if _, ok := displayByID(displays, displayID); !ok {
		return fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}
	return s.start(displayID, s.opts.FPS, s.CaptureFrame)
}

func (s *darwinSurface) StopCapture() error {
	return s.stopCapture()
}

func (s *darwinSurface) IsCapturing() bool {
	return s.isCapturing()
}

func (s *darwinSurface) CurrentDisplayID() (uint32, bool) {
	return s.currentDisplayID()
}

func (s *darwinSurface) Frames() <-chan *RawFrame {
	return s.frameChannel()
}

func (s *darwinSurface) Close() error {
	s.stopIfCapturing()
	return nil
}
