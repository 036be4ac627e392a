//go:build !linux && !windows && !darwin

package capture

import "fmt"

func newPlatformSurface(_ Options) (Surface, error) {
	return nil, fmt.Errorf("%w: no capture backend for this platform", ErrNotSupported)
}
