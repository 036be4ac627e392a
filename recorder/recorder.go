// Package recorder composes the capture surface with an external consent
// gate and owns the top-level recording lifecycle.
package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/SOURCE-Platform/screencore/capture"
	"github.com/SOURCE-Platform/screencore/internal/logger"
)

// FeatureScreenRecording is the only consent feature tag this core queries.
const FeatureScreenRecording = "screen_recording"

// ConsentGate is the external collaborator that decides whether a capability
// may be used. Policy storage lives outside this core.
type ConsentGate interface {
	IsConsentGranted(ctx context.Context, feature string) bool
}

// Status is a freshly computed snapshot of the recorder. DisplayName is
// resolved through a new enumeration on every call because display
// configuration can change between calls.
type Status struct {
	IsRecording bool   `json:"is_recording"`
	DisplayID   uint32 `json:"display_id"`
	DisplayName string `json:"display_name"`
	HasConsent  bool   `json:"has_consent"`
}

// Recorder serializes start/stop/status for exactly one capture session.
type Recorder struct {
	mu      sync.Mutex
	surface capture.Surface
	gate    ConsentGate
}

// New creates a recorder over the given capture surface and consent gate.
func New(surface capture.Surface, gate ConsentGate) *Recorder {
	return &Recorder{
		surface: surface,
		gate:    gate,
	}
}

// StartRecording checks consent, re-validates the display id against a fresh
// enumeration, and starts continuous capture.
func (r *Recorder) StartRecording(ctx context.Context, displayID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.gate.IsConsentGranted(ctx, FeatureScreenRecording) {
		return fmt.Errorf("%w: screen recording consent has not been granted; enable the screen recording capability and try again", capture.ErrPermissionDenied)
	}

	displays, err := r.surface.Displays()
	if err != nil {
		return err
	}
	found := false
	for _, d := range displays {
		if d.ID == displayID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: id %d", capture.ErrDisplayNotFound, displayID)
	}

	if err := r.surface.StartCapture(displayID); err != nil {
		return err
	}
	logger.WithComponent("recorder").Info().Uint32("display_id", displayID).Msg("recording started")
	return nil
}

// StopRecording stops the active capture.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.surface.StopCapture(); err != nil {
		return err
	}
	logger.WithComponent("recorder").Info().Msg("recording stopped")
	return nil
}

// Frames exposes the surface's continuous capture channel.
func (r *Recorder) Frames() <-chan *capture.RawFrame {
	return r.surface.Frames()
}

// GetStatus returns a freshly computed snapshot; nothing is cached.
func (r *Recorder) GetStatus(ctx context.Context) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		IsRecording: r.surface.IsCapturing(),
		HasConsent:  r.gate.IsConsentGranted(ctx, FeatureScreenRecording),
	}
	if id, ok := r.surface.CurrentDisplayID(); ok {
		status.DisplayID = id
		if displays, err := r.surface.Displays(); err == nil {
			for _, d := range displays {
				if d.ID == id {
					status.DisplayName = d.Name
					break
				}
			}
		}
	}
	return status
}
