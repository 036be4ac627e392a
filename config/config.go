// Package config owns the settings schema for the capture/encoding core.
// Loading bytes from disk, flags, or environment is the embedding
// application's concern; this package defines defaults and validation.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings is the full configuration of the core.
type Settings struct {
	Capture  CaptureSettings  `yaml:"capture"`
	Motion   MotionSettings   `yaml:"motion"`
	Encoding EncodingSettings `yaml:"encoding"`
}

// CaptureSettings paces continuous capture.
type CaptureSettings struct {
	FPS int `yaml:"fps"`
}

// MotionSettings tunes the frame comparator.
type MotionSettings struct {
	// Threshold is the minimum fraction of changed pixels, in [0, 1], for a
	// frame to count as containing motion.
	Threshold float64 `yaml:"threshold"`
	// PixelDelta is the per-channel difference beyond which a pixel counts
	// as changed.
	PixelDelta uint8 `yaml:"pixel_delta"`
}

// EncodingSettings tunes the video encoder.
type EncodingSettings struct {
	CRF      int    `yaml:"crf"`
	Preset   string `yaml:"preset"`
	FPS      int    `yaml:"fps"`
	Hardware bool   `yaml:"hardware"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Capture: CaptureSettings{
			FPS: 30,
		},
		Motion: MotionSettings{
			Threshold:  0.02,
			PixelDelta: 30,
		},
		Encoding: EncodingSettings{
			CRF:    23,
			Preset: "ultrafast",
			FPS:    30,
		},
	}
}

// Parse unmarshals YAML over the defaults and validates the result.
func Parse(data []byte) (Settings, error) {
	settings := Default()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate rejects settings the pipeline cannot run with.
func (s Settings) Validate() error {
	if s.Capture.FPS <= 0 || s.Capture.FPS > 240 {
		return fmt.Errorf("capture.fps must be in 1..240, got %d", s.Capture.FPS)
	}
	if s.Motion.Threshold < 0 || s.Motion.Threshold > 1 {
		return fmt.Errorf("motion.threshold must be in [0, 1], got %v", s.Motion.Threshold)
	}
	if s.Encoding.CRF < 0 || s.Encoding.CRF > 51 {
		return fmt.Errorf("encoding.crf must be in 0..51, got %d", s.Encoding.CRF)
	}
	if s.Encoding.FPS <= 0 || s.Encoding.FPS > 240 {
		return fmt.Errorf("encoding.fps must be in 1..240, got %d", s.Encoding.FPS)
	}
	return nil
}
