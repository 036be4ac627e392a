package config

import (
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	settings := Default()
	if err := settings.Validate(); err != nil {
		t.Fatalf("default settings must validate: %v", err)
	}
	if settings.Capture.FPS != 30 {
		t.Fatalf("capture fps: got %d, want 30", settings.Capture.FPS)
	}
	if settings.Motion.Threshold != 0.02 || settings.Motion.PixelDelta != 30 {
		t.Fatalf("motion defaults: got %+v", settings.Motion)
	}
	if settings.Encoding.CRF != 23 || settings.Encoding.Preset != "ultrafast" {
		t.Fatalf("encoding defaults: got %+v", settings.Encoding)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	settings, err := Parse([]byte(`
capture:
  fps: 15
motion:
  threshold: 0.1
encoding:
  crf: 28
  preset: medium
  hardware: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if settings.Capture.FPS != 15 {
		t.Fatalf("capture fps: got %d, want 15", settings.Capture.FPS)
	}
	if settings.Motion.Threshold != 0.1 {
		t.Fatalf("motion threshold: got %v, want 0.1", settings.Motion.Threshold)
	}
	// Unset keys keep their defaults.
	if settings.Motion.PixelDelta != 30 {
		t.Fatalf("motion pixel delta: got %d, want default 30", settings.Motion.PixelDelta)
	}
	if settings.Encoding.CRF != 28 || settings.Encoding.Preset != "medium" || !settings.Encoding.Hardware {
		t.Fatalf("encoding: got %+v", settings.Encoding)
	}
	if settings.Encoding.FPS != 30 {
		t.Fatalf("encoding fps: got %d, want default 30", settings.Encoding.FPS)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero capture fps", "capture:\n  fps: 0\n", "capture.fps"},
		{"excessive capture fps", "capture:\n  fps: 500\n", "capture.fps"},
		{"negative threshold", "motion:\n  threshold: -0.5\n", "motion.threshold"},
		{"threshold above one", "motion:\n  threshold: 1.5\n", "motion.threshold"},
		{"crf out of range", "encoding:\n  crf: 99\n", "encoding.crf"},
		{"zero encoding fps", "encoding:\n  fps: 0\n", "encoding.fps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q must name %s", err, tc.want)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("capture: [")); err == nil {
		t.Fatal("expected a parse error")
	}
}
