// Package encoding turns accepted raw frames into finalized H.264/MP4
// segments through libav.
package encoding

import "errors"

// ErrEncodingFailed wraps every failure surfaced by this package.
var ErrEncodingFailed = errors.New("encoding failed")

// VideoSegment describes one finalized, independently playable output file.
// It is created only after a successful encode and finalize, and is immutable
// once returned; persistence is the caller's responsibility.
type VideoSegment struct {
	Path           string `json:"path"`
	StartTimestamp int64  `json:"start_timestamp"`
	EndTimestamp   int64  `json:"end_timestamp"`
	FrameCount     int    `json:"frame_count"`
	DurationMS     int64  `json:"duration_ms"`
	FileSizeBytes  int64  `json:"file_size_bytes"`
}
