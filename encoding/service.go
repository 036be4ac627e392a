package encoding

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/SOURCE-Platform/screencore/capture"
	"github.com/SOURCE-Platform/screencore/internal/logger"
)

const softwareCodecName = "libx264"

// hardwareCodecName resolves the platform-specific hardware encoder name.
func hardwareCodecName(goos string) string {
	switch goos {
	case "darwin":
		return "h264_videotoolbox"
	case "windows":
		return "h264_nvenc"
	default:
		return "h264_vaapi"
	}
}

// frameEncoder is the slice of Encoder the service drives; injectable so
// tests can run without a libav runtime.
type frameEncoder interface {
	EncodeFrame(frame *capture.RawFrame) error
	Finish() error
	Close()
}

type encoderFactory func(cfg EncoderConfig) (frameEncoder, error)

func defaultEncoderFactory(cfg EncoderConfig) (frameEncoder, error) {
	return NewEncoder(cfg)
}

// ServiceOptions tunes the encoding service. The zero value encodes with the
// software encoder at CRF 23.
type ServiceOptions struct {
	// Hardware requests the platform hardware encoder, with exactly one
	// fallback to the software encoder if it fails to initialize.
	Hardware bool
	CRF      int
	Preset   string
}

// Service is the batch/stream encoding orchestrator: codec-name resolution,
// hardware-to-software fallback, and segment metadata assembly.
type Service struct {
	opts          ServiceOptions
	newEncoder    encoderFactory
	hardwareCodec func() string
}

// NewService creates an encoding service.
func NewService(opts ServiceOptions) *Service {
	if opts.CRF <= 0 {
		opts.CRF = 23
	}
	if opts.Preset == "" {
		opts.Preset = "ultrafast"
	}
	return &Service{
		opts:          opts,
		newEncoder:    defaultEncoderFactory,
		hardwareCodec: func() string { return hardwareCodecName(runtime.GOOS) },
	}
}

// EncodeFrames encodes the frames into one MP4 segment at outputPath.
// Segment bounds come from the first and last frame's own timestamps. The
// native encode loop is CPU-bound and synchronous, so it runs on its own
// goroutine, never on the caller's orchestration context.
func (s *Service) EncodeFrames(ctx context.Context, frames []*capture.RawFrame, outputPath string, fps int) (*VideoSegment, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames provided", ErrEncodingFailed)
	}

	type encodeResult struct {
		segment *VideoSegment
		err     error
	}
	resCh := make(chan encodeResult, 1)
	go func() {
		segment, err := s.encodeBatch(frames, outputPath, fps)
		resCh <- encodeResult{segment: segment, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		return res.segment, res.err
	}
}

// EncodeFrameStream drains the channel to completion, preserving arrival
// order, then encodes the collected frames as one batch. Backpressure on the
// channel is the producer's responsibility.
func (s *Service) EncodeFrameStream(ctx context.Context, frames <-chan *capture.RawFrame, outputPath string, fps int) (*VideoSegment, error) {
	var collected []*capture.RawFrame
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return s.EncodeFrames(ctx, collected, outputPath, fps)
			}
			collected = append(collected, frame)
		}
	}
}

func (s *Service) encodeBatch(frames []*capture.RawFrame, outputPath string, fps int) (*VideoSegment, error) {
	log := logger.WithComponent("encoding")

	first := frames[0]
	cfg := EncoderConfig{
		OutputPath:  outputPath,
		Width:       int(first.Width),
		Height:      int(first.Height),
		FPS:         fps,
		CRF:         s.opts.CRF,
		Preset:      s.opts.Preset,
		PixelFormat: first.Format,
	}

	var enc frameEncoder
	var err error
	if s.opts.Hardware {
		cfg.CodecName = s.hardwareCodec()
		enc, err = s.newEncoder(cfg)
		if err != nil {
			// Exactly one retry with the software encoder.
			log.Warn().Err(err).Str("codec", cfg.CodecName).Msg("hardware encoder unavailable, falling back to software")
			cfg.CodecName = softwareCodecName
			enc, err = s.newEncoder(cfg)
		}
	} else {
		cfg.CodecName = softwareCodecName
		enc, err = s.newEncoder(cfg)
	}
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	for i, frame := range frames {
		if err := enc.EncodeFrame(frame); err != nil {
			// A partially written file from an aborted batch is invalid,
			// not a usable partial segment.
			return nil, fmt.Errorf("encoding frame %d of %d: %w", i+1, len(frames), err)
		}
	}
	if err := enc.Finish(); err != nil {
		return nil, err
	}

	var fileSize int64
	if info, err := os.Stat(outputPath); err == nil {
		fileSize = info.Size()
	}

	start := frames[0].Timestamp
	end := frames[len(frames)-1].Timestamp
	duration := end - start
	if duration < 1 {
		duration = 1
	}

	segment := &VideoSegment{
		Path:           outputPath,
		StartTimestamp: start,
		EndTimestamp:   end,
		FrameCount:     len(frames),
		DurationMS:     duration,
		FileSizeBytes:  fileSize,
	}
	log.Info().
		Str("path", outputPath).
		Int("frames", segment.FrameCount).
		Int64("duration_ms", segment.DurationMS).
		Str("codec", cfg.CodecName).
		Msg("segment finalized")
	return segment, nil
}
