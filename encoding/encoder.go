package encoding

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/asticode/go-astiav"

	"github.com/SOURCE-Platform/screencore/capture"
)

// EncoderConfig configures one native encode session. Quality and speed are
// carried as codec-named options, not typed fields, so further codecs can be
// added purely by name.
type EncoderConfig struct {
	OutputPath  string
	Width       int
	Height      int
	FPS         int
	CodecName   string
	CRF         int
	Preset      string
	PixelFormat capture.PixelFormat
}

// Encoder owns one native encode session, start to finish, for one output
// file: codec context, MP4 container, one stream, a reusable YUV 4:2:0 frame
// and packet, and a packed-BGRA/RGBA to planar-YUV conversion context. All
// native resources are created together and released together, in a fixed
// order, on every exit path.
type Encoder struct {
	cfg EncoderConfig

	codecCtx  *astiav.CodecContext
	formatCtx *astiav.FormatContext
	ioCtx     *astiav.IOContext
	stream    *astiav.Stream
	srcFrame  *astiav.Frame
	yuvFrame  *astiav.Frame
	packet    *astiav.Packet
	swsCtx    *astiav.SoftwareScaleContext

	pts      int64
	finished bool
	closed   bool
}

// NewEncoder allocates the full native session. Any failure unwinds
// everything allocated so far before returning.
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d@%d", ErrEncodingFailed, cfg.Width, cfg.Height, cfg.FPS)
	}

	srcPixelFormat := astiav.PixelFormatRgba
	if cfg.PixelFormat == capture.PixelFormatBGRA8 {
		srcPixelFormat = astiav.PixelFormatBgra
	}

	e := &Encoder{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			e.teardown()
		}
	}()

	codec := astiav.FindEncoderByName(cfg.CodecName)
	if codec == nil {
		return nil, fmt.Errorf("%w: encoder %q not found", ErrEncodingFailed, cfg.CodecName)
	}

	if e.codecCtx = astiav.AllocCodecContext(codec); e.codecCtx == nil {
		return nil, fmt.Errorf("%w: allocating codec context", ErrEncodingFailed)
	}
	e.codecCtx.SetWidth(cfg.Width)
	e.codecCtx.SetHeight(cfg.Height)
	e.codecCtx.SetTimeBase(astiav.NewRational(1, cfg.FPS))
	e.codecCtx.SetFramerate(astiav.NewRational(cfg.FPS, 1))
	e.codecCtx.SetPixelFormat(astiav.PixelFormatYuv420P)
	// Keyframe at least every two seconds.
	e.codecCtx.SetGopSize(2 * cfg.FPS)
	e.codecCtx.SetMaxBFrames(2)

	var err error
	if e.formatCtx, err = astiav.AllocOutputFormatContext(nil, "mp4", cfg.OutputPath); err != nil {
		return nil, fmt.Errorf("%w: allocating output context for %s: %v", ErrEncodingFailed, cfg.OutputPath, err)
	}
	if e.formatCtx.OutputFormat().Flags().Has(astiav.IOFormatFlagGlobalheader) {
		e.codecCtx.SetFlags(e.codecCtx.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("crf", strconv.Itoa(cfg.CRF), astiav.NewDictionaryFlags())
	if cfg.Preset != "" {
		_ = opts.Set("preset", cfg.Preset, astiav.NewDictionaryFlags())
	}
	if err = e.codecCtx.Open(codec, opts); err != nil {
		return nil, fmt.Errorf("%w: opening codec %q: %v", ErrEncodingFailed, cfg.CodecName, err)
	}

	if e.stream = e.formatCtx.NewStream(nil); e.stream == nil {
		return nil, fmt.Errorf("%w: allocating output stream", ErrEncodingFailed)
	}
	e.stream.SetTimeBase(e.codecCtx.TimeBase())
	if err = e.stream.CodecParameters().FromCodecContext(e.codecCtx); err != nil {
		return nil, fmt.Errorf("%w: copying codec parameters: %v", ErrEncodingFailed, err)
	}

	if !e.formatCtx.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		if e.ioCtx, err = astiav.OpenIOContext(cfg.OutputPath, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil); err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrEncodingFailed, cfg.OutputPath, err)
		}
		e.formatCtx.SetPb(e.ioCtx)
	}

	if e.srcFrame = astiav.AllocFrame(); e.srcFrame == nil {
		return nil, fmt.Errorf("%w: allocating source frame", ErrEncodingFailed)
	}
	e.srcFrame.SetWidth(cfg.Width)
	e.srcFrame.SetHeight(cfg.Height)
	e.srcFrame.SetPixelFormat(srcPixelFormat)
	if err = e.srcFrame.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("%w: allocating source frame buffer: %v", ErrEncodingFailed, err)
	}

	if e.yuvFrame = astiav.AllocFrame(); e.yuvFrame == nil {
		return nil, fmt.Errorf("%w: allocating YUV frame", ErrEncodingFailed)
	}
	e.yuvFrame.SetWidth(cfg.Width)
	e.yuvFrame.SetHeight(cfg.Height)
	e.yuvFrame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err = e.yuvFrame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("%w: allocating YUV frame buffer: %v", ErrEncodingFailed, err)
	}

	if e.packet = astiav.AllocPacket(); e.packet == nil {
		return nil, fmt.Errorf("%w: allocating packet", ErrEncodingFailed)
	}

	if e.swsCtx, err = astiav.CreateSoftwareScaleContext(
		cfg.Width, cfg.Height, srcPixelFormat,
		cfg.Width, cfg.Height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	); err != nil {
		return nil, fmt.Errorf("%w: creating pixel conversion context: %v", ErrEncodingFailed, err)
	}

	if err = e.formatCtx.WriteHeader(nil); err != nil {
		return nil, fmt.Errorf("%w: writing container header: %v", ErrEncodingFailed, err)
	}

	ok = true
	return e, nil
}

// EncodeFrame converts one packed frame to planar YUV, stamps a presentation
// timestamp that increments by one tick per call (call order, not capture
// time), submits it, and drains all packets currently available.
func (e *Encoder) EncodeFrame(frame *capture.RawFrame) error {
	if e.closed || e.finished {
		return fmt.Errorf("%w: encoder session is finished", ErrEncodingFailed)
	}
	if int(frame.Width) != e.cfg.Width || int(frame.Height) != e.cfg.Height {
		return fmt.Errorf("%w: frame is %dx%d, session is %dx%d", ErrEncodingFailed, frame.Width, frame.Height, e.cfg.Width, e.cfg.Height)
	}
	if frame.Format != e.cfg.PixelFormat {
		return fmt.Errorf("%w: frame format %s, session format %s", ErrEncodingFailed, frame.Format, e.cfg.PixelFormat)
	}

	if err := e.srcFrame.MakeWritable(); err != nil {
		return fmt.Errorf("%w: making source frame writable: %v", ErrEncodingFailed, err)
	}
	if err := e.srcFrame.Data().SetBytes(frame.Data, 1); err != nil {
		return fmt.Errorf("%w: filling source frame: %v", ErrEncodingFailed, err)
	}

	if err := e.yuvFrame.MakeWritable(); err != nil {
		return fmt.Errorf("%w: making YUV frame writable: %v", ErrEncodingFailed, err)
	}
	if err := e.swsCtx.ScaleFrame(e.srcFrame, e.yuvFrame); err != nil {
		return fmt.Errorf("%w: pixel conversion: %v", ErrEncodingFailed, err)
	}

	e.yuvFrame.SetPts(e.pts)
	e.pts++

	if err := e.codecCtx.SendFrame(e.yuvFrame); err != nil {
		return fmt.Errorf("%w: submitting frame: %v", ErrEncodingFailed, err)
	}
	return e.drainPackets()
}

// drainPackets writes out every packet the encoder has ready, stopping when
// it reports "need more input" or "end of stream". Any other negative result
// is fatal for the call.
func (e *Encoder) drainPackets() error {
	for {
		err := e.codecCtx.ReceivePacket(e.packet)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: receiving packet: %v", ErrEncodingFailed, err)
		}

		e.packet.RescaleTs(e.codecCtx.TimeBase(), e.stream.TimeBase())
		e.packet.SetStreamIndex(e.stream.Index())
		if err := e.formatCtx.WriteInterleavedFrame(e.packet); err != nil {
			return fmt.Errorf("%w: writing packet: %v", ErrEncodingFailed, err)
		}
	}
}

// Finish flushes the encoder and writes the container trailer. It must be
// called exactly once, after the last EncodeFrame; skipping it leaves a
// truncated, unplayable file.
func (e *Encoder) Finish() error {
	if e.closed || e.finished {
		return fmt.Errorf("%w: encoder session is finished", ErrEncodingFailed)
	}
	e.finished = true

	if err := e.codecCtx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("%w: flushing encoder: %v", ErrEncodingFailed, err)
	}
	if err := e.drainPackets(); err != nil {
		return err
	}
	if err := e.formatCtx.WriteTrailer(); err != nil {
		return fmt.Errorf("%w: writing container trailer: %v", ErrEncodingFailed, err)
	}
	return nil
}

// Close releases all native resources. Safe to call on any path, including
// after a mid-loop failure; calling it more than once is a no-op.
func (e *Encoder) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.teardown()
}

// teardown releases in a fixed order: conversion context, packet, frame
// buffers, container I/O handle (only if opened), container, codec context.
// Later frees assume earlier native handles are still valid.
func (e *Encoder) teardown() {
	if e.swsCtx != nil {
		e.swsCtx.Free()
		e.swsCtx = nil
	}
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.yuvFrame != nil {
		e.yuvFrame.Free()
		e.yuvFrame = nil
	}
	if e.srcFrame != nil {
		e.srcFrame.Free()
		e.srcFrame = nil
	}
	if e.ioCtx != nil {
		_ = e.ioCtx.Close()
		e.ioCtx = nil
	}
	if e.formatCtx != nil {
		e.formatCtx.Free()
		e.formatCtx = nil
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
}
