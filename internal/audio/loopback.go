package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// LoopbackConfig tunes the system-audio source.
type LoopbackConfig struct {
	ActivityThreshold float64
}

// LoopbackSource captures the system render audio (what the far-end
// participants are saying) via miniaudio loopback. The stream format is
// whatever the OS mixer delivers, so the sink is created lazily from
// the first data-carrying frame and all later frames must match it.
type LoopbackSource struct {
	cfg        LoopbackConfig
	log        zerolog.Logger
	onActivity ActivityFunc

	mu     sync.Mutex
	sink   *Sink
	format Format
	level  float64
	path   string
	opened bool

	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	frameCh chan Frame
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewLoopbackSource creates a system-audio source. onActivity resets
// the shared silence clock and may be nil.
func NewLoopbackSource(cfg LoopbackConfig, onActivity ActivityFunc, log zerolog.Logger) *LoopbackSource {
	return &LoopbackSource{
		cfg:        cfg,
		log:        log.With().Str("source", "loopback").Logger(),
		onActivity: onActivity,
		frameCh:    make(chan Frame, 32),
		done:       make(chan struct{}),
	}
}

// Open starts loopback capture into outputPath. When the platform has
// no loopback target the error wraps ErrSourceUnavailable; the session
// treats that as a degraded (microphone-only) recording, not a failure.
func (l *LoopbackSource) Open(outputPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return fmt.Errorf("loopback source already open")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		l.log.Trace().Str("message", message).Msg("miniaudio")
	})
	if err != nil {
		return fmt.Errorf("%w: init miniaudio context: %v", ErrSourceUnavailable, err)
	}

	// Leave the capture format, rate and channels zeroed: the backend
	// then delivers the device's native mix layout and we discover it
	// from the first callback.
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			l.postFrame(input, frameCount)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: init loopback device: %v", ErrSourceUnavailable, err)
	}

	// The callback reads l.device, so it must be set before Start.
	l.ctx = mctx
	l.device = device
	l.path = outputPath

	if err := device.Start(); err != nil {
		l.device = nil
		l.ctx = nil
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("%w: start loopback device: %v", ErrSourceUnavailable, err)
	}
	l.opened = true

	go l.processLoop()

	l.log.Info().Str("path", outputPath).Msg("System audio capture started")
	return nil
}

// postFrame runs on the miniaudio callback thread: copy the buffer,
// stamp it with the device's delivered format, hand it off without
// ever blocking the audio thread.
func (l *LoopbackSource) postFrame(input []byte, frameCount uint32) {
	if frameCount == 0 || len(input) == 0 {
		return
	}
	data := make([]byte, len(input))
	copy(data, input)

	frame := Frame{
		Data:   data,
		Format: l.deliveredFormat(),
		Frames: int(frameCount),
	}
	select {
	case l.frameCh <- frame:
	default:
		// Drop if the writer is behind.
	}
}

func (l *LoopbackSource) deliveredFormat() Format {
	dev := l.device
	return Format{
		SampleRate:  int(dev.SampleRate()),
		Channels:    int(dev.CaptureChannels()),
		BitDepth:    formatBitDepth(dev.CaptureFormat()),
		Float:       dev.CaptureFormat() == malgo.FormatF32,
		Interleaved: true,
	}
}

func formatBitDepth(f malgo.FormatType) int {
	switch f {
	case malgo.FormatS16:
		return 16
	case malgo.FormatS24:
		return 24
	case malgo.FormatS32, malgo.FormatF32:
		return 32
	case malgo.FormatU8:
		return 8
	default:
		return 0
	}
}

// processLoop owns all mutable source state past the handoff channel:
// lazy sink creation, normalization, activity metering, writes.
func (l *LoopbackSource) processLoop() {
	defer close(l.done)
	for frame := range l.frameCh {
		l.handleFrame(frame)
	}
}

// OnFrame feeds one raw frame through normalize/meter/write. Exposed
// for the processing loop and tests; production frames arrive via the
// device callback.
func (l *LoopbackSource) OnFrame(frame Frame) {
	l.handleFrame(frame)
}

func (l *LoopbackSource) handleFrame(frame Frame) {
	if frame.Frames == 0 || len(frame.Data) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sink == nil {
		sink, err := NewSink(l.path, frame.Format)
		if err != nil {
			l.log.Error().Err(err).Stringer("format", frame.Format).Msg("Cannot create loopback sink")
			return
		}
		l.sink = sink
		l.format = frame.Format
		l.log.Info().Stringer("format", frame.Format).Msg("Loopback stream format discovered")
	} else if frame.Format != l.format {
		// Format drift after the sink exists: drop, never crash.
		l.log.Warn().Stringer("format", frame.Format).Stringer("want", l.format).Msg("Dropping mismatched frame")
		return
	}

	buf, err := Normalize(frame)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			l.log.Warn().Err(err).Msg("Dropping unsupported frame")
		} else {
			l.log.Warn().Err(err).Msg("Dropping malformed frame")
		}
		return
	}

	level := RMS(buf)
	l.level = level
	if level > l.cfg.ActivityThreshold && l.onActivity != nil {
		l.onActivity()
	}

	if err := l.sink.Write(buf); err != nil {
		// Capture must survive a bad write.
		l.log.Warn().Err(err).Msg("Dropping loopback buffer")
	}
}

// LastActivityLevel reports the RMS of the most recent frame.
func (l *LoopbackSource) LastActivityLevel() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SinkBytes reports PCM bytes persisted, or zero when no data-carrying
// frame ever arrived.
func (l *LoopbackSource) SinkBytes() int64 {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return 0
	}
	return sink.BytesWritten()
}

// Close stops the device, drains pending frames, and finalizes the
// sink if one was created. Idempotent.
func (l *LoopbackSource) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if l.device != nil {
		_ = l.device.Stop()
		l.device.Uninit()
		l.device = nil
	}
	if l.ctx != nil {
		_ = l.ctx.Uninit()
		l.ctx.Free()
		l.ctx = nil
	}

	close(l.frameCh)
	if l.opened {
		<-l.done
	}

	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return nil
	}
	if err := sink.Close(); err != nil {
		return err
	}
	l.log.Info().Int64("bytes", sink.BytesWritten()).Msg("System audio capture stopped")
	return nil
}
