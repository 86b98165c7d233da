package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const micFramesPerBuffer = 512

// MicConfig tunes the microphone source.
type MicConfig struct {
	DeviceID          string
	SampleRate        int
	ActivityThreshold float64
	MeterPeriod       time.Duration
}

// MicSource captures the default (or named) input device via PortAudio
// and encodes it into a mono WAV sink. The device level is polled on a
// fixed meter period rather than per frame.
type MicSource struct {
	cfg        MicConfig
	log        zerolog.Logger
	onActivity ActivityFunc

	mu     sync.Mutex
	stream *portaudio.Stream
	sink   *Sink
	level  float64
	opened bool
	closed bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMicSource creates a microphone source. onActivity resets the
// shared silence clock and may be nil.
func NewMicSource(cfg MicConfig, onActivity ActivityFunc, log zerolog.Logger) *MicSource {
	if cfg.MeterPeriod <= 0 {
		cfg.MeterPeriod = 100 * time.Millisecond
	}
	return &MicSource{
		cfg:        cfg,
		log:        log.With().Str("source", "mic").Logger(),
		onActivity: onActivity,
	}
}

// Open acquires the input device and starts capturing into outputPath.
func (m *MicSource) Open(outputPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return fmt.Errorf("microphone source already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize PortAudio: %w", err)
	}

	device, err := resolveInputDevice(m.cfg.DeviceID)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	format := Format{
		SampleRate:  m.cfg.SampleRate,
		Channels:    1,
		BitDepth:    32,
		Float:       true,
		Interleaved: true,
	}
	sink, err := NewSink(outputPath, format)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	buffer := make([]float32, micFramesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.cfg.SampleRate),
		FramesPerBuffer: len(buffer),
	}, buffer)
	if err != nil {
		sink.Close()
		portaudio.Terminate()
		return fmt.Errorf("open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		sink.Close()
		portaudio.Terminate()
		return fmt.Errorf("start audio stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.stream = stream
	m.sink = sink
	m.cancel = cancel
	m.opened = true

	// Bounded handoff between the device read loop and the encoder so a
	// slow disk never blocks the stream.
	samplesCh := make(chan []float32, 8)

	m.wg.Add(3)
	go m.readLoop(ctx, buffer, samplesCh)
	go m.encodeLoop(ctx, samplesCh)
	go m.meterLoop(ctx)

	m.log.Info().Str("path", outputPath).Int("sample_rate", m.cfg.SampleRate).Msg("Microphone capture started")
	return nil
}

func resolveInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrSourceUnavailable, err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: input device %q not found", ErrSourceUnavailable, deviceID)
}

func (m *MicSource) readLoop(ctx context.Context, buffer []float32, out chan<- []float32) {
	defer m.wg.Done()
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			if ctx.Err() == nil {
				m.log.Error().Err(err).Msg("Stream read failed")
			}
			return
		}
		samples := make([]float32, len(buffer))
		copy(samples, buffer)

		var peak float64
		for _, s := range samples {
			if v := float64(s); v > peak {
				peak = v
			} else if -v > peak {
				peak = -v
			}
		}
		m.mu.Lock()
		m.level = peak
		m.mu.Unlock()

		select {
		case out <- samples:
		case <-ctx.Done():
			return
		default:
			// Drop if the encoder is behind; never block the device.
		}
	}
}

func (m *MicSource) encodeLoop(ctx context.Context, in <-chan []float32) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain whatever the read loop already handed off.
			for {
				select {
				case samples, ok := <-in:
					if !ok {
						return
					}
					m.writeSamples(samples)
				default:
					return
				}
			}
		case samples, ok := <-in:
			if !ok {
				return
			}
			m.writeSamples(samples)
		}
	}
}

func (m *MicSource) writeSamples(samples []float32) {
	buf := NormalizedBuffer{
		Channels: [][]float32{samples},
		Frames:   len(samples),
	}
	if err := m.sink.Write(buf); err != nil {
		// A single failed write must not end the capture.
		m.log.Warn().Err(err).Msg("Dropping mic buffer")
	}
}

func (m *MicSource) meterLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MeterPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.LastActivityLevel() > m.cfg.ActivityThreshold && m.onActivity != nil {
				m.onActivity()
			}
		}
	}
}

// LastActivityLevel reports the peak level of the most recent buffer.
func (m *MicSource) LastActivityLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// SinkBytes reports PCM bytes persisted so far.
func (m *MicSource) SinkBytes() int64 {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return 0
	}
	return sink.BytesWritten()
}

// Close stops the stream and finalizes the sink. Idempotent.
func (m *MicSource) Close() error {
	m.mu.Lock()
	if !m.opened || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stream := m.stream
	sink := m.sink
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	if err := stream.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("Stream stop failed")
	}
	m.wg.Wait()
	stream.Close()
	portaudio.Terminate()

	if err := sink.Close(); err != nil {
		return err
	}
	m.log.Info().Int64("bytes", sink.BytesWritten()).Msg("Microphone capture stopped")
	return nil
}
