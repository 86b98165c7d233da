package audio

import (
	"fmt"
	"os"
	"sync"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sink encodes normalized buffers into a WAV file. Both capture sources
// write through a Sink; the loopback source creates one lazily once the
// stream format is known. Close is safe to call more than once.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	enc     *wav.Encoder
	path    string
	rate    int
	chans   int
	depth   int
	written int64
	closed  bool
}

// NewSink creates a WAV sink matching the given stream format. The
// sample rate and channel count are preserved exactly; float input is
// stored as 16-bit linear PCM, integer input keeps its bit depth.
func NewSink(path string, f Format) (*Sink, error) {
	depth := f.BitDepth
	if f.Float {
		depth = 16
	}
	if depth != 16 && depth != 32 {
		return nil, fmt.Errorf("%w: %d-bit sink", ErrUnsupportedFormat, depth)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	return &Sink{
		file:  file,
		enc:   wav.NewEncoder(file, f.SampleRate, depth, f.Channels, 1),
		path:  path,
		rate:  f.SampleRate,
		chans: f.Channels,
		depth: depth,
	}, nil
}

// Write interleaves a normalized buffer and appends it to the file.
func (s *Sink) Write(buf NormalizedBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink %s is closed", s.path)
	}
	if len(buf.Channels) != s.chans {
		return fmt.Errorf("sink %s expects %d channels, frame has %d", s.path, s.chans, len(buf.Channels))
	}

	scale := float64(int64(1) << (s.depth - 1))
	data := make([]int, buf.Frames*s.chans)
	for ch, samples := range buf.Channels {
		for i, v := range samples {
			data[i*s.chans+ch] = clampSample(float64(v)*scale, s.depth)
		}
	}

	ibuf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: s.chans, SampleRate: s.rate},
		Data:           data,
		SourceBitDepth: s.depth,
	}
	if err := s.enc.Write(ibuf); err != nil {
		return fmt.Errorf("write sink %s: %w", s.path, err)
	}
	s.written += int64(len(data) * s.depth / 8)
	return nil
}

func clampSample(v float64, depth int) int {
	max := int64(1)<<(depth-1) - 1
	min := -(int64(1) << (depth - 1))
	switch {
	case v > float64(max):
		return int(max)
	case v < float64(min):
		return int(min)
	default:
		return int(v)
	}
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// BytesWritten reports the number of PCM payload bytes written so far.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close finalizes the WAV header and closes the file. Idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.enc.Close(); err != nil {
		firstErr = fmt.Errorf("finalize sink %s: %w", s.path, err)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close sink %s: %w", s.path, err)
	}
	return firstErr
}
