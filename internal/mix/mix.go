// Package mix combines the two finished session tracks into a single
// time-aligned stereo artifact.
package mix

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// exportWindow is the number of frames encoded between context checks,
// so a stuck encode cannot hang Stop past the mixer deadline.
const exportWindow = 65536

// Mixer aligns a primary (microphone) and secondary (system audio)
// track on independent channels of one stereo output. The output spans
// the longer of the two durations; the shorter track simply runs out,
// leaving silence on its channel.
type Mixer struct {
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a Mixer. timeout caps the export; zero means two minutes.
func New(timeout time.Duration, log zerolog.Logger) *Mixer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Mixer{timeout: timeout, log: log.With().Str("component", "mixer").Logger()}
}

type track struct {
	samples []float32 // mono
	rate    int
}

// Mix produces `<primary base>_mixed.wav` and returns its path.
func (m *Mixer) Mix(ctx context.Context, primaryPath, secondaryPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	primary, err := loadTrack(primaryPath)
	if err != nil {
		return "", fmt.Errorf("load primary track: %w", err)
	}
	secondary, err := loadTrack(secondaryPath)
	if err != nil {
		return "", fmt.Errorf("load secondary track: %w", err)
	}

	outPath := strings.TrimSuffix(primaryPath, ".wav") + "_mixed.wav"
	if err := m.export(ctx, outPath, primary, secondary); err != nil {
		os.Remove(outPath)
		return "", err
	}

	m.log.Info().
		Str("path", outPath).
		Float64("primary_s", primary.duration()).
		Float64("secondary_s", secondary.duration()).
		Msg("Tracks mixed")
	return outPath, nil
}

func (t track) duration() float64 {
	if t.rate == 0 {
		return 0
	}
	return float64(len(t.samples)) / float64(t.rate)
}

// loadTrack decodes a WAV file and downmixes it to mono float32.
func loadTrack(path string) (track, error) {
	f, err := os.Open(path)
	if err != nil {
		return track{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return track{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return track{}, fmt.Errorf("decode %s: missing format", path)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	mono := downmixInterleaved(buf.Data, channels, frames, scale)
	return track{samples: mono, rate: buf.Format.SampleRate}, nil
}

// downmixInterleaved averages interleaved integer samples into mono
// float32, scaled into [-1, 1).
func downmixInterleaved(data []int, channels, frames int, scale float32) []float32 {
	out := make([]float32, frames)
	inv := 1 / (float32(channels) * scale)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(data[i*channels+ch])
		}
		out[i] = sum * inv
	}
	return out
}

// export writes a stereo 16-bit WAV at the primary rate: primary on the
// left channel, secondary (nearest-sample rate-converted when the rates
// differ) on the right.
func (m *Mixer) export(ctx context.Context, path string, primary, secondary track) error {
	rate := primary.rate
	outFrames := len(primary.samples)
	if secondary.rate > 0 {
		secFrames := int(secondary.duration() * float64(rate))
		if secFrames > outFrames {
			outFrames = secFrames
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mix output: %w", err)
	}
	enc := wav.NewEncoder(f, rate, 16, 2, 1)

	for start := 0; start < outFrames; start += exportWindow {
		select {
		case <-ctx.Done():
			enc.Close()
			f.Close()
			return fmt.Errorf("mix export aborted: %w", ctx.Err())
		default:
		}

		end := start + exportWindow
		if end > outFrames {
			end = outFrames
		}
		data := make([]int, 0, (end-start)*2)
		for i := start; i < end; i++ {
			data = append(data, sampleAt(primary, i, rate), sampleAt(secondary, i, rate))
		}
		ibuf := &gaudio.IntBuffer{
			Format:         &gaudio.Format{NumChannels: 2, SampleRate: rate},
			Data:           data,
			SourceBitDepth: 16,
		}
		if err := enc.Write(ibuf); err != nil {
			enc.Close()
			f.Close()
			return fmt.Errorf("write mix output: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize mix output: %w", err)
	}
	return f.Close()
}

// sampleAt maps output frame i at outRate onto the track's own rate and
// returns the 16-bit sample, or zero past the end of the track.
func sampleAt(t track, i, outRate int) int {
	if t.rate == 0 {
		return 0
	}
	idx := i
	if t.rate != outRate {
		idx = int(int64(i) * int64(t.rate) / int64(outRate))
	}
	if idx >= len(t.samples) {
		return 0
	}
	v := t.samples[idx] * 32767
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int(v)
	}
}
