package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedFormat is returned by Normalize for bit depths it cannot
// convert. Callers drop the frame and keep capturing.
var ErrUnsupportedFormat = errors.New("unsupported sample format")

// Format describes the sample layout of a raw audio buffer. For the
// loopback path it is discovered from the first delivered frame, never
// configured up front.
type Format struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	Float       bool
	Interleaved bool
}

func (f Format) String() string {
	layout := "planar"
	if f.Interleaved {
		layout = "interleaved"
	}
	kind := "int"
	if f.Float {
		kind = "float"
	}
	return fmt.Sprintf("%dHz %dch %dbit %s %s", f.SampleRate, f.Channels, f.BitDepth, kind, layout)
}

// BytesPerFrame returns the size of one frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Frame is a raw buffer as delivered by a capture backend, plus the
// format needed to interpret it. Frames are ephemeral: they are
// normalized and written to a sink, never persisted.
type Frame struct {
	Data   []byte
	Format Format
	Frames int
}

// NormalizedBuffer holds planar float32 samples, one slice per channel,
// values nominally in [-1.0, 1.0).
type NormalizedBuffer struct {
	Channels [][]float32
	Frames   int
}

// Normalize converts a raw frame into planar float32. Float32 input
// passes through (transposed to planar if interleaved); 16- and 32-bit
// integer input is scaled by the signed type's maximum magnitude. Other
// bit depths fail with ErrUnsupportedFormat.
func Normalize(frame Frame) (NormalizedBuffer, error) {
	f := frame.Format
	if f.Channels <= 0 || frame.Frames <= 0 {
		return NormalizedBuffer{}, fmt.Errorf("invalid frame geometry: %d channels, %d frames", f.Channels, frame.Frames)
	}
	need := frame.Frames * f.BytesPerFrame()
	if len(frame.Data) < need {
		return NormalizedBuffer{}, fmt.Errorf("short frame: have %d bytes, need %d", len(frame.Data), need)
	}

	read, err := sampleReader(f)
	if err != nil {
		return NormalizedBuffer{}, err
	}

	out := NormalizedBuffer{
		Channels: make([][]float32, f.Channels),
		Frames:   frame.Frames,
	}
	for ch := range out.Channels {
		out.Channels[ch] = make([]float32, frame.Frames)
	}

	bytesPer := f.BitDepth / 8
	for ch := 0; ch < f.Channels; ch++ {
		dst := out.Channels[ch]
		for i := 0; i < frame.Frames; i++ {
			var idx int
			if f.Interleaved {
				idx = (i*f.Channels + ch) * bytesPer
			} else {
				idx = (ch*frame.Frames + i) * bytesPer
			}
			dst[i] = read(frame.Data[idx:])
		}
	}
	return out, nil
}

func sampleReader(f Format) (func([]byte) float32, error) {
	if f.Float {
		if f.BitDepth != 32 {
			return nil, fmt.Errorf("%w: %d-bit float", ErrUnsupportedFormat, f.BitDepth)
		}
		return func(b []byte) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(b))
		}, nil
	}
	switch f.BitDepth {
	case 16:
		return func(b []byte) float32 {
			return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		}, nil
	case 32:
		return func(b []byte) float32 {
			return float32(int32(binary.LittleEndian.Uint32(b))) / float32(math.MaxInt32)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d-bit int", ErrUnsupportedFormat, f.BitDepth)
	}
}

// rmsWindow caps the number of samples fed into RMS so the per-frame
// cost stays bounded regardless of callback buffer size.
const rmsWindow = 1000

// RMS computes root-mean-square amplitude over at most rmsWindow
// samples of the first channel.
func RMS(buf NormalizedBuffer) float64 {
	if len(buf.Channels) == 0 || len(buf.Channels[0]) == 0 {
		return 0
	}
	samples := buf.Channels[0]
	if len(samples) > rmsWindow {
		samples = samples[:rmsWindow]
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
