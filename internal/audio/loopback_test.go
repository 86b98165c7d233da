package audio

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func s16Frame(samples []int16, rate, channels int) Frame {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return Frame{
		Data:   data,
		Format: Format{SampleRate: rate, Channels: channels, BitDepth: 16, Interleaved: true},
		Frames: len(samples) / channels,
	}
}

func TestLoopbackLazySinkCreation(t *testing.T) {
	src := NewLoopbackSource(LoopbackConfig{ActivityThreshold: 0.001}, nil, zerolog.Nop())
	src.path = filepath.Join(t.TempDir(), "system.wav")

	if src.SinkBytes() != 0 {
		t.Fatal("no sink should exist before the first frame")
	}

	// Empty frames must not create a sink.
	src.OnFrame(Frame{})
	if src.SinkBytes() != 0 {
		t.Fatal("empty frame must not create a sink")
	}

	src.OnFrame(s16Frame([]int16{1000, -1000, 2000, -2000}, 48000, 2))
	if src.sink == nil {
		t.Fatal("first data frame should create the sink")
	}
	if got := src.format.SampleRate; got != 48000 {
		t.Errorf("expected discovered rate 48000, got %d", got)
	}
	if got := src.SinkBytes(); got != 8 {
		t.Errorf("expected 8 bytes persisted, got %d", got)
	}
}

func TestLoopbackDropsMismatchedFormat(t *testing.T) {
	src := NewLoopbackSource(LoopbackConfig{}, nil, zerolog.Nop())
	src.path = filepath.Join(t.TempDir(), "system.wav")

	src.OnFrame(s16Frame([]int16{100, 200}, 48000, 2))
	before := src.SinkBytes()

	// Different rate after the sink exists: dropped, not written.
	src.OnFrame(s16Frame([]int16{100, 200}, 44100, 2))
	if got := src.SinkBytes(); got != before {
		t.Errorf("mismatched frame must be dropped, bytes went %d -> %d", before, got)
	}
}

func TestLoopbackActivitySignal(t *testing.T) {
	var touches int
	src := NewLoopbackSource(LoopbackConfig{ActivityThreshold: 0.001}, func() { touches++ }, zerolog.Nop())
	src.path = filepath.Join(t.TempDir(), "system.wav")

	// Silence: below threshold, no touch.
	src.OnFrame(s16Frame([]int16{0, 0, 0, 0}, 48000, 2))
	if touches != 0 {
		t.Errorf("silent frame must not signal activity, got %d touches", touches)
	}

	// Loud frame: touches the clock and updates the level.
	src.OnFrame(s16Frame([]int16{16000, 16000, -16000, -16000}, 48000, 2))
	if touches != 1 {
		t.Errorf("expected 1 activity touch, got %d", touches)
	}
	if src.LastActivityLevel() <= 0.001 {
		t.Errorf("expected level above threshold, got %f", src.LastActivityLevel())
	}
}

func TestLoopbackUnsupportedDepthDropped(t *testing.T) {
	src := NewLoopbackSource(LoopbackConfig{}, nil, zerolog.Nop())
	src.path = filepath.Join(t.TempDir(), "system.wav")

	frame := Frame{
		Data:   make([]byte, 6),
		Format: Format{SampleRate: 48000, Channels: 2, BitDepth: 24, Interleaved: true},
		Frames: 1,
	}
	// Must not panic and must not persist anything.
	src.OnFrame(frame)
	if src.SinkBytes() != 0 {
		t.Error("unsupported frame must not be written")
	}
}
