package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestSinkWriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.wav")
	format := Format{SampleRate: 8000, Channels: 2, BitDepth: 16, Interleaved: true}

	sink, err := NewSink(path, format)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}

	buf := NormalizedBuffer{
		Channels: [][]float32{
			{0.5, -0.5},
			{0.25, -0.25},
		},
		Frames: 2,
	}
	if err := sink.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := sink.BytesWritten(); got != 8 {
		t.Errorf("expected 8 payload bytes (2 frames x 2ch x 2 bytes), got %d", got)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close must be a no-op.
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	out, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Format.SampleRate != 8000 || out.Format.NumChannels != 2 {
		t.Errorf("expected 8000Hz stereo, got %dHz %dch", out.Format.SampleRate, out.Format.NumChannels)
	}
	if len(out.Data) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(out.Data))
	}
	if out.Data[0] != 16384 || out.Data[1] != 8192 {
		t.Errorf("unexpected first frame: %v", out.Data[:2])
	}
}

func TestSinkFloatFormatStoresSixteenBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.wav")
	format := Format{SampleRate: 44100, Channels: 1, BitDepth: 32, Float: true, Interleaved: true}

	sink, err := NewSink(path, format)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	// Out-of-range values must clamp, not wrap.
	buf := NormalizedBuffer{Channels: [][]float32{{1.5, -1.5}}, Frames: 2}
	if err := sink.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, _ := os.Open(path)
	defer f.Close()
	out, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Data[0] != 32767 || out.Data[1] != -32768 {
		t.Errorf("expected clamped full-scale samples, got %v", out.Data)
	}
}

func TestSinkRejectsChannelMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.wav")
	sink, err := NewSink(path, Format{SampleRate: 8000, Channels: 2, BitDepth: 16, Interleaved: true})
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	defer sink.Close()

	buf := NormalizedBuffer{Channels: [][]float32{{0.1}}, Frames: 1}
	if err := sink.Write(buf); err == nil {
		t.Fatal("expected channel-mismatch error")
	}
}

func TestSinkWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.wav")
	sink, err := NewSink(path, Format{SampleRate: 8000, Channels: 1, BitDepth: 16, Interleaved: true})
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	buf := NormalizedBuffer{Channels: [][]float32{{0.1}}, Frames: 1}
	if err := sink.Write(buf); err == nil {
		t.Fatal("expected write-after-close error")
	}
}
