package mix

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// writeTestWAV writes seconds of a constant sample value at the given
// rate. Small rates keep test files tiny.
func writeTestWAV(t *testing.T, path string, seconds float64, rate, channels, value int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	frames := int(seconds * float64(rate))
	data := make([]int, frames*channels)
	for i := range data {
		data[i] = value
	}
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func decodeDuration(t *testing.T, path string) (seconds float64, channels int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	frames := len(buf.Data) / buf.Format.NumChannels
	return float64(frames) / float64(buf.Format.SampleRate), buf.Format.NumChannels
}

func TestMixLongerSecondaryWins(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "call.wav")
	secondary := filepath.Join(dir, "call_system.wav")
	writeTestWAV(t, primary, 10, 1000, 1, 8000)
	writeTestWAV(t, secondary, 25, 1000, 2, 4000)

	m := New(time.Minute, zerolog.Nop())
	mixed, err := m.Mix(context.Background(), primary, secondary)
	if err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if mixed != filepath.Join(dir, "call_mixed.wav") {
		t.Errorf("unexpected mixed path %s", mixed)
	}

	seconds, channels := decodeDuration(t, mixed)
	if channels != 2 {
		t.Errorf("expected stereo output, got %d channels", channels)
	}
	if math.Abs(seconds-25) > 0.01 {
		t.Errorf("expected 25s output, got %.3fs", seconds)
	}
}

func TestMixLongerPrimaryWins(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "call.wav")
	secondary := filepath.Join(dir, "call_system.wav")
	writeTestWAV(t, primary, 8, 1000, 1, 8000)
	writeTestWAV(t, secondary, 3, 1000, 1, 4000)

	m := New(time.Minute, zerolog.Nop())
	mixed, err := m.Mix(context.Background(), primary, secondary)
	if err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	seconds, _ := decodeDuration(t, mixed)
	if math.Abs(seconds-8) > 0.01 {
		t.Errorf("expected 8s output, got %.3fs", seconds)
	}
}

func TestMixRateConversion(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "call.wav")
	secondary := filepath.Join(dir, "call_system.wav")
	// Secondary at double the primary rate but same wall duration.
	writeTestWAV(t, primary, 5, 1000, 1, 8000)
	writeTestWAV(t, secondary, 5, 2000, 1, 4000)

	m := New(time.Minute, zerolog.Nop())
	mixed, err := m.Mix(context.Background(), primary, secondary)
	if err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	seconds, _ := decodeDuration(t, mixed)
	if math.Abs(seconds-5) > 0.01 {
		t.Errorf("expected 5s output at the primary rate, got %.3fs", seconds)
	}
}

func TestMixMissingTrack(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "call.wav")
	writeTestWAV(t, primary, 1, 1000, 1, 8000)

	m := New(time.Minute, zerolog.Nop())
	if _, err := m.Mix(context.Background(), primary, filepath.Join(dir, "missing.wav")); err == nil {
		t.Fatal("expected error for missing secondary track")
	}
}

func TestMixCancelledContext(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "call.wav")
	secondary := filepath.Join(dir, "call_system.wav")
	writeTestWAV(t, primary, 120, 1000, 1, 8000)
	writeTestWAV(t, secondary, 120, 1000, 1, 4000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := New(time.Minute, zerolog.Nop())
	if _, err := m.Mix(ctx, primary, secondary); err == nil {
		t.Fatal("expected error for cancelled export")
	}
	if _, err := os.Stat(filepath.Join(dir, "call_mixed.wav")); !os.IsNotExist(err) {
		t.Error("aborted export must not leave a partial output file")
	}
}

func TestDownmixInterleavedStereo(t *testing.T) {
	data := []int{16384, 16384, 32767, -32768}
	got := downmixInterleaved(data, 2, 2, 32768)
	if math.Abs(float64(got[0])-0.5) > 1e-4 {
		t.Errorf("frame 0: expected 0.5, got %f", got[0])
	}
	if math.Abs(float64(got[1])) > 1e-4 {
		t.Errorf("frame 1: expected ~0, got %f", got[1])
	}
}
