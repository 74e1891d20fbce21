package audio_test

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/MrWong99/ttshub/pkg/audio"
	"github.com/MrWong99/ttshub/pkg/engine"
)

func TestPCM16(t *testing.T) {
	t.Parallel()
	in := []float32{0, 1, -1, 0.5, 2, -3, float32(math.NaN())}
	want := []int{0, 32767, -32768, 16384, 32767, -32768, 0}
	got := audio.PCM16(in)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPeak(t *testing.T) {
	t.Parallel()
	if p := audio.Peak([]float32{0.1, -0.7, 0.3}); p != 0.7 {
		t.Errorf("Peak = %v, want 0.7", p)
	}
	if p := audio.Peak(nil); p != 0 {
		t.Errorf("Peak(nil) = %v", p)
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	same := []float32{0.1, 0.2, 0.3}
	out, err := audio.Resample(same, 22050, 22050)
	if err != nil || len(out) != 3 {
		t.Errorf("same rate = (%d samples, %v)", len(out), err)
	}

	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 16000}} {
		out, err := audio.Resample(same, rates[0], rates[1])
		if err != nil || len(out) != len(same) {
			t.Errorf("rates %v: (%d samples, %v), want unchanged", rates, len(out), err)
		}
	}

	// One second of a 440 Hz tone at half scale.
	tone := make([]float32, 16000)
	for i := range tone {
		tone[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	tests := []struct {
		name string
		dst  int
	}{
		{"downsample", 8000},
		{"upsample", 48000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := audio.Resample(tone, 16000, tc.dst)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			if len(out) != tc.dst {
				t.Fatalf("len = %d, want %d", len(out), tc.dst)
			}
			// Skip the edges touched by the filter delay.
			mid := out[len(out)/4 : len(out)*3/4]
			if p := audio.Peak(mid); p < 0.4 || p > 0.6 {
				t.Errorf("peak = %v, want about 0.5", p)
			}
		})
	}
}

func TestWAVBytes_RoundTrip(t *testing.T) {
	t.Parallel()
	a := engine.Audio{Samples: []float32{0, 0.5, -0.5, 1, -1}, SampleRate: 22050}

	data, err := audio.WAVBytes(a)
	if err != nil {
		t.Fatalf("WAVBytes: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE header: % x", data[:12])
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.SampleRate != 22050 || d.BitDepth != 16 || d.NumChans != 1 {
		t.Errorf("format = %d Hz, %d bit, %d ch", d.SampleRate, d.BitDepth, d.NumChans)
	}
	want := audio.PCM16(a.Samples)
	if len(buf.Data) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVBytes_Empty(t *testing.T) {
	t.Parallel()
	for _, a := range []engine.Audio{{SampleRate: 16000}, {Samples: []float32{0.1}}} {
		if _, err := audio.WAVBytes(a); !errors.Is(err, audio.ErrNoAudio) {
			t.Errorf("WAVBytes(%+v) error = %v, want ErrNoAudio", a, err)
		}
	}
}

func TestWriteWAV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := engine.Audio{Samples: make([]float32, 1600), SampleRate: 16000}

	path, err := audio.WriteWAV(dir, a)
	if err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path %q not in %q", path, dir)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".wav")
	if _, err := uuid.Parse(name); err != nil {
		t.Errorf("file name %q is not a UUID: %v", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// 44-byte canonical header plus two bytes per sample.
	if info.Size() != 44+2*1600 {
		t.Errorf("size = %d, want %d", info.Size(), 44+2*1600)
	}

	other, err := audio.WriteWAV(dir, a)
	if err != nil {
		t.Fatal(err)
	}
	if other == path {
		t.Error("two writes produced the same file name")
	}
}

func TestWriteWAVFile_RemovesOnFailure(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := audio.WriteWAVFile(path, engine.Audio{}); !errors.Is(err, audio.ErrNoAudio) {
		t.Fatalf("error = %v, want ErrNoAudio", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}
