package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/MrWong99/ttshub/pkg/engine"
)

// BitDepth is the sample width of every WAV file written by this package.
const BitDepth = 16

// ErrNoAudio is returned when asked to encode an empty waveform or one with
// an unknown sample rate.
var ErrNoAudio = errors.New("audio: nothing to encode")

// EncodeWAV writes a as a mono 16-bit PCM WAV stream. The header is patched
// after the samples are written, which is why w must be seekable.
func EncodeWAV(w io.WriteSeeker, a engine.Audio) error {
	if len(a.Samples) == 0 || a.SampleRate <= 0 {
		return ErrNoAudio
	}
	enc := wav.NewEncoder(w, a.SampleRate, BitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{SampleRate: a.SampleRate, NumChannels: 1},
		Data:           PCM16(a.Samples),
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finish wav: %w", err)
	}
	return nil
}

// WAVBytes encodes a in memory.
func WAVBytes(a engine.Audio) ([]byte, error) {
	var sb seekBuffer
	if err := EncodeWAV(&sb, a); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// WriteWAV encodes a into a new file in dir named by a random UUID and
// returns its path. The file is removed again if encoding fails.
func WriteWAV(dir string, a engine.Audio) (string, error) {
	path := filepath.Join(dir, uuid.NewString()+".wav")
	if err := WriteWAVFile(path, a); err != nil {
		return "", err
	}
	return path, nil
}

// WriteWAVFile encodes a into path, replacing any existing file.
func WriteWAVFile(path string, a engine.Audio) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("audio: close %q: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return EncodeWAV(f, a)
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(s.pos)
	case io.SeekEnd:
		base = int64(len(s.buf))
	default:
		return 0, fmt.Errorf("audio: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", next)
	}
	s.pos = int(next)
	return next, nil
}
