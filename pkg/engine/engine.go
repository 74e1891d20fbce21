// Package engine defines the abstraction over an instantiated speech synthesis
// engine and the immutable configuration it is built from.
//
// An [Engine] wraps an opaque inference runtime (typically a native library
// holding model weights in memory). It is bound 1:1 to the [Config] it was
// created from and owns native resources until [Engine.Close] is called.
//
// Engines are NOT assumed to be safe for concurrent use. Callers that share an
// engine between goroutines must serialise calls to [Engine.Generate] unless
// the implementation also satisfies [ConcurrentSafe] and reports true.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is returned by [Config.Validate] when a mandatory field is
// missing or a numeric field is out of range.
var ErrInvalidConfig = errors.New("engine: invalid config")

// Audio is the raw output of one synthesis call. It is produced fresh for each
// call and ownership passes to the caller.
type Audio struct {
	// Samples holds mono PCM samples in the range [-1, 1].
	Samples []float32

	// SampleRate is the sample rate of Samples in Hz.
	SampleRate int
}

// Duration returns the playback duration of the audio. Returns 0 when the
// sample rate is unknown.
func (a Audio) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(a.Samples)) / float64(a.SampleRate) * float64(time.Second))
}

// Config is the fully assembled configuration of one engine instance.
//
// Model and Tokens are always present. All other paths are set only when the
// construction recipe for the voice needs them. A Config is a value: it is
// never mutated after construction, rebuilding means assembling a new one.
type Config struct {
	// Model is the local path of the acoustic model file.
	Model string

	// Lexicon is the optional local path of the pronunciation lexicon.
	Lexicon string

	// Tokens is the local path of the token table.
	Tokens string

	// DataDir is the optional phoneme rule data directory (espeak-ng-data).
	DataDir string

	// DictDir is the optional word segmentation dictionary directory.
	DictDir string

	// RuleFsts lists the text normalisation rule transducers in the order
	// they must be applied.
	RuleFsts []string

	// RuleFars lists compiled rule archives.
	RuleFars []string

	// LengthScale is the inverse speed factor (1 / speed).
	LengthScale float64

	// Provider selects the execution provider, e.g. "cpu".
	Provider string

	// NumThreads is the number of inference threads.
	NumThreads int

	// Debug enables verbose diagnostics inside the runtime.
	Debug bool

	// NumSpeakers is the documented number of speakers of the model.
	// Zero means unknown.
	NumSpeakers int
}

// Validate checks the invariants of c.
func (c Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, fmt.Errorf("%w: model path is empty", ErrInvalidConfig))
	}
	if c.Tokens == "" {
		errs = append(errs, fmt.Errorf("%w: tokens path is empty", ErrInvalidConfig))
	}
	if c.LengthScale <= 0 {
		errs = append(errs, fmt.Errorf("%w: length scale %v must be positive", ErrInvalidConfig, c.LengthScale))
	}
	if c.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("%w: num threads %d is negative", ErrInvalidConfig, c.NumThreads))
	}
	return errors.Join(errs...)
}

// RuleFstList returns RuleFsts joined into the comma-delimited list expected
// by the runtime.
func (c Config) RuleFstList() string { return strings.Join(c.RuleFsts, ",") }

// RuleFarList returns RuleFars joined into a comma-delimited list.
func (c Config) RuleFarList() string { return strings.Join(c.RuleFars, ",") }

// Engine is an instantiated, ready-to-run synthesis engine.
type Engine interface {
	// Generate synthesises text with the given speaker index. speed is passed
	// straight to the runtime; callers that already baked the speed into
	// [Config.LengthScale] pass 1.
	//
	// A successful call may still return zero samples when the runtime could
	// not handle the input; callers decide how to treat that.
	Generate(ctx context.Context, text string, speaker int, speed float64) (Audio, error)

	// NumSpeakers returns the number of speakers the engine supports, or 0 if
	// unknown.
	NumSpeakers() int

	// Close releases all native resources. The engine must not be used
	// afterwards.
	Close() error
}

// ConcurrentSafe is implemented by engines that can serve concurrent
// Generate calls on a single instance.
type ConcurrentSafe interface {
	ConcurrentSafe() bool
}

// IsConcurrentSafe reports whether e declares itself safe for concurrent use.
func IsConcurrentSafe(e Engine) bool {
	cs, ok := e.(ConcurrentSafe)
	return ok && cs.ConcurrentSafe()
}

// Factory instantiates engines from a [Config].
type Factory interface {
	New(cfg Config) (Engine, error)
}

// FactoryFunc adapts a plain function to the [Factory] interface.
type FactoryFunc func(cfg Config) (Engine, error)

// New calls f(cfg).
func (f FactoryFunc) New(cfg Config) (Engine, error) { return f(cfg) }
