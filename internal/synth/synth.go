// Package synth is the synthesis façade: it validates a request, resolves
// the engine for the requested voice and speed, and runs one synthesis call
// with timing diagnostics.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/voice"
	"github.com/MrWong99/ttshub/pkg/audio"
	"github.com/MrWong99/ttshub/pkg/engine"
)

var (
	// ErrInvalidParameter is returned for a request that can never succeed:
	// non-positive speed, empty text or an out of range speaker.
	ErrInvalidParameter = errors.New("synth: invalid parameter")

	// ErrEmptyOutput is returned when the engine produced no samples.
	ErrEmptyOutput = errors.New("synth: engine produced no audio")
)

// Resolver hands out engines for catalog identifiers. [*catalog.Registry]
// satisfies it.
type Resolver interface {
	Acquire(ctx context.Context, id string, speed float64) (engine.Engine, func(), error)
	Languages() []string
	ModelsFor(lang string) ([]string, error)
	LanguageOf(id string) (string, bool)
}

// Request is one synthesis request.
type Request struct {
	// Model is the catalog identifier of the voice.
	Model string

	// Speed is the speaking rate. 1 is the voice's natural rate.
	Speed float64

	// Text is the input text. Must not be blank.
	Text string

	// Speaker selects the speaker of a multi-speaker voice. Single-speaker
	// voices accept only 0.
	Speaker int
}

// Result is a synthesized waveform plus timing diagnostics.
type Result struct {
	engine.Audio

	Model   string
	Speaker int
	Speed   float64

	// Language is the catalog language the voice is listed under.
	Language string

	// Peak is the largest absolute sample value. Above 1 the WAV encoding
	// clips.
	Peak float32

	// Elapsed is the wall time of the synthesis call, excluding engine
	// resolution.
	Elapsed time.Duration
}

// Duration returns the playback duration of the audio.
func (r *Result) Duration() time.Duration { return r.Audio.Duration() }

// RTF returns the real-time factor: processing time divided by audio
// duration. Values below 1 are faster than real time.
func (r *Result) RTF() float64 {
	d := r.Duration()
	if d <= 0 {
		return 0
	}
	return r.Elapsed.Seconds() / d.Seconds()
}

// Summary renders the diagnostics in a single human-readable line.
func (r *Result) Summary() string {
	return fmt.Sprintf("wave duration %.3fs, processing time %.3fs, RTF %.3f/%.3f = %.3f",
		r.Duration().Seconds(), r.Elapsed.Seconds(),
		r.Elapsed.Seconds(), r.Duration().Seconds(), r.RTF())
}

// Option is a functional option for [New].
type Option func(*Service)

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service runs synthesis requests against engines handed out by a
// [Resolver]. It is safe for concurrent use.
type Service struct {
	resolver Resolver
	metrics  *observe.Metrics
}

// New returns a Service backed by r.
func New(r Resolver, opts ...Option) *Service {
	s := &Service{resolver: r}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Languages returns the language names in catalog order.
func (s *Service) Languages() []string { return s.resolver.Languages() }

// ModelsFor returns the voice identifiers listed for lang.
func (s *Service) ModelsFor(lang string) ([]string, error) { return s.resolver.ModelsFor(lang) }

// Synthesize validates req, resolves the engine and synthesizes the text.
//
// Parameter errors that do not depend on the engine are reported before any
// artifact is fetched. A speaker index is checked against the engine once it
// is resolved.
func (s *Service) Synthesize(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := observe.StartSpan(ctx, "synth.Synthesize", trace.WithAttributes(
		attribute.String("model", req.Model),
		attribute.Float64("speed", req.Speed),
		attribute.Int("speaker", req.Speaker),
		attribute.Int("text_len", len(req.Text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return nil, err
	}

	eng, release, err := s.resolver.Acquire(ctx, req.Model, req.Speed)
	if err != nil {
		return nil, err
	}
	defer release()

	// An unknown speaker count (0) leaves the index to the runtime.
	if n := eng.NumSpeakers(); n > 0 && req.Speaker >= n {
		return nil, fmt.Errorf("%w: speaker %d out of range for %q (%d speakers)", ErrInvalidParameter, req.Speaker, req.Model, n)
	}

	start := time.Now()
	// Speed is already baked into the engine's length scale.
	out, err := eng.Generate(ctx, req.Text, req.Speaker, 1)
	elapsed := time.Since(start)
	log := observe.Logger(ctx).With("model", req.Model, "speaker", req.Speaker, "speed", req.Speed)
	if err == nil && len(out.Samples) == 0 {
		err = fmt.Errorf("%w: model %q, speaker %d", ErrEmptyOutput, req.Model, req.Speaker)
	}
	if err != nil {
		s.metrics.RecordSynthesis(ctx, req.Model, observe.StatusError, elapsed, 0)
		log.Warn("synthesis failed", "err", err, "elapsed", elapsed)
		return nil, err
	}

	res = &Result{
		Audio:   out,
		Model:   req.Model,
		Speaker: req.Speaker,
		Speed:   req.Speed,
		Peak:    audio.Peak(out.Samples),
		Elapsed: elapsed,
	}
	res.Language, _ = s.resolver.LanguageOf(req.Model)
	s.metrics.RecordSynthesis(ctx, req.Model, observe.StatusOK, elapsed, res.RTF())
	if res.Peak > 1 {
		log.Warn("synthesis output clips", "peak", res.Peak)
	}
	log.Info("synthesis done",
		"samples", len(out.Samples),
		"sample_rate", out.SampleRate,
		"peak", res.Peak,
		"wave_duration", res.Duration(),
		"processing_time", elapsed,
		"rtf", res.RTF(),
	)
	return res, nil
}

func validate(req Request) error {
	var errs []error
	if !voice.ValidSpeed(req.Speed) {
		errs = append(errs, fmt.Errorf("%w: speed %v must be a positive number", ErrInvalidParameter, req.Speed))
	}
	if strings.TrimSpace(req.Text) == "" {
		errs = append(errs, fmt.Errorf("%w: text is empty", ErrInvalidParameter))
	}
	if req.Speaker < 0 {
		errs = append(errs, fmt.Errorf("%w: speaker %d is negative", ErrInvalidParameter, req.Speaker))
	}
	return errors.Join(errs...)
}
