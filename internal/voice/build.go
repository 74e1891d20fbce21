package voice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/pkg/artifact"
	"github.com/MrWong99/ttshub/pkg/engine"
)

// Runtime settings shared by every recipe.
const (
	Provider   = "cpu"
	NumThreads = 2
	Debug      = true
)

// BuilderOption is a functional option for [NewBuilder].
type BuilderOption func(*Builder)

// WithPhonemeDataDir sets the pre-provisioned phoneme data directory
// (espeak-ng-data). Recipes that need it fail with [ErrMisconfigured] when
// it is unset.
func WithPhonemeDataDir(dir string) BuilderOption {
	return func(b *Builder) { b.phonemeDir = dir }
}

// WithDictionary sets the provisioner of the segmentation dictionary.
func WithDictionary(p *Provisioner) BuilderOption {
	return func(b *Builder) { b.dict = p }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

// Builder executes construction plans: it fetches the artifacts a [Plan]
// names, assembles an [engine.Config] and instantiates the engine.
//
// Builder holds no per-plan state and is safe for concurrent use.
type Builder struct {
	fetcher    artifact.Fetcher
	factory    engine.Factory
	phonemeDir string
	dict       *Provisioner
	metrics    *observe.Metrics
}

// NewBuilder returns a Builder fetching through f and instantiating engines
// with factory.
func NewBuilder(f artifact.Fetcher, factory engine.Factory, opts ...BuilderOption) *Builder {
	b := &Builder{fetcher: f, factory: factory}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Config fetches every artifact of p and returns the assembled engine
// configuration for the given speed. Any fetch failure aborts the build and
// is returned wrapped in a [*BuildError]; no partial configuration escapes.
func (b *Builder) Config(ctx context.Context, p Plan, speed float64) (engine.Config, error) {
	if !ValidSpeed(speed) {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	recipe := p.Recipe()
	fail := func(err error) (engine.Config, error) {
		return engine.Config{}, &BuildError{ID: p.ID, Kind: recipe, Err: err}
	}

	if p.ModelFile == "" || recipe == KindUnknown {
		return fail(fmt.Errorf("%w: empty plan", ErrUnsupported))
	}
	if p.NeedsPhonemeData && b.phonemeDir == "" {
		return fail(fmt.Errorf("%w: phoneme data directory is not configured", ErrMisconfigured))
	}
	if p.NeedsDictionary && b.dict == nil {
		return fail(fmt.Errorf("%w: segmentation dictionary is not configured", ErrMisconfigured))
	}

	files := p.Files()
	paths := make([]string, len(files))
	var archive, dictDir string

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range files {
		g.Go(func() error {
			path, err := b.fetcher.Fetch(gctx, artifact.Ref{Collection: p.Collection, Filename: name})
			if err != nil {
				return err
			}
			paths[i] = path
			return nil
		})
	}
	if p.RuleArchive != "" {
		g.Go(func() error {
			path, err := b.fetcher.Fetch(gctx, artifact.Ref{Collection: p.Collection, Filename: p.RuleArchive})
			switch {
			case errors.Is(err, artifact.ErrNotFound):
				return nil
			case err != nil:
				return err
			}
			archive = path
			return nil
		})
	}
	if p.NeedsDictionary {
		g.Go(func() error {
			dir, err := b.dict.Ensure(gctx)
			if err != nil {
				return err
			}
			dictDir = dir
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	cfg := engine.Config{
		Model:       paths[0],
		LengthScale: 1 / speed,
		Provider:    Provider,
		NumThreads:  NumThreads,
		Debug:       Debug,
		NumSpeakers: p.Speakers,
		DictDir:     dictDir,
	}
	rest := paths[1:]
	if p.Lexicon {
		cfg.Lexicon, rest = rest[0], rest[1:]
	}
	cfg.Tokens, rest = rest[0], rest[1:]
	if len(rest) > 0 {
		cfg.RuleFsts = rest
	}
	if archive != "" {
		cfg.RuleFars = []string{archive}
	}
	if p.NeedsPhonemeData {
		cfg.DataDir = b.phonemeDir
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	return cfg, nil
}

// Construct runs [Builder.Config] and instantiates the engine.
func (b *Builder) Construct(ctx context.Context, p Plan, speed float64) (engine.Engine, error) {
	ctx, span := observe.StartSpan(ctx, "voice.Construct", trace.WithAttributes(
		attribute.String("model", p.ID),
		attribute.String("kind", p.Kind.String()),
		attribute.Float64("speed", speed),
	))
	defer span.End()

	start := time.Now()
	eng, err := b.construct(ctx, p, speed)
	elapsed := time.Since(start)
	b.metrics.RecordEngineBuild(ctx, p.Recipe().String(), observe.StatusOf(err), elapsed)

	log := observe.Logger(ctx).With("model", p.ID, "kind", p.Kind.String(), "speed", speed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("engine construction failed", "err", err, "elapsed", elapsed)
		return nil, err
	}
	log.Info("engine constructed", "elapsed", elapsed, "speakers", eng.NumSpeakers())
	return eng, nil
}

func (b *Builder) construct(ctx context.Context, p Plan, speed float64) (engine.Engine, error) {
	cfg, err := b.Config(ctx, p, speed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &BuildError{ID: p.ID, Kind: p.Recipe(), Err: err}
	}
	eng, err := b.factory.New(cfg)
	if err != nil {
		return nil, &BuildError{ID: p.ID, Kind: p.Recipe(), Err: err}
	}
	return eng, nil
}

// ValidSpeed reports whether speed is a finite positive number.
func ValidSpeed(speed float64) bool {
	return speed > 0 && !math.IsInf(speed, 0) && !math.IsNaN(speed)
}
