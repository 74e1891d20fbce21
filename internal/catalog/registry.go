package catalog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/ttshub/internal/enginecache"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/voice"
	"github.com/MrWong99/ttshub/pkg/engine"
)

// Constructor builds the engine for a classified plan. [*voice.Builder]
// satisfies it.
type Constructor interface {
	Construct(ctx context.Context, p voice.Plan, speed float64) (engine.Engine, error)
}

// Registry resolves catalog identifiers to engines. A lookup consults the
// engine cache first and falls through to classification and construction
// on a miss.
//
// Registry is safe for concurrent use.
type Registry struct {
	catalog *Catalog
	builder Constructor
	cache   *enginecache.Cache
}

// NewRegistry wires a catalog, a constructor and an engine cache together.
func NewRegistry(c *Catalog, b Constructor, cache *enginecache.Cache) *Registry {
	return &Registry{catalog: c, builder: b, cache: cache}
}

// Catalog returns the backing catalog.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Languages returns the language names in catalog order.
func (r *Registry) Languages() []string { return r.catalog.Languages() }

// ModelsFor returns the identifiers of lang in catalog order.
func (r *Registry) ModelsFor(lang string) ([]string, error) { return r.catalog.ModelsFor(lang) }

// LanguageOf returns the language id is listed under.
func (r *Registry) LanguageOf(id string) (string, bool) { return r.catalog.LanguageOf(id) }

// Resolve returns the engine for (id, speed). Identifiers missing from the
// catalog fail with [voice.ErrUnsupported] before any artifact is fetched.
// Two sequential calls with the same arguments return the same engine while
// it stays cached.
func (r *Registry) Resolve(ctx context.Context, id string, speed float64) (engine.Engine, error) {
	eng, release, err := r.Acquire(ctx, id, speed)
	if err != nil {
		return nil, err
	}
	release()
	return eng, nil
}

// Acquire is like [Registry.Resolve] but pins the engine in the cache until
// release is called.
func (r *Registry) Acquire(ctx context.Context, id string, speed float64) (eng engine.Engine, release func(), err error) {
	ctx, span := observe.StartSpan(ctx, "catalog.Resolve", trace.WithAttributes(
		attribute.String("model", id),
		attribute.Float64("speed", speed),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	plan, err := r.plan(id)
	if err != nil {
		return nil, nil, err
	}
	if !voice.ValidSpeed(speed) {
		return nil, nil, fmt.Errorf("%w: %v", voice.ErrInvalidSpeed, speed)
	}

	key := enginecache.Key{ID: id, Speed: speed}
	return r.cache.Acquire(ctx, key, func(ctx context.Context) (engine.Engine, error) {
		return r.builder.Construct(ctx, plan, speed)
	})
}

// Plan returns the construction plan of a listed identifier.
func (r *Registry) Plan(id string) (voice.Plan, error) { return r.plan(id) }

func (r *Registry) plan(id string) (voice.Plan, error) {
	if !r.catalog.Contains(id) {
		if s, ok := r.catalog.Suggest(id); ok {
			return voice.Plan{}, fmt.Errorf("%w: %q is not in the catalog (did you mean %q?)", voice.ErrUnsupported, id, s)
		}
		return voice.Plan{}, fmt.Errorf("%w: %q is not in the catalog", voice.ErrUnsupported, id)
	}
	return r.catalog.Plan(id)
}
