// Package app wires the ttshub subsystems into a running application.
//
// New builds the artifact fetch chain (hub plus mirrors), the dictionary
// provisioner, the engine builder and cache, the catalog registry and the
// synthesis service. Run serves HTTP until the context ends, and Shutdown
// closes every cached engine.
//
// For testing, inject doubles via functional options (WithFetcher,
// WithFactory, ...). Without them New creates the real implementations from
// the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/ttshub/internal/catalog"
	"github.com/MrWong99/ttshub/internal/config"
	"github.com/MrWong99/ttshub/internal/enginecache"
	"github.com/MrWong99/ttshub/internal/health"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/resilience"
	"github.com/MrWong99/ttshub/internal/server"
	"github.com/MrWong99/ttshub/internal/synth"
	"github.com/MrWong99/ttshub/internal/voice"
	"github.com/MrWong99/ttshub/pkg/artifact"
	"github.com/MrWong99/ttshub/pkg/engine"
	"github.com/MrWong99/ttshub/pkg/engine/sherpa"
)

// primarySource names the configured hub in the mirror chain.
const primarySource = "hub"

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics

	fetcher  artifact.Fetcher
	mirrors  *resilience.MirrorFetcher
	factory  engine.Factory
	catalog  *catalog.Catalog
	dict     *voice.Provisioner
	builder  *voice.Builder
	cache    *enginecache.Cache
	registry *catalog.Registry
	synth    *synth.Service
	health   *health.Handler

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFetcher injects the artifact fetcher instead of the hub client chain.
func WithFetcher(f artifact.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithFactory injects the engine factory instead of the native runtime.
func WithFactory(f engine.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithCatalog injects the voice catalog instead of loading it from config.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics overrides the metrics instance. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCatalog(); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}
	if err := a.initFetcher(); err != nil {
		return nil, fmt.Errorf("app: init fetcher: %w", err)
	}
	if a.factory == nil {
		if !sherpa.Available {
			slog.Warn("native synthesis runtime not compiled in; engine construction will fail")
		}
		a.factory = sherpa.NewFactory()
	}

	a.dict = voice.NewProvisioner(a.fetcher, artifact.Ref{
		Collection: cfg.Data.DictCollection,
		Filename:   cfg.Data.DictBundle,
	}, cfg.Data.DictDir)
	a.builder = voice.NewBuilder(a.fetcher, a.factory,
		voice.WithPhonemeDataDir(cfg.Data.PhonemeDir),
		voice.WithDictionary(a.dict),
		voice.WithMetrics(a.metrics),
	)

	cache, err := enginecache.New(
		enginecache.WithCapacity(cfg.Cache.Capacity),
		enginecache.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init engine cache: %w", err)
	}
	a.cache = cache
	a.registry = catalog.NewRegistry(a.catalog, a.builder, a.cache)
	a.synth = synth.New(a.registry, synth.WithMetrics(a.metrics))
	a.health = health.New(a.checkers()...)

	slog.Info("app initialised",
		"languages", len(a.catalog.Languages()),
		"voices", a.catalog.Len(),
		"cache_capacity", a.cache.Capacity(),
		"sources", a.sources(),
	)
	return a, nil
}

func (a *App) initCatalog() error {
	if a.catalog != nil {
		return nil
	}
	var err error
	if p := a.cfg.Catalog.Path; p != "" {
		a.catalog, err = catalog.Load(p)
	} else {
		a.catalog, err = catalog.Default()
	}
	return err
}

// initFetcher builds the hub client and, when mirrors are configured, puts
// every source behind a circuit breaker in failover order.
func (a *App) initFetcher() error {
	if a.fetcher != nil {
		return nil
	}
	hc := a.cfg.Hub
	newHub := func(endpoint string) (*artifact.HubFetcher, error) {
		return artifact.NewHubFetcher(hc.CacheDir,
			artifact.WithEndpoint(endpoint),
			artifact.WithRevision(hc.Revision),
			artifact.WithToken(hc.Token),
			artifact.WithTimeout(hc.Timeout),
			artifact.WithMaxRetries(hc.Retries()),
			artifact.WithInitialBackoff(hc.InitialBackoff),
			artifact.WithObserver(a.observeFetch),
		)
	}

	hub, err := newHub(hc.Endpoint)
	if err != nil {
		return err
	}
	if len(hc.Mirrors) == 0 {
		a.fetcher = hub
		return nil
	}

	mf := resilience.NewMirrorFetcher(hub, primarySource, resilience.CircuitBreakerConfig{
		FailureThreshold: hc.Breaker.FailureThreshold,
		Cooldown:         hc.Breaker.Cooldown,
		Probes:           hc.Breaker.Probes,
		OnStateChange: func(source string, _, to resilience.State) {
			a.metrics.RecordSourceTransition(context.Background(), source, to.String())
		},
	})
	for _, m := range hc.Mirrors {
		f, err := newHub(m.Endpoint)
		if err != nil {
			return fmt.Errorf("mirror %q: %w", m.Name, err)
		}
		mf.AddMirror(m.Name, f)
	}
	a.mirrors = mf
	a.fetcher = mf
	return nil
}

func (a *App) observeFetch(ctx context.Context, ref artifact.Ref, outcome artifact.Outcome, elapsed time.Duration) {
	a.metrics.RecordArtifactFetch(ctx, string(outcome), elapsed)
	observe.Logger(ctx).Debug("artifact fetch", "ref", ref.String(), "outcome", outcome, "elapsed", elapsed)
}

func (a *App) sources() []string {
	if a.mirrors != nil {
		return a.mirrors.Sources()
	}
	return []string{primarySource}
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{
		health.DirExists("phoneme_data", a.cfg.Data.PhonemeDir),
		health.DirWritable("artifact_cache", a.cfg.Hub.CacheDir),
	}
	if a.mirrors != nil {
		checks = append(checks, health.Checker{Name: "artifact_sources", Check: a.checkSources})
	}
	return checks
}

// checkSources fails when every source's circuit breaker is open.
func (a *App) checkSources(context.Context) error {
	states := a.mirrors.States()
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return fmt.Errorf("all %d artifact sources are tripped", len(states))
}

// Synth returns the synthesis service.
func (a *App) Synth() *synth.Service { return a.synth }

// Registry returns the engine registry.
func (a *App) Registry() *catalog.Registry { return a.registry }

// Catalog returns the voice catalog.
func (a *App) Catalog() *catalog.Catalog { return a.catalog }

// Health returns the readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Cache returns the engine cache.
func (a *App) Cache() *enginecache.Cache { return a.cache }

// Prefetch downloads every artifact the given voices need, including the
// segmentation dictionary, without constructing engines. At most
// concurrency voices are fetched at once; 0 means unlimited. Unknown
// identifiers fail before anything is fetched.
func (a *App) Prefetch(ctx context.Context, ids []string, concurrency int) error {
	plans := make([]voice.Plan, len(ids))
	for i, id := range ids {
		p, err := a.registry.Plan(id)
		if err != nil {
			return err
		}
		plans[i] = p
	}

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, p := range plans {
		g.Go(func() error {
			if _, err := a.builder.Config(gctx, p, 1); err != nil {
				return err
			}
			observe.Logger(gctx).Info("voice prefetched", "model", p.ID)
			return nil
		})
	}
	return g.Wait()
}

// ApplyConfig applies the parts of a changed configuration that can take
// effect without a restart and logs the rest. It is the callback for
// [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CapacityChanged {
		evicted, err := a.cache.Resize(d.NewCapacity)
		if err != nil {
			slog.Warn("engine cache resize rejected", "capacity", d.NewCapacity, "err", err)
		} else {
			slog.Info("engine cache resized", "capacity", d.NewCapacity, "evicted", evicted)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// Run serves the HTTP API until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := server.New(a.synth,
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithMaxTextLength(a.cfg.Server.MaxTextLength),
	)
	var cert, key string
	if t := a.cfg.Server.TLS; t != nil {
		cert, key = t.CertFile, t.KeyFile
	}
	return srv.ListenAndServe(ctx, a.cfg.Server.ListenAddr, cert, key, a.cfg.Server.ShutdownTimeout)
}

// Shutdown evicts every cached engine. Engines still leased by in-flight
// requests are closed when those requests finish. Shutdown is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "engines", a.cache.Len())
		a.cache.Purge()
		err = ctx.Err()
		slog.Info("shutdown complete")
	})
	return err
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
