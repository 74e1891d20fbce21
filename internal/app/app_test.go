package app_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/ttshub/internal/app"
	"github.com/MrWong99/ttshub/internal/config"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/internal/synth"
	"github.com/MrWong99/ttshub/internal/voice"
	artifactmock "github.com/MrWong99/ttshub/pkg/artifact/mock"
	"github.com/MrWong99/ttshub/pkg/engine"
	enginemock "github.com/MrWong99/ttshub/pkg/engine/mock"
)

// testConfig returns a valid config rooted in temporary directories.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Hub:  config.HubConfig{CacheDir: filepath.Join(dir, "hub")},
		Data: config.DataConfig{PhonemeDir: dir},
	}
	cfg.Cache.Capacity = 2
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type fixture struct {
	app     *app.App
	fetcher *artifactmock.Fetcher
	factory *enginemock.Factory
	level   *slog.LevelVar
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	fx := &fixture{
		fetcher: &artifactmock.Fetcher{},
		factory: &enginemock.Factory{Audio: engine.Audio{Samples: make([]float32, 22050), SampleRate: 22050}},
		level:   new(slog.LevelVar),
	}
	a, err := app.New(cfg,
		app.WithFetcher(fx.fetcher),
		app.WithFactory(fx.factory),
		app.WithMetrics(testMetrics(t)),
		app.WithLogLevel(fx.level),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fx.app = a
	return fx
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testConfig(t))

	res, err := fx.app.Synth().Synthesize(context.Background(), synth.Request{
		Model: "csukuangfj/vits-piper-en_US-amy-low", Speed: 1, Text: "hello",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Duration().Seconds() != 1 {
		t.Errorf("duration = %v, want 1s", res.Duration())
	}
	if fx.factory.Created() != 1 {
		t.Errorf("constructions = %d, want 1", fx.factory.Created())
	}
	if got := fx.factory.Configs[0].DataDir; got == "" {
		t.Error("phoneme data directory not passed to the engine")
	}
	if fx.app.Cache().Len() != 1 {
		t.Errorf("cached engines = %d, want 1", fx.app.Cache().Len())
	}
}

func TestNew_InvalidCatalogPath(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := app.New(cfg, app.WithFetcher(&artifactmock.Fetcher{}), app.WithFactory(&enginemock.Factory{})); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestNew_MirrorChain(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Hub.Mirrors = []config.MirrorConfig{{Name: "mirror", Endpoint: "https://hf-mirror.example"}}

	a, err := app.New(cfg, app.WithFactory(&enginemock.Factory{}), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	checks, ok := a.Health().Run(context.Background())
	if !ok {
		t.Errorf("readiness failed: %v", checks)
	}
	if checks["artifact_sources"] != "ok" {
		t.Errorf("artifact_sources = %q", checks["artifact_sources"])
	}
}

func TestHealth_MissingPhonemeData(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Data.PhonemeDir = filepath.Join(t.TempDir(), "espeak-ng-data")
	fx := newFixture(t, cfg)

	checks, ok := fx.app.Health().Run(context.Background())
	if ok {
		t.Fatal("readiness passed without phoneme data")
	}
	if checks["artifact_cache"] != "ok" {
		t.Errorf("artifact_cache = %q", checks["artifact_cache"])
	}
}

func TestPrefetch(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testConfig(t))

	ids := []string{"csukuangfj/vits-piper-en_US-amy-low", "csukuangfj/vits-piper-en_US-lessac-medium"}
	if err := fx.app.Prefetch(context.Background(), ids, 1); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	// model + tokens per voice.
	if n := fx.fetcher.Count(); n != 4 {
		t.Errorf("fetches = %d, want 4", n)
	}
	if fx.factory.Created() != 0 {
		t.Errorf("Prefetch constructed %d engines", fx.factory.Created())
	}
}

func TestPrefetch_UnsupportedFetchesNothing(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testConfig(t))

	err := fx.app.Prefetch(context.Background(), []string{"csukuangfj/vits-ljs", "someone/else"}, 0)
	if !errors.Is(err, voice.ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
	if n := fx.fetcher.Count(); n != 0 {
		t.Errorf("fetched %d artifacts", n)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	fx := newFixture(t, cfg)
	ctx := context.Background()

	for _, id := range []string{"csukuangfj/vits-piper-en_US-amy-low", "csukuangfj/vits-ljs"} {
		if _, err := fx.app.Registry().Resolve(ctx, id, 1); err != nil {
			t.Fatal(err)
		}
	}

	updated := *cfg
	updated.Server.LogLevel = config.LogDebug
	updated.Cache.Capacity = 1
	fx.app.ApplyConfig(cfg, &updated)

	if fx.level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", fx.level.Level())
	}
	if fx.app.Cache().Capacity() != 1 || fx.app.Cache().Len() != 1 {
		t.Errorf("cache capacity = %d, len = %d", fx.app.Cache().Capacity(), fx.app.Cache().Len())
	}
	if !fx.factory.Engines[0].Closed() {
		t.Error("evicted engine not closed")
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, testConfig(t))
	ctx := context.Background()
	if _, err := fx.app.Registry().Resolve(ctx, "csukuangfj/vits-ljs", 1); err != nil {
		t.Fatal(err)
	}

	if err := fx.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !fx.factory.Engines[0].Closed() {
		t.Error("engine not closed on shutdown")
	}
	if err := fx.app.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if n := fx.factory.Engines[0].CloseCalls(); n != 1 {
		t.Errorf("Close calls = %d, want 1", n)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
