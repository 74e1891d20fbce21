package enginecache_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/ttshub/internal/enginecache"
	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/pkg/engine"
	"github.com/MrWong99/ttshub/pkg/engine/mock"
)

// builder counts builds and records the engines it produced.
type builder struct {
	mu      sync.Mutex
	builds  int
	engines []*mock.Engine
}

func (b *builder) fn() enginecache.BuildFunc {
	return func(context.Context) (engine.Engine, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.builds++
		e := &mock.Engine{Audio: engine.Audio{Samples: []float32{0.1}, SampleRate: 16000}}
		b.engines = append(b.engines, e)
		return e, nil
	}
}

func (b *builder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

func newCache(t *testing.T, capacity int) *enginecache.Cache {
	t.Helper()
	c, err := enginecache.New(enginecache.WithCapacity(capacity))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_InvalidCapacity(t *testing.T) {
	t.Parallel()
	if _, err := enginecache.New(enginecache.WithCapacity(0)); err == nil {
		t.Fatal("expected error for capacity 0")
	}
	c, err := enginecache.New()
	if err != nil {
		t.Fatal(err)
	}
	if c.Capacity() != enginecache.DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", c.Capacity(), enginecache.DefaultCapacity)
	}
}

func TestGetOrBuild_Identity(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	b := &builder{}
	key := enginecache.Key{ID: "a", Speed: 1}

	e1, err := c.GetOrBuild(context.Background(), key, b.fn())
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.GetOrBuild(context.Background(), key, b.fn())
	if err != nil {
		t.Fatal(err)
	}
	if e1 != e2 {
		t.Error("sequential lookups returned different engines")
	}
	if b.count() != 1 {
		t.Errorf("builds = %d, want 1", b.count())
	}

	e3, err := c.GetOrBuild(context.Background(), enginecache.Key{ID: "a", Speed: 2}, b.fn())
	if err != nil {
		t.Fatal(err)
	}
	if e3 == e1 {
		t.Error("different speed shared an engine")
	}
	if b.count() != 2 {
		t.Errorf("builds = %d, want 2", b.count())
	}
}

func TestGetOrBuild_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	c := newCache(t, 2)
	b := &builder{}
	ctx := context.Background()
	ka := enginecache.Key{ID: "a", Speed: 1}
	kb := enginecache.Key{ID: "b", Speed: 1}
	kc := enginecache.Key{ID: "c", Speed: 1}

	for _, k := range []enginecache.Key{ka, kb} {
		if _, err := c.GetOrBuild(ctx, k, b.fn()); err != nil {
			t.Fatal(err)
		}
	}
	// Touch a so that b becomes the least recently used.
	if _, err := c.GetOrBuild(ctx, ka, b.fn()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrBuild(ctx, kc, b.fn()); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if got, want := c.Keys(), []enginecache.Key{ka, kc}; !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
	if !b.engines[1].Closed() {
		t.Error("evicted engine b was not closed")
	}
	if b.engines[0].Closed() || b.engines[2].Closed() {
		t.Error("live engine closed")
	}

	// Resolving the evicted key constructs again.
	if _, err := c.GetOrBuild(ctx, kb, b.fn()); err != nil {
		t.Fatal(err)
	}
	if b.count() != 4 {
		t.Errorf("builds = %d, want 4", b.count())
	}
	if c.Contains(ka) {
		t.Error("a should have been evicted by rebuilding b")
	}
}

func TestAcquire_DefersCloseUntilRelease(t *testing.T) {
	t.Parallel()
	c := newCache(t, 1)
	b := &builder{}
	ctx := context.Background()

	eng, release, err := c.Acquire(ctx, enginecache.Key{ID: "a", Speed: 1}, b.fn())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrBuild(ctx, enginecache.Key{ID: "b", Speed: 1}, b.fn()); err != nil {
		t.Fatal(err)
	}

	if b.engines[0].Closed() {
		t.Fatal("leased engine closed on eviction")
	}
	if _, err := eng.Generate(ctx, "hi", 0, 1); err != nil {
		t.Errorf("Generate on leased evicted engine: %v", err)
	}

	release()
	release()
	if !b.engines[0].Closed() {
		t.Error("engine not closed after last release")
	}
	if n := b.engines[0].CloseCalls(); n != 1 {
		t.Errorf("Close called %d times, want 1", n)
	}
	if _, err := eng.Generate(ctx, "hi", 0, 1); !errors.Is(err, enginecache.ErrClosed) {
		t.Errorf("Generate after close = %v, want ErrClosed", err)
	}
}

func TestGetOrBuild_ConcurrentSingleBuild(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	gate := make(chan struct{})
	var builds atomic.Int32
	shared := &mock.Engine{}
	build := func(context.Context) (engine.Engine, error) {
		builds.Add(1)
		<-gate
		return shared, nil
	}

	const callers = 16
	results := make([]engine.Engine, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrBuild(context.Background(), enginecache.Key{ID: "k", Speed: 1}, build)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := builds.Load(); n != 1 {
		t.Errorf("builds = %d, want 1", n)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d observed a different engine", i)
		}
	}
}

func TestGetOrBuild_FailedBuildNotCached(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	boom := errors.New("fetch failed")
	calls := 0
	build := func(context.Context) (engine.Engine, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &mock.Engine{}, nil
	}
	key := enginecache.Key{ID: "a", Speed: 1}

	if _, err := c.GetOrBuild(context.Background(), key, build); !errors.Is(err, boom) {
		t.Fatalf("first call error = %v, want %v", err, boom)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after failed build", c.Len())
	}
	if _, err := c.GetOrBuild(context.Background(), key, build); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("build calls = %d, want 2", calls)
	}
}

func TestGetOrBuild_CancelledBuildNotPublished(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	e := &mock.Engine{}
	build := func(context.Context) (engine.Engine, error) {
		cancel()
		return e, nil
	}

	_, err := c.GetOrBuild(ctx, enginecache.Key{ID: "a", Speed: 1}, build)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, abandoned engine was published", c.Len())
	}
	// The flight finishes asynchronously when the caller leaves first.
	deadline := time.Now().Add(time.Second)
	for !e.Closed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !e.Closed() {
		t.Error("abandoned engine was not closed")
	}
}

func TestGetOrBuild_WaiterRetriesAfterLeaderCancelled(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	started := make(chan struct{})
	var builds atomic.Int32
	build := func(ctx context.Context) (engine.Engine, error) {
		if builds.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &mock.Engine{}, nil
	}
	key := enginecache.Key{ID: "a", Speed: 1}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrBuild(leaderCtx, key, build)
		leaderErr <- err
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrBuild(context.Background(), key, build)
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}
	if err := <-waiterErr; err != nil {
		t.Errorf("waiter error = %v, want success after retry", err)
	}
	if n := builds.Load(); n != 2 {
		t.Errorf("builds = %d, want 2", n)
	}
}

func TestHandle_SerialisesUnsafeEngines(t *testing.T) {
	t.Parallel()
	c := newCache(t, 2)
	var active, peak atomic.Int32
	e := &mock.Engine{GenerateHook: func(context.Context) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
	}}
	eng, err := c.GetOrBuild(context.Background(), enginecache.Key{ID: "a", Speed: 1},
		func(context.Context) (engine.Engine, error) { return e, nil })
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.Generate(context.Background(), "x", 0, 1)
		}()
	}
	wg.Wait()
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent Generate = %d, want 1", p)
	}
	if len(e.Calls()) != 8 {
		t.Errorf("Generate calls = %d, want 8", len(e.Calls()))
	}
	if err := eng.Close(); err != nil || e.Closed() {
		t.Error("Close on a cached engine must not release it")
	}
}

func TestPurge_ClosesAll(t *testing.T) {
	t.Parallel()
	c := newCache(t, 4)
	b := &builder{}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.GetOrBuild(context.Background(), enginecache.Key{ID: id, Speed: 1}, b.fn()); err != nil {
			t.Fatal(err)
		}
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Purge", c.Len())
	}
	for i, e := range b.engines {
		if !e.Closed() {
			t.Errorf("engine %d not closed by Purge", i)
		}
	}
}

func TestCache_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	c, err := enginecache.New(enginecache.WithCapacity(1), enginecache.WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	b := &builder{}
	ctx := context.Background()
	for _, id := range []string{"a", "a", "b"} {
		if _, err := c.GetOrBuild(ctx, enginecache.Key{ID: id, Speed: 1}, b.fn()); err != nil {
			t.Fatal(err)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := met.Name
				if v, ok := dp.Attributes.Value("result"); ok {
					key += "/" + v.AsString()
				}
				got[key] += dp.Value
			}
		}
	}
	want := map[string]int64{
		"ttshub.engine_cache.lookups/hit":  1,
		"ttshub.engine_cache.lookups/miss": 2,
		"ttshub.engine_cache.evictions":    1,
		"ttshub.active_engines":            1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d", k, got[k], v)
		}
	}
}

func TestCache_Resize(t *testing.T) {
	t.Parallel()
	c := newCache(t, 3)
	b := &builder{}
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.GetOrBuild(ctx, enginecache.Key{ID: id, Speed: 1}, b.fn()); err != nil {
			t.Fatal(err)
		}
	}

	evicted, err := c.Resize(1)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if evicted != 2 {
		t.Errorf("evicted = %d, want 2", evicted)
	}
	if c.Capacity() != 1 || c.Len() != 1 {
		t.Errorf("capacity = %d, len = %d, want 1, 1", c.Capacity(), c.Len())
	}
	if !c.Contains(enginecache.Key{ID: "c", Speed: 1}) {
		t.Error("most recently used engine was evicted")
	}
	if !b.engines[0].Closed() || !b.engines[1].Closed() || b.engines[2].Closed() {
		t.Error("Resize closed the wrong engines")
	}

	if _, err := c.Resize(0); err == nil {
		t.Error("expected error for capacity 0")
	}
	if c.Capacity() != 1 {
		t.Errorf("failed Resize changed capacity to %d", c.Capacity())
	}
}
