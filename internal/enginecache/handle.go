package enginecache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/pkg/engine"
)

// Compile-time interface assertion.
var _ engine.Engine = (*handle)(nil)

// handle is the cache's view of one engine. It reference-counts leases and
// serialises Generate for engines that are not safe for concurrent use.
type handle struct {
	key     Key
	eng     engine.Engine
	serial  bool
	metrics *observe.Metrics

	// callMu serialises Generate (when serial) and Close.
	callMu sync.Mutex

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func newHandle(key Key, eng engine.Engine, m *observe.Metrics) *handle {
	return &handle{
		key:     key,
		eng:     eng,
		serial:  !engine.IsConcurrentSafe(eng),
		metrics: m,
	}
}

// acquire takes a lease. It fails only when the engine is already closed.
func (h *handle) acquire() (release func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.refs++
	var once sync.Once
	return func() { once.Do(h.release) }, true
}

func (h *handle) release() {
	h.mu.Lock()
	h.refs--
	closeNow := h.retired && h.refs == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		h.closeEngine()
	}
}

// retire marks the handle as no longer cached and closes the engine if no
// lease is outstanding.
func (h *handle) retire() {
	h.mu.Lock()
	h.retired = true
	closeNow := h.refs == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		h.closeEngine()
	}
}

func (h *handle) closeEngine() {
	h.callMu.Lock()
	defer h.callMu.Unlock()
	if err := h.eng.Close(); err != nil {
		slog.Warn("engine close failed", "key", h.key.String(), "err", err)
	}
	h.metrics.ActiveEngines.Add(context.Background(), -1)
	slog.Debug("engine closed", "key", h.key.String())
}

// Generate forwards to the engine, serialised unless the engine is
// concurrency safe.
func (h *handle) Generate(ctx context.Context, text string, speaker int, speed float64) (engine.Audio, error) {
	if h.serial {
		h.callMu.Lock()
		defer h.callMu.Unlock()
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return engine.Audio{}, ErrClosed
	}
	return h.eng.Generate(ctx, text, speaker, speed)
}

func (h *handle) NumSpeakers() int { return h.eng.NumSpeakers() }

// ConcurrentSafe reports true: the handle itself serialises as needed.
func (h *handle) ConcurrentSafe() bool { return true }

// Close is a no-op. The cache owns the engine and closes it on eviction.
func (h *handle) Close() error { return nil }
