package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/ttshub/pkg/artifact"
)

// MirrorFetcher implements [artifact.Fetcher] over the model hub and any
// number of mirrors. Each source sits behind its own circuit breaker.
//
// [artifact.ErrNotFound] from any source is authoritative: mirrors carry the
// same collections, so failover stops there. Only transient failures move on
// to the next source, and they do not trip a breaker when the caller's
// context ended first.
type MirrorFetcher struct {
	group *FallbackGroup[artifact.Fetcher]
}

var _ artifact.Fetcher = (*MirrorFetcher)(nil)

// NewMirrorFetcher creates a MirrorFetcher with primary as the preferred
// source.
func NewMirrorFetcher(primary artifact.Fetcher, primaryName string, cb CircuitBreakerConfig) *MirrorFetcher {
	cb.IsFailure = isSourceFailure
	return &MirrorFetcher{
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{
			CircuitBreaker: cb,
			Terminal:       isTerminalFetchError,
		}),
	}
}

// AddMirror registers a source tried after all earlier ones.
func (m *MirrorFetcher) AddMirror(name string, f artifact.Fetcher) {
	m.group.AddFallback(name, f)
}

// Sources returns the source names in failover order.
func (m *MirrorFetcher) Sources() []string { return m.group.Names() }

// States returns the breaker state of every source.
func (m *MirrorFetcher) States() map[string]State { return m.group.States() }

// Fetch resolves ref from the first healthy source. When every source
// failed the error wraps [artifact.ErrTransient].
func (m *MirrorFetcher) Fetch(ctx context.Context, ref artifact.Ref) (string, error) {
	path, err := ExecuteWithResult(m.group, func(f artifact.Fetcher) (string, error) {
		return f.Fetch(ctx, ref)
	})
	if err != nil && !isTerminalFetchError(err) && !errors.Is(err, artifact.ErrTransient) {
		err = fmt.Errorf("%w: %w", artifact.ErrTransient, err)
	}
	return path, err
}

func isTerminalFetchError(err error) bool {
	return errors.Is(err, artifact.ErrNotFound) ||
		errors.Is(err, artifact.ErrInvalidRef) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isSourceFailure(err error) bool {
	return !isTerminalFetchError(err)
}
