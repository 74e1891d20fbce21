// Package mock provides a test double for the artifact.Fetcher interface.
//
// The mock never touches the network or the filesystem. It answers every
// Fetch with a deterministic path under Root and records the request.
package mock

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/MrWong99/ttshub/pkg/artifact"
)

// Fetcher is a mock implementation of artifact.Fetcher.
type Fetcher struct {
	mu sync.Mutex

	// Root prefixes every returned path. Defaults to "/cache".
	Root string

	// Missing lists refs (by Ref.String) answered with artifact.ErrNotFound.
	Missing map[string]bool

	// Err, if non-nil, is returned by every Fetch not listed in Missing.
	Err error

	// Hook, if set, runs before the answer is computed. A non-nil return
	// value is returned as the Fetch error.
	Hook func(ctx context.Context, ref artifact.Ref) error

	// FetchCalls records every Fetch call in order.
	FetchCalls []artifact.Ref
}

// Fetch records ref and returns Root/ref or the configured error.
func (f *Fetcher) Fetch(ctx context.Context, ref artifact.Ref) (string, error) {
	f.mu.Lock()
	f.FetchCalls = append(f.FetchCalls, ref)
	hook := f.Hook
	missing := f.Missing[ref.String()]
	err := f.Err
	root := f.Root
	f.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, ref); herr != nil {
			return "", herr
		}
	}
	if missing {
		return "", fmt.Errorf("%w: %s", artifact.ErrNotFound, ref)
	}
	if err != nil {
		return "", err
	}
	if root == "" {
		root = "/cache"
	}
	return path.Join(root, ref.String()), nil
}

// Count returns the number of Fetch calls so far.
func (f *Fetcher) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.FetchCalls)
}

// Calls returns a copy of the recorded refs.
func (f *Fetcher) Calls() []artifact.Ref {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]artifact.Ref, len(f.FetchCalls))
	copy(out, f.FetchCalls)
	return out
}

// Filenames returns the Filename of every recorded call in order.
func (f *Fetcher) Filenames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.FetchCalls))
	for i, r := range f.FetchCalls {
		out[i] = r.Filename
	}
	return out
}

// Reset clears the recorded calls.
func (f *Fetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls = nil
}

var _ artifact.Fetcher = (*Fetcher)(nil)
