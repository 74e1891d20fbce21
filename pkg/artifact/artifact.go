// Package artifact resolves named files of a remote model collection to local
// filesystem paths.
//
// A [Fetcher] maps a [Ref] (collection, subfolder, filename) to a path on
// disk, transferring the file from a remote content store on first use and
// serving it from the local cache afterwards. [HubFetcher] is the production
// implementation that speaks the model hub "resolve" URL layout.
//
// Errors are classified with two sentinels:
//
//   - [ErrNotFound]: the collection or file does not exist remotely. Retrying
//     will not help without fixing configuration.
//   - [ErrTransient]: a network or server failure. The caller may retry.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
)

var (
	// ErrNotFound is returned when the remote collection or filename does not exist.
	ErrNotFound = errors.New("artifact: not found")

	// ErrTransient is returned on network or server failures that may succeed
	// on retry.
	ErrTransient = errors.New("artifact: transient failure")

	// ErrInvalidRef is returned when a [Ref] is malformed.
	ErrInvalidRef = errors.New("artifact: invalid reference")
)

// Ref names one artifact inside a remote collection.
type Ref struct {
	// Collection is the remote collection id, e.g. "csukuangfj/vits-ljs".
	Collection string

	// Filename is the file name within Subfolder.
	Filename string

	// Subfolder is the optional folder inside the collection. Empty and "."
	// both mean the collection root.
	Subfolder string
}

// String returns collection/subfolder/filename.
func (r Ref) String() string {
	return path.Join(r.Collection, r.RelPath())
}

// RelPath returns the slash-separated path of the file relative to the
// collection root.
func (r Ref) RelPath() string {
	if r.Subfolder == "" || r.Subfolder == "." {
		return r.Filename
	}
	return path.Join(r.Subfolder, r.Filename)
}

// Validate checks that the reference is well-formed and cannot escape the
// local cache directory.
func (r Ref) Validate() error {
	if r.Collection == "" {
		return fmt.Errorf("%w: empty collection", ErrInvalidRef)
	}
	if r.Filename == "" {
		return fmt.Errorf("%w: empty filename in %q", ErrInvalidRef, r.Collection)
	}
	if !filepath.IsLocal(filepath.FromSlash(r.String())) {
		return fmt.Errorf("%w: %q is not a local path", ErrInvalidRef, r.String())
	}
	return nil
}

// Fetcher resolves artifacts to local paths.
//
// Implementations must be safe for concurrent use. Repeated calls with the
// same Ref return the same path, and concurrent calls for the same Ref must
// not race to corrupt the local copy.
type Fetcher interface {
	Fetch(ctx context.Context, ref Ref) (string, error)
}

// FetcherFunc adapts a plain function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, ref Ref) (string, error)

// Fetch calls f(ctx, ref).
func (f FetcherFunc) Fetch(ctx context.Context, ref Ref) (string, error) { return f(ctx, ref) }

// Outcome classifies the result of one fetch for observers.
type Outcome string

const (
	OutcomeCached     Outcome = "cached"
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeFailed     Outcome = "failed"
)

// outcomeOf maps a fetch error to its [Outcome].
func outcomeOf(err error) Outcome {
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound
	}
	return OutcomeFailed
}
