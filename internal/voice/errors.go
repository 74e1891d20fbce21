package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when an identifier matches none of the
	// recognised shapes.
	ErrUnsupported = errors.New("voice: unsupported model identifier")

	// ErrMisconfigured is returned when an environment precondition of a
	// construction recipe is not met, such as a missing phoneme data
	// directory. It signals a deployment problem, not a bad request.
	ErrMisconfigured = errors.New("voice: environment misconfigured")

	// ErrConstructionFailed matches every [*BuildError] via errors.Is.
	ErrConstructionFailed = errors.New("voice: construction failed")

	// ErrInvalidSpeed is returned when the speed factor is not a finite
	// positive number.
	ErrInvalidSpeed = errors.New("voice: speed must be a finite positive number")
)

// BuildError reports a failed engine construction. It wraps the underlying
// cause unchanged so callers can still match artifact errors with errors.Is.
type BuildError struct {
	// ID is the identifier whose construction failed.
	ID string

	// Kind is the recipe that was executing.
	Kind Kind

	// Err is the underlying cause.
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("voice: build %s (%s): %v", e.ID, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *BuildError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrConstructionFailed].
func (e *BuildError) Is(target error) bool { return target == ErrConstructionFailed }
