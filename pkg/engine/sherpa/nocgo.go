//go:build !cgo

package sherpa

import (
	"fmt"

	"github.com/MrWong99/ttshub/pkg/engine"
)

// Available reports whether the native runtime is linked in.
const Available = false

// New always fails: this binary was built without cgo.
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: built without cgo", ErrUnavailable)
}
