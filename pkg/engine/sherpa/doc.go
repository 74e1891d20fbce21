// Package sherpa implements [engine.Factory] on top of the sherpa-onnx
// offline VITS runtime.
//
// The runtime is a cgo binding. Builds without cgo get a factory whose New
// always fails with [ErrUnavailable], so that the rest of the service (and
// its tests) still compile and run.
package sherpa

import (
	"errors"

	"github.com/MrWong99/ttshub/pkg/engine"
)

// ErrUnavailable is returned by [Factory.New] when the binary was built
// without the native runtime, or the runtime rejected the configuration.
var ErrUnavailable = errors.New("sherpa: runtime unavailable")

// Default VITS sampling parameters.
const (
	NoiseScale      = 0.667
	NoiseScaleW     = 0.8
	MaxNumSentences = 1
)

// Factory creates sherpa-onnx engines.
type Factory struct{}

// NewFactory returns a sherpa-onnx [engine.Factory].
func NewFactory() *Factory { return &Factory{} }

var _ engine.Factory = (*Factory)(nil)
