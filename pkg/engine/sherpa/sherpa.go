//go:build cgo

package sherpa

import (
	"context"
	"fmt"
	"sync"

	sherpaonnx "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/MrWong99/ttshub/pkg/engine"
)

// Available reports whether the native runtime is linked in.
const Available = true

// New validates cfg and loads the model into a new runtime instance.
func (f *Factory) New(cfg engine.Config) (engine.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := runtimeConfig(cfg)
	tts := sherpaonnx.NewOfflineTts(&c)
	if tts == nil {
		return nil, fmt.Errorf("%w: could not load %q", ErrUnavailable, cfg.Model)
	}
	speakers := tts.NumSpeakers()
	if speakers <= 0 {
		speakers = cfg.NumSpeakers
	}
	return &Engine{tts: tts, speakers: speakers}, nil
}

func runtimeConfig(cfg engine.Config) sherpaonnx.OfflineTtsConfig {
	c := sherpaonnx.OfflineTtsConfig{
		RuleFsts:        cfg.RuleFstList(),
		RuleFars:        cfg.RuleFarList(),
		MaxNumSentences: MaxNumSentences,
	}
	c.Model.Vits.Model = cfg.Model
	c.Model.Vits.Lexicon = cfg.Lexicon
	c.Model.Vits.Tokens = cfg.Tokens
	c.Model.Vits.DataDir = cfg.DataDir
	c.Model.Vits.DictDir = cfg.DictDir
	c.Model.Vits.NoiseScale = NoiseScale
	c.Model.Vits.NoiseScaleW = NoiseScaleW
	c.Model.Vits.LengthScale = float32(cfg.LengthScale)
	c.Model.NumThreads = cfg.NumThreads
	c.Model.Provider = cfg.Provider
	if cfg.Debug {
		c.Model.Debug = 1
	}
	return c
}

// Engine is one loaded sherpa-onnx model. It does not implement
// [engine.ConcurrentSafe]; callers serialize Generate.
type Engine struct {
	mu       sync.Mutex
	tts      *sherpaonnx.OfflineTts
	speakers int
}

// Generate runs the model. The runtime call itself cannot be interrupted,
// so ctx is only checked before it starts.
func (e *Engine) Generate(ctx context.Context, text string, speaker int, speed float64) (engine.Audio, error) {
	if err := ctx.Err(); err != nil {
		return engine.Audio{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tts == nil {
		return engine.Audio{}, fmt.Errorf("sherpa: engine closed")
	}
	out := e.tts.Generate(text, speaker, float32(speed))
	if out == nil {
		return engine.Audio{}, nil
	}
	return engine.Audio{Samples: out.Samples, SampleRate: out.SampleRate}, nil
}

// NumSpeakers returns the speaker count reported by the model.
func (e *Engine) NumSpeakers() int { return e.speakers }

// Close frees the native model. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tts != nil {
		sherpaonnx.DeleteOfflineTts(e.tts)
		e.tts = nil
	}
	return nil
}
